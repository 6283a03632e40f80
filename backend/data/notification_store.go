package data

import (
	"context"
	"fmt"
	"time"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/alexherrero/sherwood/backend/risk"
	"github.com/google/uuid"
)

// NotificationStore provides persistence for fan-out notifications,
// including the risk.Notifier feed the risk engine writes incidents to.
type NotificationStore interface {
	SaveNotification(n models.Notification) error
	GetNotifications(limit, offset int) ([]models.Notification, error)
	MarkAsRead(id string) error
	MarkAllAsRead() error
	DeleteOlderThan(d time.Duration) error
}

// SQLNotificationStore implements NotificationStore and risk.Notifier using
// SQLite.
type SQLNotificationStore struct {
	db *DB
}

// NewNotificationStore creates a new SQL-based notification store.
func NewNotificationStore(db *DB) *SQLNotificationStore {
	return &SQLNotificationStore{db: db}
}

var _ risk.Notifier = (*SQLNotificationStore)(nil)

// Notify implements risk.Notifier: a risk incident becomes a user-facing
// warning or error notification depending on its action.
func (s *SQLNotificationStore) Notify(ctx context.Context, incident models.RiskIncident) error {
	notifType := models.NotificationWarning
	if incident.ActionTaken == models.RiskActionKillSwitch {
		notifType = models.NotificationError
	}
	n := models.Notification{
		ID:        uuid.New().String(),
		Type:      notifType,
		Title:     fmt.Sprintf("Risk: %s", incident.ActionTaken),
		Message:   fmt.Sprintf("rule=%s observed=%s threshold=%s account=%s", incident.RuleType, incident.Observed, incident.Threshold, incident.AccountID),
		CreatedAt: incident.Timestamp,
		Metadata: map[string]interface{}{
			"rule_type":    incident.RuleType,
			"account_id":   incident.AccountID,
			"triggered_by": incident.TriggeredBy,
		},
	}
	return s.SaveNotification(n)
}

// SaveNotification persists a notification.
func (s *SQLNotificationStore) SaveNotification(n models.Notification) error {
	if err := n.PrepareForSave(); err != nil {
		return fmt.Errorf("metadata serialization failed: %w", err)
	}

	query := `
		INSERT INTO notifications (id, type, title, message, created_at, is_read, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, n.ID, n.Type, n.Title, n.Message, n.CreatedAt, n.IsRead, n.MetadataJSON)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// GetNotifications returns recent notifications ordered by time descending.
func (s *SQLNotificationStore) GetNotifications(limit, offset int) ([]models.Notification, error) {
	var notifications []models.Notification
	query := `
		SELECT id, type, title, message, created_at, is_read, metadata
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	err := s.db.Select(&notifications, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	for i := range notifications {
		_ = notifications[i].PostLoad()
	}

	return notifications, nil
}

// MarkAsRead marks a single notification as read.
func (s *SQLNotificationStore) MarkAsRead(id string) error {
	query := `UPDATE notifications SET is_read = TRUE WHERE id = ?`
	_, err := s.db.Exec(query, id)
	return err
}

// MarkAllAsRead marks all notifications as read.
func (s *SQLNotificationStore) MarkAllAsRead() error {
	query := `UPDATE notifications SET is_read = TRUE WHERE is_read = FALSE`
	_, err := s.db.Exec(query)
	return err
}

// DeleteOlderThan deletes notifications older than duration.
func (s *SQLNotificationStore) DeleteOlderThan(d time.Duration) error {
	cutoff := time.Now().Add(-d)
	query := `DELETE FROM notifications WHERE created_at < ?`
	_, err := s.db.Exec(query, cutoff)
	return err
}
