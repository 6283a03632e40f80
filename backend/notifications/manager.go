// Package notifications persists and fans out user-facing alerts —
// risk incidents, fills, and rejections surfaced outside the raw
// execution event stream.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/alexherrero/sherwood/backend/data"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/alexherrero/sherwood/backend/realtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager handles the lifecycle of system notifications.
type Manager struct {
	store   data.NotificationStore
	realtime *realtime.Manager
}

// NewManager creates a new notification manager. realtime may be nil, in
// which case notifications are persisted but not pushed live.
func NewManager(store data.NotificationStore, rt *realtime.Manager) *Manager {
	return &Manager{store: store, realtime: rt}
}

// Send creates, persists, and broadcasts a notification to accountID's
// "user:{accountID}" topic.
func (m *Manager) Send(ctx context.Context, accountID string, notifType models.NotificationType, title, message string, metadata map[string]interface{}) (string, error) {
	id := uuid.New().String()

	n := models.Notification{
		ID:        id,
		Type:      notifType,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
		IsRead:    false,
		Metadata:  metadata,
	}

	if err := m.store.SaveNotification(n); err != nil {
		log.Error().Err(err).Msg("failed to persist notification")
		return "", fmt.Errorf("failed to save: %w", err)
	}

	if m.realtime != nil {
		m.realtime.Broadcast(ctx, fmt.Sprintf("%s:%s", realtime.TopicUser, accountID), n)
	}

	return id, nil
}

// GetHistory retrieves recent notifications.
func (m *Manager) GetHistory(limit, offset int) ([]models.Notification, error) {
	return m.store.GetNotifications(limit, offset)
}

// MarkAsRead marks a notification as read.
func (m *Manager) MarkAsRead(id string) error {
	return m.store.MarkAsRead(id)
}

// MarkAllAsRead marks all notifications as read.
func (m *Manager) MarkAllAsRead() error {
	return m.store.MarkAllAsRead()
}

func (m *Manager) Info(ctx context.Context, accountID, title, message string) {
	m.Send(ctx, accountID, models.NotificationInfo, title, message, nil)
}

func (m *Manager) Warning(ctx context.Context, accountID, title, message string) {
	m.Send(ctx, accountID, models.NotificationWarning, title, message, nil)
}

func (m *Manager) Error(ctx context.Context, accountID, title, message string) {
	m.Send(ctx, accountID, models.NotificationError, title, message, nil)
}
