package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved      []models.Notification
	readIDs    map[string]bool
	allRead    bool
	saveErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{readIDs: map[string]bool{}}
}

func (f *fakeStore) SaveNotification(n models.Notification) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, n)
	return nil
}

func (f *fakeStore) GetNotifications(limit, offset int) ([]models.Notification, error) {
	return f.saved, nil
}

func (f *fakeStore) MarkAsRead(id string) error {
	f.readIDs[id] = true
	return nil
}

func (f *fakeStore) MarkAllAsRead() error {
	f.allRead = true
	return nil
}

func (f *fakeStore) DeleteOlderThan(d time.Duration) error {
	return nil
}

func TestManager_SendPersistsWithoutRealtime(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, nil)

	id, err := m.Send(context.Background(), "acct-1", models.NotificationInfo, "title", "message", map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, store.saved, 1)
	require.Equal(t, id, store.saved[0].ID)
	require.Equal(t, "title", store.saved[0].Title)
	require.False(t, store.saved[0].IsRead)
}

func TestManager_SendPropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.saveErr = context.DeadlineExceeded
	m := NewManager(store, nil)

	_, err := m.Send(context.Background(), "acct-1", models.NotificationInfo, "title", "message", nil)
	require.Error(t, err)
}

func TestManager_InfoWarningErrorSetSeverity(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, nil)

	m.Info(context.Background(), "acct-1", "info-title", "info-msg")
	m.Warning(context.Background(), "acct-1", "warn-title", "warn-msg")
	m.Error(context.Background(), "acct-1", "err-title", "err-msg")

	require.Len(t, store.saved, 3)
	require.Equal(t, models.NotificationInfo, store.saved[0].Type)
	require.Equal(t, models.NotificationWarning, store.saved[1].Type)
	require.Equal(t, models.NotificationError, store.saved[2].Type)
}

func TestManager_GetHistoryAndMarkRead(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, nil)

	id, err := m.Send(context.Background(), "acct-1", models.NotificationInfo, "t", "m", nil)
	require.NoError(t, err)

	history, err := m.GetHistory(10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	require.NoError(t, m.MarkAsRead(id))
	require.True(t, store.readIDs[id])

	require.NoError(t, m.MarkAllAsRead())
	require.True(t, store.allRead)
}
