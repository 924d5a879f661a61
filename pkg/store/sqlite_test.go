package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubelens/kubelens/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kubelens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *SQLiteStore, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(u))
	return u
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	count, err := s.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	u := createUser(t, s, "alice")
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, models.UserRoleViewer, u.Role, "role defaults to viewer")

	got, err := s.GetUserByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Nil(t, got.LastLogin)

	missing, err := s.GetUserByUsername("bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.Role = models.UserRoleAdmin
	got.GitHubID = "42"
	require.NoError(t, s.UpdateUser(got))
	byGitHub, err := s.GetUserByGitHubID("42")
	require.NoError(t, err)
	require.NotNil(t, byGitHub)
	assert.Equal(t, models.UserRoleAdmin, byGitHub.Role)

	require.NoError(t, s.UpdateLastLogin(u.ID))
	got, err = s.GetUser(u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.WithinDuration(t, time.Now(), *got.LastLogin, time.Minute)

	// usernames are unique
	assert.Error(t, s.CreateUser(&models.User{Username: "alice"}))

	createUser(t, s, "carol")
	users, err := s.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)

	err = s.UpdateUser(&models.User{ID: uuid.New(), Username: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s, "alice")

	sess := &models.Session{UserID: u.ID, UserAgent: "kubelensctl", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateSession(sess))

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "kubelensctl", got.UserAgent)
	assert.True(t, got.Active(time.Now()))

	require.NoError(t, s.RevokeSession(sess.ID))
	got, err = s.GetSession(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.False(t, got.Active(time.Now()))

	missing, err := s.GetSession(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRevokeUserSessions(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s, "alice")

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		sess := &models.Session{UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, s.CreateSession(sess))
		ids = append(ids, sess.ID)
	}

	require.NoError(t, s.RevokeUserSessions(u.ID))
	for _, id := range ids {
		got, err := s.GetSession(id)
		require.NoError(t, err)
		assert.NotNil(t, got.RevokedAt)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s, "alice")

	expired := &models.Session{UserID: u.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	live := &models.Session{UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateSession(expired))
	require.NoError(t, s.CreateSession(live))

	n, err := s.DeleteExpiredSessions(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetSession(expired.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetSession(live.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s, "alice")

	prefs, err := s.GetPreferences(u.ID)
	require.NoError(t, err)
	assert.Empty(t, prefs.SelectedClusters)
	assert.NotNil(t, prefs.SelectedClusters)
	assert.Equal(t, 0, prefs.PageSize)

	require.NoError(t, s.SavePreferences(&models.Preferences{
		UserID:           u.ID,
		SelectedClusters: []string{"prod", "staging"},
		Namespace:        "default",
		PageSize:         50,
	}))
	require.NoError(t, s.SavePreferences(&models.Preferences{
		UserID:           u.ID,
		SelectedClusters: []string{"prod"},
		Namespace:        "kube-system",
		PageSize:         100,
	}))

	prefs, err = s.GetPreferences(u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod"}, prefs.SelectedClusters)
	assert.Equal(t, "kube-system", prefs.Namespace)
	assert.Equal(t, 100, prefs.PageSize)
	assert.False(t, prefs.UpdatedAt.IsZero())
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)
	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, s.CreateNotification(&models.Notification{
			UserID:           alice.ID,
			NotificationType: models.NotificationSuccess,
			Title:            title,
			Message:          title + " done",
			Resource:         "prod/default/deployments/web",
		}))
	}

	list, err := s.GetUserNotifications(alice.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Title, "newest first")
	assert.Equal(t, "prod/default/deployments/web", list[0].Resource)

	unread, err := s.GetUnreadNotificationCount(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	// bob cannot mark alice's notification
	assert.ErrorIs(t, s.MarkNotificationRead(bob.ID, list[0].ID), ErrNotFound)

	require.NoError(t, s.MarkNotificationRead(alice.ID, list[0].ID))
	unread, err = s.GetUnreadNotificationCount(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	require.NoError(t, s.MarkAllNotificationsRead(alice.ID))
	unread, err = s.GetUnreadNotificationCount(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	empty, err := s.GetUserNotifications(bob.ID, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
