package handlers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubelens/kubelens/pkg/models"
)

func setupNotificationEnv(t *testing.T) *testEnv {
	t.Helper()
	env := setupTestEnv(t)
	h := NewNotificationHandler(env.Store)
	env.App.Get("/api/notifications", h.GetNotifications)
	env.App.Get("/api/notifications/unread-count", h.GetUnreadCount)
	env.App.Post("/api/notifications/read-all", h.MarkAllNotificationsRead)
	env.App.Post("/api/notifications/:id/read", h.MarkNotificationRead)
	return env
}

func unreadCount(t *testing.T, env *testEnv) int {
	t.Helper()
	resp := env.do(t, http.MethodGet, "/api/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Count int `json:"count"`
	}
	decode(t, resp, &body)
	return body.Count
}

func TestNotifications(t *testing.T) {
	env := setupNotificationEnv(t)
	env.Toaster.Success(env.User.ID, "Scaled web", "Scaled alpha/deployments/default/web: 3 replicas", "alpha/deployments/default/web")
	env.Toaster.Error(env.User.ID, "Failed to delete db", "forbidden", "alpha/statefulsets/default/db")

	other := env.addUser(t, "bob", models.UserRoleEditor)
	env.Toaster.Info(other.ID, "Hello", "not for alice", "")

	resp := env.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Notification
	decode(t, resp, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "Failed to delete db", list[0].Title, "newest first")
	assert.Equal(t, 2, unreadCount(t, env))

	resp = env.do(t, http.MethodPost, "/api/notifications/"+list[0].ID.String()+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, unreadCount(t, env))

	resp = env.do(t, http.MethodPost, "/api/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, unreadCount(t, env))

	t.Run("limit", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/notifications?limit=1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list []models.Notification
		decode(t, resp, &list)
		assert.Len(t, list, 1)
	})
}

func TestNotifications_Empty(t *testing.T) {
	env := setupNotificationEnv(t)

	resp := env.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", readBody(t, resp))
}

func TestMarkNotificationRead_Errors(t *testing.T) {
	env := setupNotificationEnv(t)
	other := env.addUser(t, "bob", models.UserRoleEditor)
	theirs := env.Toaster.Info(other.ID, "Hello", "for bob", "")

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"invalid id", "not-a-uuid", http.StatusBadRequest},
		{"unknown id", uuid.NewString(), http.StatusNotFound},
		{"another user's notification", theirs.ID.String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/notifications/"+tt.id+"/read", nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
