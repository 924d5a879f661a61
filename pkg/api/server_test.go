package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/store"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Port:           8080,
		DatabasePath:   filepath.Join(dir, "kubelens.db"),
		JWTSecret:      "server-test-secret",
		FrontendURL:    "http://localhost:5173",
		BackendURL:     "http://localhost:8080",
		Kubeconfig:     filepath.Join(dir, "missing-kubeconfig"),
		PollInterval:   time.Second,
		ClusterTimeout: time.Second,
		AdminUsername:  "admin",
		AdminPassword:  "hunter2",
		DefaultRole:    models.UserRoleViewer,
		LogOutput:      io.Discard,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig(t)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"database path", func(c *Config) { c.DatabasePath = "" }},
		{"jwt secret", func(c *Config) { c.JWTSecret = "" }},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"cluster timeout", func(c *Config) { c.ClusterTimeout = -time.Second }},
		{"default role", func(c *Config) { c.DefaultRole = "root" }},
		{"admin without username", func(c *Config) { c.AdminUsername = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env file

	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("CLUSTER_TIMEOUT", "not-a-duration")
	t.Setenv("DEFAULT_ROLE", "editor")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.ClusterTimeout, "invalid values fall back to the default")
	assert.Equal(t, models.UserRoleEditor, cfg.DefaultRole)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.Equal(t, "./data/kubelens.db", cfg.DatabasePath)
	assert.NoError(t, cfg.Validate())
}

func TestCustomErrorHandler(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"fiber error", fiber.NewError(fiber.StatusTeapot, "short and stout"), fiber.StatusTeapot, "short and stout"},
		{"unknown kind", fmt.Errorf("%w: widgets", k8s.ErrUnknownKind), fiber.StatusNotFound, ""},
		{"unknown cluster", fmt.Errorf("%w: \"x\"", k8s.ErrUnknownCluster), fiber.StatusNotFound, ""},
		{"not found", apierrors.NewNotFound(gr, "web"), fiber.StatusNotFound, ""},
		{"conflict", apierrors.NewConflict(gr, "web", errors.New("stale")), fiber.StatusConflict, ""},
		{"forbidden", apierrors.NewForbidden(gr, "web", errors.New("rbac")), fiber.StatusForbidden, ""},
		{"invalid", apierrors.NewInvalid(schema.GroupKind{Group: "apps", Kind: "Deployment"}, "web", nil), fiber.StatusUnprocessableEntity, ""},
		{"bad request", apierrors.NewBadRequest("nope"), fiber.StatusBadRequest, ""},
		{"invalid input", fmt.Errorf("%w: empty", k8s.ErrInvalidInput), fiber.StatusBadRequest, ""},
		{"not scalable", k8s.ErrNotScalable, fiber.StatusMethodNotAllowed, ""},
		{"not restartable", k8s.ErrNotRestartable, fiber.StatusMethodNotAllowed, ""},
		{"unavailable", apierrors.NewServiceUnavailable("down"), fiber.StatusServiceUnavailable, ""},
		{"store not found", store.ErrNotFound, fiber.StatusNotFound, ""},
		{"unmapped", errors.New("secret detail"), fiber.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: customErrorHandler})
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			req, _ := http.NewRequest(http.MethodGet, "/", nil)
			resp, err := app.Test(req, 5000)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			want := tt.message
			if want == "" {
				want = tt.err.Error()
			}
			assert.Equal(t, want, body["error"])
		})
	}
}

func TestServer_SeedsAdminAndSignsIn(t *testing.T) {
	s := newTestServer(t)

	payload, _ := json.Marshal(models.SignInRequest{Username: "admin", Password: "hunter2"})
	req, _ := http.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var auth models.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))
	assert.Equal(t, models.UserRoleAdmin, auth.User.Role)

	req, _ = http.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+auth.Token)
	resp, err = s.App().Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// seeding is skipped once users exist
	require.NoError(t, s.seedAdmin())
	count, err := s.store.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServer_PublicAndProtectedRoutes(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/api/clusters", "/api/resources/pods", "/api/notifications"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		resp, err := s.App().Test(req, 5000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	req, _ = http.NewRequest(http.MethodGet, "/ws", nil)
	resp, err = s.App().Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	_, err := s.App().Test(req, 5000)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))

	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kubelens_http_requests_total")
}

func TestGitHubLoginDisabledOutsideDevMode(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/auth/github", nil)
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))

	users, err := s.store.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 1, users, "only the seeded admin exists")
}
