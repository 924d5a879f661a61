package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/api/handlers"
	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/notify"
	"github.com/kubelens/kubelens/pkg/observability"
	"github.com/kubelens/kubelens/pkg/poller"
	"github.com/kubelens/kubelens/pkg/store"
)

const (
	devJWTSecret           = "dev-secret-kubelens"
	sessionCleanupInterval = time.Hour
)

// Config holds server configuration
type Config struct {
	Port           int
	DevMode        bool
	DatabasePath   string
	GitHubClientID string
	GitHubSecret   string
	JWTSecret      string
	FrontendURL    string
	BackendURL     string
	Kubeconfig     string
	// Static UI bundle served at / when set
	WebDir string
	// Dev mode user settings (used when GitHub OAuth not configured)
	DevUserLogin string
	DevUserEmail string

	PollInterval   time.Duration
	ClusterTimeout time.Duration

	// Local account created on first start when the user table is empty
	AdminUsername string
	AdminPassword string
	DefaultRole   models.UserRole

	LogLevel  string
	LogFormat string
	LogFile   string
	// LogOutput receives the HTTP access log, os.Stdout when nil
	LogOutput io.Writer
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must not be empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.ClusterTimeout <= 0 {
		errs = append(errs, errors.New("CLUSTER_TIMEOUT must be positive"))
	}
	switch c.DefaultRole {
	case models.UserRoleAdmin, models.UserRoleEditor, models.UserRoleViewer:
	default:
		errs = append(errs, fmt.Errorf("unknown DEFAULT_ROLE %q", c.DefaultRole))
	}
	if c.AdminPassword != "" && c.AdminUsername == "" {
		errs = append(errs, errors.New("ADMIN_USERNAME is required with ADMIN_PASSWORD"))
	}
	return errors.Join(errs...)
}

// Server represents the API server
type Server struct {
	app       *fiber.App
	store     store.Store
	config    Config
	hub       *handlers.Hub
	k8sClient *k8s.MultiClusterClient
	poller    *handlers.ResourcePoller
	toaster   *notify.Toaster
	metrics   *observability.Metrics
	auth      *handlers.AuthHandler
	logger    *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new API server
func NewServer(cfg Config) (*Server, error) {
	log := slog.Default().With("component", "server")

	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		ReadBufferSize:        16384, // OAuth tokens make for large headers
		DisableStartupMessage: true,
	})

	// WebSocket hub for real-time updates
	hub := handlers.NewHub(cfg.JWTSecret, metrics)
	go hub.Run()

	toaster := notify.NewToaster(db, hub, metrics)
	toaster.SetErrorMessage(handlers.ErrorMessage)

	var resourcePoller *handlers.ResourcePoller
	resourcePoller = poller.New(poller.Options[aggregate.Result[models.Object]]{
		Interval: cfg.PollInterval,
		Logger:   slog.Default().With("component", "poller"),
		OnUpdate: func(snap poller.Snapshot[aggregate.Result[models.Object]]) {
			metrics.ObservePoll(snap.Err)
			metrics.PollerQueries.Set(float64(len(resourcePoller.Keys())))
			if snap.Err != nil {
				return
			}
			hub.BroadcastAll(handlers.Message{
				Type: handlers.MessageResourcesUpdated,
				Data: map[string]string{"key": snap.Key},
			})
		},
	})

	// Initialize Kubernetes multi-cluster client
	k8sClient, err := k8s.NewMultiClusterClient(cfg.Kubeconfig)
	if err != nil {
		log.Warn("failed to create k8s client", "error", err)
		k8sClient = nil
	} else {
		k8sClient.SetFetchObserver(metrics)
		k8sClient.SetClusterTimeout(cfg.ClusterTimeout)
		if err := k8sClient.LoadConfig(); err != nil {
			log.Warn("failed to load kubeconfig", "error", err)
		} else {
			log.Info("kubernetes client initialized")
			go k8sClient.WarmupHealthCache()
		}

		// Notify the UI and drop cached lists when the kubeconfig changes
		k8sClient.SetOnReload(func() {
			dropped := resourcePoller.Invalidate("resources/")
			hub.BroadcastAll(handlers.Message{
				Type: handlers.MessageKubeconfigChanged,
				Data: map[string]string{"message": "Kubeconfig updated"},
			})
			log.Info("kubeconfig reloaded", "invalidatedQueries", dropped)
		})
		if err := k8sClient.StartWatching(); err != nil {
			log.Warn("failed to start kubeconfig watcher", "error", err)
		}
	}

	server := &Server{
		app:         app,
		store:       db,
		config:      cfg,
		hub:         hub,
		k8sClient:   k8sClient,
		poller:      resourcePoller,
		toaster:     toaster,
		metrics:     metrics,
		logger:      log,
		stopCleanup: make(chan struct{}),
	}

	server.auth = handlers.NewAuthHandler(db, handlers.AuthConfig{
		GitHubClientID: cfg.GitHubClientID,
		GitHubSecret:   cfg.GitHubSecret,
		JWTSecret:      cfg.JWTSecret,
		FrontendURL:    cfg.FrontendURL,
		BackendURL:     cfg.BackendURL,
		DevUserLogin:   cfg.DevUserLogin,
		DevUserEmail:   cfg.DevUserEmail,
		DevMode:        cfg.DevMode,
		DefaultRole:    cfg.DefaultRole,
	})

	if err := server.seedAdmin(); err != nil {
		db.Close()
		return nil, err
	}
	if !cfg.DevMode && cfg.JWTSecret == devJWTSecret {
		log.Warn("JWT_SECRET is not set, using the development secret")
	}

	server.setupMiddleware()
	server.setupRoutes()
	go server.cleanupSessions()

	return server, nil
}

// seedAdmin creates the configured local admin account on an empty database.
func (s *Server) seedAdmin() error {
	if s.config.AdminPassword == "" {
		return nil
	}
	count, err := s.store.CountUsers()
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := handlers.HashPassword(s.config.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	admin := &models.User{
		ID:           uuid.New(),
		Username:     s.config.AdminUsername,
		PasswordHash: hash,
		Role:         models.UserRoleAdmin,
	}
	if err := s.store.CreateUser(admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	s.logger.Info("created admin user", "username", admin.Username)
	return nil
}

// cleanupSessions deletes expired sessions until Shutdown.
func (s *Server) cleanupSessions() {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(time.Now())
			if err != nil {
				s.logger.Warn("session cleanup failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("deleted expired sessions", "count", n)
			}
		}
	}
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())

	out := s.config.LogOutput
	if out == nil {
		out = os.Stdout
	}
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		Output:     out,
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: true,
	}))

	s.app.Use(s.requestMetrics)
}

// requestMetrics records every request against its route pattern.
func (s *Server) requestMetrics(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = handlers.StatusFor(err)
	}
	route := "unmatched"
	if r := c.Route(); r != nil && r.Path != "/" {
		route = r.Path
	}
	s.metrics.ObserveRequest(c.Method(), route, status, time.Since(start))
	return err
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	// Auth routes (public)
	s.app.Post("/auth/signin", s.auth.SignIn)
	s.app.Post("/auth/signout", s.auth.SignOut)
	s.app.Post("/auth/refresh", s.auth.RefreshToken)
	s.app.Get("/auth/github", s.auth.GitHubLogin)
	s.app.Get("/auth/github/callback", s.auth.GitHubCallback)

	// API routes (protected)
	api := s.app.Group("/api", middleware.JWTAuth(s.config.JWTSecret, s.auth.SessionActive))

	// Session and preferences
	session := handlers.NewSessionHandler(s.store)
	api.Get("/session", session.GetSession)
	api.Get("/preferences", session.GetPreferences)
	api.Put("/preferences", session.SavePreferences)

	// Clusters
	clusters := handlers.NewClusterHandlers(s.k8sClient)
	api.Get("/clusters", clusters.ListClusters)
	api.Get("/clusters/:cluster/namespaces", clusters.ListNamespaces)
	api.Get("/clusters/:cluster/health", clusters.GetClusterHealth)
	api.Get("/clusters/:cluster/namespaces/:namespace/pods/:pod/metrics", clusters.GetPodMetrics)

	// Resources. Action routes of cluster-scoped objects come before the
	// namespaced lists so a trailing yaml or describe is never read as a kind.
	resources := handlers.NewResourceHandlers(s.k8sClient, s.poller, s.toaster)
	registerObjectActions(api, "/clusters/:cluster/:resource/:name", resources)
	api.Get("/clusters/:cluster/namespaces/:namespace/:resource", resources.ListInCluster)
	registerObjectActions(api, "/clusters/:cluster/namespaces/:namespace/:resource/:name", resources)
	registerObject(api, "/clusters/:cluster/namespaces/:namespace/:resource/:name", resources)
	api.Get("/clusters/:cluster/:resource", resources.ListInCluster)
	registerObject(api, "/clusters/:cluster/:resource/:name", resources)

	api.Get("/resources/:resource/stream", resources.Stream)
	api.Get("/resources/:resource", resources.ListAggregated)

	// Notifications
	notifications := handlers.NewNotificationHandler(s.store)
	api.Get("/notifications", notifications.GetNotifications)
	api.Get("/notifications/unread-count", notifications.GetUnreadCount)
	api.Post("/notifications/read-all", notifications.MarkAllNotificationsRead)
	api.Post("/notifications/:id/read", notifications.MarkNotificationRead)

	// WebSocket for real-time updates
	s.app.Use("/ws", middleware.WebSocketUpgrade())
	s.app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		s.hub.HandleConnection(c)
	}))

	// Serve the UI bundle
	if s.config.WebDir != "" {
		s.app.Static("/", s.config.WebDir)
		s.app.Get("/*", func(c *fiber.Ctx) error {
			return c.SendFile(strings.TrimSuffix(s.config.WebDir, "/") + "/index.html")
		})
	}
}

// registerObjectActions registers the suffixed object routes under prefix.
func registerObjectActions(r fiber.Router, prefix string, h *handlers.ResourceHandlers) {
	mutate := middleware.RequireMutate()
	r.Get(prefix+"/yaml", h.GetYAML)
	r.Get(prefix+"/describe", h.Describe)
	r.Post(prefix+"/restart", mutate, h.Restart)
	r.Post(prefix+"/scale", mutate, h.Scale)
}

// registerObject registers view, replace and delete of one object.
func registerObject(r fiber.Router, path string, h *handlers.ResourceHandlers) {
	mutate := middleware.RequireMutate()
	r.Get(path, h.Get)
	r.Put(path, mutate, h.Update)
	r.Delete(path, mutate, h.Delete)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting server", "addr", addr, "dev", s.config.DevMode)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.poller.Stop()
	s.hub.Close()
	if s.k8sClient != nil {
		s.k8sClient.StopWatching()
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("http shutdown error", "error", err)
	}
	return s.store.Close()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := handlers.StatusFor(err)
	return c.Status(code).JSON(fiber.Map{
		"error": handlers.ErrorMessage(err),
	})
}

// LoadConfigFromEnv loads configuration from environment variables and an
// optional .env file in the working directory.
func LoadConfigFromEnv() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		Port:           getEnvInt("PORT", 8080),
		DevMode:        getEnvBool("DEV_MODE", false),
		DatabasePath:   getEnvOrDefault("DATABASE_PATH", "./data/kubelens.db"),
		GitHubClientID: os.Getenv("GITHUB_CLIENT_ID"),
		GitHubSecret:   os.Getenv("GITHUB_CLIENT_SECRET"),
		JWTSecret:      getEnvOrDefault("JWT_SECRET", devJWTSecret),
		FrontendURL:    getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
		BackendURL:     getEnvOrDefault("BACKEND_URL", "http://localhost:8080"),
		Kubeconfig:     os.Getenv("KUBECONFIG"),
		WebDir:         os.Getenv("WEB_DIR"),
		DevUserLogin:   getEnvOrDefault("DEV_USER_LOGIN", "dev-user"),
		DevUserEmail:   getEnvOrDefault("DEV_USER_EMAIL", "dev@localhost"),
		PollInterval:   getEnvDuration("POLL_INTERVAL", poller.DefaultInterval),
		ClusterTimeout: getEnvDuration("CLUSTER_TIMEOUT", aggregate.DefaultClusterTimeout),
		AdminUsername:  getEnvOrDefault("ADMIN_USERNAME", "admin"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		DefaultRole:    models.UserRole(getEnvOrDefault("DEFAULT_ROLE", string(models.UserRoleViewer))),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
		LogFile:        os.Getenv("LOG_FILE"),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return d
}
