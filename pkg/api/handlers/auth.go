package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/store"
)

var errGitHubNotConfigured = fiber.NewError(fiber.StatusNotFound, "GitHub login is not configured")

const (
	defaultTokenTTL   = 24 * time.Hour
	defaultSessionTTL = 7 * 24 * time.Hour
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	GitHubClientID string
	GitHubSecret   string
	JWTSecret      string
	FrontendURL    string
	BackendURL     string
	DevUserLogin   string
	DevUserEmail   string
	DevMode        bool            // Dev login replaces GitHub OAuth
	DefaultRole    models.UserRole // Role of users created by GitHub or dev login
	TokenTTL       time.Duration
	SessionTTL     time.Duration
}

// AuthHandler handles authentication
type AuthHandler struct {
	store        store.Store
	oauthConfig  *oauth2.Config
	jwtSecret    string
	frontendURL  string
	devUserLogin string
	devUserEmail string
	devMode      bool
	defaultRole  models.UserRole
	tokenTTL     time.Duration
	sessionTTL   time.Duration
	githubAPI    string
	logger       *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(s store.Store, cfg AuthConfig) *AuthHandler {
	redirectURL := ""
	if cfg.BackendURL != "" {
		redirectURL = strings.TrimSuffix(cfg.BackendURL, "/") + "/auth/github/callback"
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = models.UserRoleViewer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}

	return &AuthHandler{
		store: s,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		jwtSecret:    cfg.JWTSecret,
		frontendURL:  cfg.FrontendURL,
		devUserLogin: cfg.DevUserLogin,
		devUserEmail: cfg.DevUserEmail,
		devMode:      cfg.DevMode,
		defaultRole:  cfg.DefaultRole,
		tokenTTL:     cfg.TokenTTL,
		sessionTTL:   cfg.SessionTTL,
		githubAPI:    "https://api.github.com",
		logger:       slog.Default().With("component", "auth"),
	}
}

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SessionActive reports whether a session exists and is neither revoked nor
// expired. It is the middleware's session check.
func (h *AuthHandler) SessionActive(sessionID uuid.UUID) bool {
	session, err := h.store.GetSession(sessionID)
	if err != nil || session == nil {
		return false
	}
	return session.Active(time.Now())
}

// SignIn exchanges a username and password for a token and a new session
// POST /auth/signin
func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req models.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username and password are required")
	}

	user, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		h.logger.Error("failed to look up user", "username", req.Username, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to sign in")
	}
	if user == nil || user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.logger.Warn("sign-in rejected", "username", req.Username, "ip", c.IP())
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid username or password")
	}

	resp, err := h.startSession(c, user)
	if err != nil {
		return err
	}
	h.logger.Info("user signed in", "username", user.Username, "session", resp.SessionID)
	return c.JSON(resp)
}

// SignOut revokes the session of the presented token
// POST /auth/signout
func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	claims, err := h.bearerClaims(c)
	if err != nil {
		return err
	}
	if claims.SessionID != uuid.Nil {
		if err := h.store.RevokeSession(claims.SessionID); err != nil {
			h.logger.Error("failed to revoke session", "session", claims.SessionID, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to sign out")
		}
	}
	h.logger.Info("user signed out", "username", claims.Username, "session", claims.SessionID)
	return c.JSON(fiber.Map{"success": true})
}

// RefreshToken issues a new token for a still active session
// POST /auth/refresh
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	claims, err := h.bearerClaims(c)
	if err != nil {
		return err
	}
	if claims.SessionID != uuid.Nil && !h.SessionActive(claims.SessionID) {
		return fiber.NewError(fiber.StatusUnauthorized, "Session expired")
	}

	user, err := h.store.GetUser(claims.UserID)
	if err != nil || user == nil {
		return fiber.NewError(fiber.StatusUnauthorized, "User not found")
	}

	token, expiresAt, err := h.generateJWT(user, claims.SessionID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to generate token")
	}
	return c.JSON(models.AuthResponse{Token: token, ExpiresAt: expiresAt, SessionID: claims.SessionID, User: user})
}

func (h *AuthHandler) bearerClaims(c *fiber.Ctx) (*middleware.UserClaims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Missing authorization")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization format")
	}
	claims, err := middleware.ValidateJWT(tokenString, h.jwtSecret)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
	}
	return claims, nil
}

// startSession records a session for user and signs a token bound to it.
func (h *AuthHandler) startSession(c *fiber.Ctx, user *models.User) (*models.AuthResponse, error) {
	now := time.Now()
	session := &models.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		UserAgent: c.Get(fiber.HeaderUserAgent),
		CreatedAt: now,
		ExpiresAt: now.Add(h.sessionTTL),
	}
	if err := h.store.CreateSession(session); err != nil {
		h.logger.Error("failed to create session", "user", user.ID, "error", err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to create session")
	}
	if err := h.store.UpdateLastLogin(user.ID); err != nil {
		h.logger.Warn("failed to record last login", "user", user.ID, "error", err)
	}

	token, expiresAt, err := h.generateJWT(user, session.ID)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to generate token")
	}
	return &models.AuthResponse{Token: token, ExpiresAt: expiresAt, SessionID: session.ID, User: user}, nil
}

func (h *AuthHandler) generateJWT(user *models.User, sessionID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(h.tokenTTL)
	claims := middleware.UserClaims{
		UserID:    user.ID,
		SessionID: sessionID,
		Username:  user.Username,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.jwtSecret))
	return signed, expiresAt, err
}

const (
	// OAuth state cookie name
	oauthStateCookieName = "oauth_state"
	// OAuth state cookie max age (10 minutes)
	oauthStateCookieMaxAge = 600
)

func (h *AuthHandler) loginError(c *fiber.Ctx, code string) error {
	return c.Redirect(h.frontendURL+"/login?error="+code, fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) loginSuccess(c *fiber.Ctx, resp *models.AuthResponse) error {
	q := url.Values{}
	q.Set("token", resp.Token)
	q.Set("session", resp.SessionID.String())
	return c.Redirect(h.frontendURL+"/auth/callback?"+q.Encode(), fiber.StatusTemporaryRedirect)
}

// GitHubLogin initiates GitHub OAuth flow
// GET /auth/github
func (h *AuthHandler) GitHubLogin(c *fiber.Ctx) error {
	if h.devMode {
		return h.devModeLogin(c)
	}
	if h.oauthConfig.ClientID == "" {
		return errGitHubNotConfigured
	}

	// state doubles as the CSRF token checked on callback
	state := uuid.New().String()
	c.Cookie(&fiber.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateCookieMaxAge,
		HTTPOnly: true,
		Secure:   !h.devMode,
		SameSite: "Lax",
	})

	return c.Redirect(h.oauthConfig.AuthCodeURL(state), fiber.StatusTemporaryRedirect)
}

// devModeLogin signs in a local user without GitHub. Only reachable in dev mode.
func (h *AuthHandler) devModeLogin(c *fiber.Ctx) error {
	login := h.devUserLogin
	if login == "" {
		login = "dev-user"
	}
	email := h.devUserEmail
	if email == "" {
		email = "dev@localhost"
	}
	githubID := "dev-" + login

	user, err := h.store.GetUserByGitHubID(githubID)
	if err != nil {
		return h.loginError(c, "db_error")
	}
	if user == nil {
		user = &models.User{
			Username: login,
			GitHubID: githubID,
			Email:    email,
			Role:     h.defaultRole,
		}
		if err := h.store.CreateUser(user); err != nil {
			return h.loginError(c, "create_user_failed")
		}
	}

	resp, err := h.startSession(c, user)
	if err != nil {
		return h.loginError(c, "session_failed")
	}
	return h.loginSuccess(c, resp)
}

// GitHubCallback handles the OAuth callback
// GET /auth/github/callback
func (h *AuthHandler) GitHubCallback(c *fiber.Ctx) error {
	if h.oauthConfig.ClientID == "" {
		return errGitHubNotConfigured
	}
	code := c.Query("code")
	if code == "" {
		return h.loginError(c, "missing_code")
	}

	state := c.Query("state")
	storedState := c.Cookies(oauthStateCookieName)
	// one-time use
	c.Cookie(&fiber.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HTTPOnly: true,
	})
	if state == "" || storedState == "" || state != storedState {
		h.logger.Warn("oauth state mismatch", "ip", c.IP())
		return h.loginError(c, "csrf_validation_failed")
	}

	token, err := h.oauthConfig.Exchange(c.UserContext(), code)
	if err != nil {
		h.logger.Warn("oauth token exchange failed", "error", err)
		return h.loginError(c, "exchange_failed")
	}

	ghUser, err := h.getGitHubUser(c.UserContext(), token.AccessToken)
	if err != nil {
		h.logger.Warn("failed to get GitHub user", "error", err)
		return h.loginError(c, "user_fetch_failed")
	}

	githubID := fmt.Sprintf("%d", ghUser.ID)
	user, err := h.store.GetUserByGitHubID(githubID)
	if err != nil {
		h.logger.Error("failed to look up GitHub user", "error", err)
		return h.loginError(c, "db_error")
	}

	if user == nil {
		user = &models.User{
			Username:  ghUser.Login,
			GitHubID:  githubID,
			Email:     ghUser.Email,
			AvatarURL: ghUser.AvatarURL,
			Role:      h.defaultRole,
		}
		if err := h.store.CreateUser(user); err != nil {
			return h.loginError(c, "create_user_failed")
		}
	} else {
		user.Email = ghUser.Email
		user.AvatarURL = ghUser.AvatarURL
		if err := h.store.UpdateUser(user); err != nil {
			h.logger.Warn("failed to update GitHub user", "user", user.ID, "error", err)
		}
	}

	resp, err := h.startSession(c, user)
	if err != nil {
		return h.loginError(c, "session_failed")
	}
	return h.loginSuccess(c, resp)
}

// GitHubUser represents a GitHub user
type GitHubUser struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func (h *AuthHandler) getGitHubUser(ctx context.Context, accessToken string) (*GitHubUser, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.githubAPI+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned %d", resp.StatusCode)
	}

	var user GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}
