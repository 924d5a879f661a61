package handlers

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/store"
	"github.com/kubelens/kubelens/pkg/view"
)

// SessionHandler serves the signed-in user's session and view preferences.
type SessionHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewSessionHandler creates a session handler
func NewSessionHandler(s store.Store) *SessionHandler {
	return &SessionHandler{store: s, logger: slog.Default().With("component", "session")}
}

// GetSession returns the current user, session and preferences
// GET /api/session
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	user, err := h.store.GetUser(userID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load user")
	}
	if user == nil {
		return fiber.NewError(fiber.StatusUnauthorized, "User not found")
	}

	resp := models.SessionResponse{User: user}
	if sessionID := middleware.GetSessionID(c); sessionID != uuid.Nil {
		if resp.Session, err = h.store.GetSession(sessionID); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to load session")
		}
	}
	if resp.Preferences, err = h.store.GetPreferences(userID); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load preferences")
	}
	return c.JSON(resp)
}

// GetPreferences returns the user's view preferences
// GET /api/preferences
func (h *SessionHandler) GetPreferences(c *fiber.Ctx) error {
	prefs, err := h.store.GetPreferences(middleware.GetUserID(c))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load preferences")
	}
	return c.JSON(prefs)
}

// SavePreferences replaces the user's view preferences
// PUT /api/preferences
func (h *SessionHandler) SavePreferences(c *fiber.Ctx) error {
	var prefs models.Preferences
	if err := c.BodyParser(&prefs); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if prefs.PageSize < 0 || prefs.PageSize > view.MaxPageSize {
		return fiber.NewError(fiber.StatusBadRequest, "pageSize out of range")
	}

	userID := middleware.GetUserID(c)
	prefs.UserID = userID
	prefs.Namespace = strings.TrimSpace(prefs.Namespace)
	clusters := make([]string, 0, len(prefs.SelectedClusters))
	for _, name := range prefs.SelectedClusters {
		if name = strings.TrimSpace(name); name != "" {
			clusters = append(clusters, name)
		}
	}
	prefs.SelectedClusters = clusters

	if err := h.store.SavePreferences(&prefs); err != nil {
		h.logger.Error("failed to save preferences", "user", userID, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to save preferences")
	}

	saved, err := h.store.GetPreferences(userID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load preferences")
	}
	return c.JSON(saved)
}
