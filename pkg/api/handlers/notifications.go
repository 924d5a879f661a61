package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/store"
)

const maxNotifications = 100

// NotificationHandler serves the toast history of the signed-in user.
type NotificationHandler struct {
	store store.Store
}

// NewNotificationHandler creates a notification handler
func NewNotificationHandler(s store.Store) *NotificationHandler {
	return &NotificationHandler{store: s}
}

// GetNotifications returns the user's notifications, newest first
// GET /api/notifications?limit=n
func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > maxNotifications {
		limit = maxNotifications
	}

	notifications, err := h.store.GetUserNotifications(userID, limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get notifications")
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return c.JSON(notifications)
}

// GetUnreadCount returns the count of unread notifications
// GET /api/notifications/unread-count
func (h *NotificationHandler) GetUnreadCount(c *fiber.Ctx) error {
	count, err := h.store.GetUnreadNotificationCount(middleware.GetUserID(c))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get unread count")
	}
	return c.JSON(fiber.Map{"count": count})
}

// MarkNotificationRead marks one of the user's notifications as read
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkNotificationRead(c *fiber.Ctx) error {
	notificationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid notification ID")
	}

	if err := h.store.MarkNotificationRead(middleware.GetUserID(c), notificationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Notification not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to mark notification read")
	}
	return c.JSON(fiber.Map{"success": true})
}

// MarkAllNotificationsRead marks all notifications as read
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllNotificationsRead(c *fiber.Ctx) error {
	if err := h.store.MarkAllNotificationsRead(middleware.GetUserID(c)); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to mark all notifications read")
	}
	return c.JSON(fiber.Map{"success": true})
}
