package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType is the toast level
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
)

// Notification is a toast shown to a user after an action or event.
// Resource identifies the object the toast is about, e.g.
// "prod/default/deployments/web".
type Notification struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"userId"`
	NotificationType NotificationType `json:"type"`
	Title            string           `json:"title"`
	Message          string           `json:"message"`
	Resource         string           `json:"resource,omitempty"`
	Read             bool             `json:"read"`
	CreatedAt        time.Time        `json:"createdAt"`
}
