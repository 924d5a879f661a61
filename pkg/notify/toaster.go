// Package notify turns action outcomes into toast notifications. A toast is
// stored for the user and pushed to their live WebSocket connections.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/observability"
)

// MessageType is the WebSocket message type carrying a toast.
const MessageType = "toast"

// NotificationStore persists toasts.
type NotificationStore interface {
	CreateNotification(notification *models.Notification) error
}

// Pusher delivers a message to every live connection of a user.
type Pusher interface {
	Push(userID uuid.UUID, msgType string, data any)
}

// Toaster creates, stores and pushes toasts.
type Toaster struct {
	store   NotificationStore
	pusher  Pusher
	metrics *observability.Metrics
	logger  *slog.Logger
	errText func(error) string
}

// NewToaster creates a Toaster. Any dependency may be nil.
func NewToaster(store NotificationStore, pusher Pusher, metrics *observability.Metrics) *Toaster {
	return &Toaster{store: store, pusher: pusher, metrics: metrics, logger: slog.Default().With("component", "notify")}
}

// SetErrorMessage sets how failed actions are worded in toasts. The default
// is err.Error().
func (t *Toaster) SetErrorMessage(fn func(error) string) {
	t.errText = fn
}

// Notify sends one toast to userID. Storing is skipped for anonymous users;
// a storage failure is logged and the toast is still pushed.
func (t *Toaster) Notify(userID uuid.UUID, typ models.NotificationType, title, message, resource string) *models.Notification {
	n := &models.Notification{
		UserID:           userID,
		NotificationType: typ,
		Title:            title,
		Message:          message,
		Resource:         resource,
	}

	if t.store != nil && userID != uuid.Nil {
		if err := t.store.CreateNotification(n); err != nil {
			t.logger.Warn("failed to store toast", "user", userID, "title", title, "error", err)
		}
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if t.pusher != nil {
		t.pusher.Push(userID, MessageType, n)
	}
	if t.metrics != nil {
		t.metrics.ToastsTotal.WithLabelValues(string(typ)).Inc()
	}
	return n
}

func (t *Toaster) Success(userID uuid.UUID, title, message, resource string) *models.Notification {
	return t.Notify(userID, models.NotificationSuccess, title, message, resource)
}

func (t *Toaster) Error(userID uuid.UUID, title, message, resource string) *models.Notification {
	return t.Notify(userID, models.NotificationError, title, message, resource)
}

func (t *Toaster) Warning(userID uuid.UUID, title, message, resource string) *models.Notification {
	return t.Notify(userID, models.NotificationWarning, title, message, resource)
}

func (t *Toaster) Info(userID uuid.UUID, title, message, resource string) *models.Notification {
	return t.Notify(userID, models.NotificationInfo, title, message, resource)
}

// Resource actions reported by ActionResult.
const (
	ActionUpdate  = "update"
	ActionScale   = "scale"
	ActionRestart = "restart"
	ActionDelete  = "delete"
)

var pastTense = map[string]string{
	ActionUpdate:  "Updated",
	ActionScale:   "Scaled",
	ActionRestart: "Restarted",
	ActionDelete:  "Deleted",
}

// ActionResult reports the outcome of a resource action on resource, e.g.
// "prod/default/deployments/web". detail is appended to the success message.
func (t *Toaster) ActionResult(userID uuid.UUID, action, resource, detail string, err error) *models.Notification {
	name := resource
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		name = resource[i+1:]
	}

	if err != nil {
		message := err.Error()
		if t.errText != nil {
			message = t.errText(err)
		}
		return t.Error(userID, fmt.Sprintf("Failed to %s %s", action, name), message, resource)
	}

	verb, ok := pastTense[action]
	if !ok {
		verb = action
	}
	message := fmt.Sprintf("%s %s", verb, resource)
	if detail != "" {
		message += ": " + detail
	}
	return t.Success(userID, fmt.Sprintf("%s %s", verb, name), message, resource)
}
