package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/kubelens/kubelens/pkg/models"
)

// Store defines the interface for data persistence
type Store interface {
	// Users
	GetUser(id uuid.UUID) (*models.User, error)
	GetUserByUsername(username string) (*models.User, error)
	GetUserByGitHubID(githubID string) (*models.User, error)
	CreateUser(user *models.User) error
	UpdateUser(user *models.User) error
	UpdateLastLogin(userID uuid.UUID) error
	ListUsers() ([]models.User, error)
	CountUsers() (int, error)

	// Sessions
	CreateSession(session *models.Session) error
	GetSession(id uuid.UUID) (*models.Session, error)
	RevokeSession(id uuid.UUID) error
	RevokeUserSessions(userID uuid.UUID) error
	DeleteExpiredSessions(before time.Time) (int64, error)

	// Preferences
	GetPreferences(userID uuid.UUID) (*models.Preferences, error)
	SavePreferences(prefs *models.Preferences) error

	// Notifications
	CreateNotification(notification *models.Notification) error
	GetUserNotifications(userID uuid.UUID, limit int) ([]models.Notification, error)
	GetUnreadNotificationCount(userID uuid.UUID) (int, error)
	MarkNotificationRead(userID, id uuid.UUID) error
	MarkAllNotificationsRead(userID uuid.UUID) error

	// Lifecycle
	Close() error
}
