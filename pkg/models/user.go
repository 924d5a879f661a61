package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents a dashboard user's role
type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleEditor UserRole = "editor"
	UserRoleViewer UserRole = "viewer"
)

// CanMutate reports whether the role may edit, scale, restart or delete resources.
func (r UserRole) CanMutate() bool {
	return r == UserRoleAdmin || r == UserRoleEditor
}

// User is a dashboard account. Local accounts carry a bcrypt password hash;
// GitHub accounts carry a GitHubID instead.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	GitHubID     string     `json:"githubId,omitempty"`
	Email        string     `json:"email,omitempty"`
	AvatarURL    string     `json:"avatarUrl,omitempty"`
	Role         UserRole   `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// Session is one signed-in browser or terminal. The JWT carries the session ID
// so sign-out can revoke it before the token expires.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"userId"`
	UserAgent string     `json:"userAgent,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Preferences hold the per-user view state: the selected clusters and
// namespace and the preferred page size.
type Preferences struct {
	UserID           uuid.UUID `json:"userId"`
	SelectedClusters []string  `json:"selectedClusters"`
	Namespace        string    `json:"namespace"`
	PageSize         int       `json:"pageSize"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
