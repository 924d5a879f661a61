package models

import (
	"time"

	"github.com/google/uuid"
)

// SignInRequest is the body of POST /auth/signin.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by sign-in and token refresh.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	SessionID uuid.UUID `json:"sessionId"`
	User      *User     `json:"user"`
}

// SessionResponse is returned by GET /api/session.
type SessionResponse struct {
	User        *User        `json:"user"`
	Session     *Session     `json:"session"`
	Preferences *Preferences `json:"preferences"`
}

// ScaleRequest is the body of POST .../scale.
type ScaleRequest struct {
	Replicas *int32 `json:"replicas"`
}
