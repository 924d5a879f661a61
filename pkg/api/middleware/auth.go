package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kubelens/kubelens/pkg/models"
)

// UserClaims represents JWT claims for a user
type UserClaims struct {
	UserID    uuid.UUID       `json:"user_id"`
	SessionID uuid.UUID       `json:"session_id"`
	Username  string          `json:"username"`
	Role      models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// SessionChecker reports whether a session is still valid. It lets the
// middleware reject tokens whose session was revoked by sign-out.
type SessionChecker func(sessionID uuid.UUID) bool

// Locals keys
const (
	localUserID    = "userID"
	localSessionID = "sessionID"
	localUsername  = "username"
	localRole      = "role"
)

// JWTAuth validates the bearer token and stores its claims in the request
// locals. Stream endpoints may pass the token as ?_token= because
// EventSource cannot set headers.
func JWTAuth(secret string, checkers ...SessionChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := ""
		authHeader := c.Get("Authorization")
		switch {
		case authHeader != "":
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization format")
			}
			tokenString = parts[1]
		case strings.HasSuffix(c.Path(), "/stream"):
			tokenString = c.Query("_token")
		}
		if tokenString == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing authorization")
		}

		claims, err := ValidateJWT(tokenString, secret)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}
		for _, check := range checkers {
			if claims.SessionID != uuid.Nil && !check(claims.SessionID) {
				return fiber.NewError(fiber.StatusUnauthorized, "Session revoked")
			}
		}

		c.Locals(localUserID, claims.UserID)
		c.Locals(localSessionID, claims.SessionID)
		c.Locals(localUsername, claims.Username)
		c.Locals(localRole, claims.Role)
		return c.Next()
	}
}

// ValidateJWT parses and verifies a token signed with secret.
func ValidateJWT(tokenString, secret string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RequireMutate rejects users whose role may not change cluster state.
func RequireMutate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !GetRole(c).CanMutate() {
			return fiber.NewError(fiber.StatusForbidden, "Your role does not allow changes")
		}
		return c.Next()
	}
}

// WebSocketUpgrade only lets WebSocket upgrade requests through.
func WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// GetUserID returns the authenticated user's ID, or uuid.Nil.
func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(localUserID).(uuid.UUID)
	return id
}

// GetSessionID returns the session the token was issued for.
func GetSessionID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(localSessionID).(uuid.UUID)
	return id
}

// GetUsername returns the authenticated user's name.
func GetUsername(c *fiber.Ctx) string {
	name, _ := c.Locals(localUsername).(string)
	return name
}

// GetRole returns the authenticated user's role.
func GetRole(c *fiber.Ctx) models.UserRole {
	role, _ := c.Locals(localRole).(models.UserRole)
	return role
}
