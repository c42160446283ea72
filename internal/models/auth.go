package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Caller identifies the authenticated principal acting on a request. It is
// passed explicitly into every service operation; there is no ambient
// current-user state anywhere below the HTTP layer.
type Caller struct {
	ID   string
	Role UserRole
}

// JWTClaims carries the caller identity inside access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}

// Caller converts token claims into the explicit caller context.
func (c *JWTClaims) Caller() Caller {
	return Caller{ID: c.UserID, Role: c.Role}
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	User        UserInfo  `json:"user"`
}

// RegisterRequest holds the student self-registration payload.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
}
