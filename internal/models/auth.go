package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating an admin.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	IP       string `json:"-"`
}

// LoginResponse returns the issued access token and admin info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Admin       AdminInfo `json:"admin"`
	IssuedAt    time.Time `json:"issued_at"`
}

// AdminInfo describes the authenticated admin in responses.
type AdminInfo struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  UserRole `json:"role"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Principal converts the claims into the actor passed to services.
func (c *JWTClaims) Principal(ip string) *Principal {
	if c == nil {
		return nil
	}
	return &Principal{ID: c.UserID, Name: c.FullName, Role: c.Role, IP: ip}
}
