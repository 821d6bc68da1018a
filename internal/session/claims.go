package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"membership/internal/core"
)

var (
	ErrNoToken      = errors.New("no session token")
	ErrMalformed    = errors.New("malformed session token")
	ErrTokenExpired = errors.New("session token expired")
	ErrNotAdmin     = errors.New("admin role required")
)

// Claims is the payload of the access token issued by the membership API.
type Claims struct {
	UserID string    `json:"userId,omitempty"`
	ID     string    `json:"_id,omitempty"`
	Email  string    `json:"email,omitempty"`
	Role   core.Role `json:"role"`
	jwt.RegisteredClaims
}

// AdminID is the identifier sent with meat distribution commands.
func (c Claims) AdminID() string {
	for _, id := range []string{c.UserID, c.ID, c.Subject, c.Email} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

func (c Claims) User() core.AdminUser {
	return core.AdminUser{Email: c.Email, Role: c.Role}
}

// DecodeClaims reads the token payload without verifying its signature.
// The signing key belongs to the membership API, which verifies every call;
// this side only needs the role and expiry to gate routes.
func DecodeClaims(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrNoToken
	}
	token = strings.TrimPrefix(token, "Bearer ")

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

// RequireAdmin allows only the admin role.
func RequireAdmin(c Claims) error {
	if c.Role != core.RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}
