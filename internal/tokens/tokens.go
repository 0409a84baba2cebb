// Package tokens reads claims from API-issued JWT access tokens.
//
// The client never holds the signing key, so tokens are parsed without
// verification and the claims are only used as hints: filling session fields
// the login response omitted, and dropping a persisted session whose expiry
// has already passed. The server remains the authority on validity.
package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrOpaque means the token is not a parseable JWT.
var ErrOpaque = errors.New("token is not a JWT")

// Claims are the session-relevant claims of an access token.
type Claims struct {
	Role      string
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Inspect parses token without verifying its signature.
func Inspect(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrOpaque, err)
	}

	c := Claims{
		Role:     firstString(mc, "role", "user_type"),
		UserID:   firstString(mc, "user_id", "sub"),
		Username: firstString(mc, "username", "preferred_username"),
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Expired reports whether token is a JWT whose exp is at or before now.
// Opaque tokens and tokens without exp are never considered expired.
func Expired(token string, now time.Time) bool {
	c, err := Inspect(token)
	if err != nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

func firstString(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := mc[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
