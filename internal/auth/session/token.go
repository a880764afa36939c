package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired reports whether the stored access token's exp claim has
// passed. The signature is deliberately not verified: the backend is the
// authority on token validity, this check only avoids a guaranteed 401
// round-trip at startup. Tokens that fail to parse count as expired;
// tokens without an exp claim count as live.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return true
	}

	expiry, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return err != nil
	}
	return expiry.Before(now)
}
