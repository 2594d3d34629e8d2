package credential

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expired reports whether credential is a JWT whose exp claim has passed.
// The signature is not checked; only the server can do that. Opaque tokens
// and JWTs without exp never expire here.
func Expired(credential string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenPart(credential), &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}

// tokenPart strips an authorization scheme such as "Bearer ".
func tokenPart(credential string) string {
	if _, token, ok := strings.Cut(strings.TrimSpace(credential), " "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(credential)
}
