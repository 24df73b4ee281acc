package core

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ResolveExpiry returns the authoritative expiry for a token pair. The `exp`
// claim of a structured ID token is the single source of truth whenever one
// is present and decodes; the timestamp reported by the token endpoint is
// used only otherwise. The boolean is false when neither signal is available.
func ResolveExpiry(pair TokenPair) (time.Time, bool) {
	if expiry, ok := claimExpiry(pair.IDToken); ok {
		return expiry, true
	}
	if !pair.ExpiresAt.IsZero() {
		return pair.ExpiresAt.UTC(), true
	}
	return time.Time{}, false
}

// Valid reports whether the token remains usable at `now` given the grace
// window: a token inside the window of its expiry is treated as expired so
// callers refresh proactively. Tokens with no resolvable expiry are invalid.
func Valid(pair TokenPair, now time.Time, graceWindow time.Duration) bool {
	if graceWindow <= 0 {
		graceWindow = DefaultTokenGraceWindow
	}
	expiry, ok := ResolveExpiry(pair)
	if !ok {
		return false
	}
	if pair.AccessToken == "" {
		return false
	}
	return now.UTC().Add(graceWindow).Before(expiry)
}

// claimExpiry extracts the exp claim without verifying the signature. The
// token was already delivered over the authenticated TLS exchange; only the
// timestamp is read here.
func claimExpiry(rawToken string) (time.Time, bool) {
	if rawToken == "" {
		return time.Time{}, false
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, false
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return time.Time{}, false
	}
	return expiresAt.Time.UTC(), true
}
