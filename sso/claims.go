package sso

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the subset of SSO JWT claims the lifecycle cares about.
type IdentityClaims struct {
	CharacterID   int64
	CharacterName string
	Owner         string
	Scopes        []string
	ExpiresAt     time.Time
}

// DecodeClaims reads the lifecycle-relevant claims from a raw JWT without
// verifying the signature. The token arrived over the authenticated TLS
// exchange with the endpoint; signature verification belongs to API-side
// consumers, not the credential store.
func DecodeClaims(rawToken string) (IdentityClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return IdentityClaims{}, fmt.Errorf("sso: token is empty")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return IdentityClaims{}, fmt.Errorf("sso: decode token claims: %w", err)
	}

	decoded := IdentityClaims{}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return IdentityClaims{}, fmt.Errorf("sso: token is missing a subject")
	}
	decoded.CharacterID, err = characterIDFromSubject(subject)
	if err != nil {
		return IdentityClaims{}, err
	}

	if name, ok := claims["name"].(string); ok {
		decoded.CharacterName = name
	}
	if owner, ok := claims["owner"].(string); ok {
		decoded.Owner = owner
	}
	decoded.Scopes = scopesFromClaim(claims["scp"])

	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		decoded.ExpiresAt = expiresAt.Time.UTC()
	}

	return decoded, nil
}

// characterIDFromSubject parses the EVE SSO subject form
// "CHARACTER:EVE:<id>". A bare numeric subject is accepted too.
func characterIDFromSubject(subject string) (int64, error) {
	candidate := subject
	if parts := strings.Split(subject, ":"); len(parts) == 3 {
		candidate = parts[2]
	}
	id, err := strconv.ParseInt(strings.TrimSpace(candidate), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("sso: subject %q does not carry a character id", subject)
	}
	return id, nil
}

// scopesFromClaim normalizes the scp claim, which is a bare string for a
// single scope and an array otherwise.
func scopesFromClaim(claim any) []string {
	switch value := claim.(type) {
	case string:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		return []string{value}
	case []any:
		scopes := make([]string, 0, len(value))
		for _, entry := range value {
			if scope, ok := entry.(string); ok && strings.TrimSpace(scope) != "" {
				scopes = append(scopes, scope)
			}
		}
		if len(scopes) == 0 {
			return nil
		}
		return scopes
	default:
		return nil
	}
}
