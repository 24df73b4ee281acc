package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSessionStatusTransition = errors.New("core: invalid session status transition")
	ErrNoSession                      = errors.New("core: no session found")
)

// CharacterID identifies one independently-authenticated identity. The value
// is opaque to this package beyond being stable and unique.
type CharacterID int64

func (id CharacterID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

// CredentialKey is the SecureStore key under which the identity's refresh
// credential is persisted.
func (id CharacterID) CredentialKey() string {
	return fmt.Sprintf("credential::%d", int64(id))
}

// ReauthKey is the SecureStore key for the durable re-authentication flag.
func (id CharacterID) ReauthKey() string {
	return fmt.Sprintf("reauth::%d", int64(id))
}

// TokenPair is the result of a successful token-endpoint exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	IDToken      string
	Scopes       []string
}

func (p TokenPair) HasRefreshToken() bool {
	return strings.TrimSpace(p.RefreshToken) != ""
}

type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusRefreshing SessionStatus = "refreshing"
)

// AuthSession owns the current TokenPair for one identity. Exactly one
// session exists per CharacterID at a time; it is mutated only by a completed
// refresh or a fresh login, and destroyed by logout or invalid_grant.
type AuthSession struct {
	CharacterID   CharacterID
	CharacterName string
	Token         TokenPair
	Status        SessionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *AuthSession) TransitionTo(status SessionStatus, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.Status == status {
		s.UpdatedAt = now
		return nil
	}
	if !sessionTransitionAllowed(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSessionStatusTransition, s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = now
	return nil
}

func sessionTransitionAllowed(current, next SessionStatus) bool {
	allowed := map[SessionStatus]map[SessionStatus]struct{}{
		SessionStatusActive: {
			SessionStatusRefreshing: {},
		},
		SessionStatusRefreshing: {
			SessionStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// PersistedCredential is the long-lived portion of a session held outside
// process lifetime.
type PersistedCredential struct {
	CharacterID   CharacterID `json:"character_id"`
	CharacterName string      `json:"character_name,omitempty"`
	RefreshToken  string      `json:"refresh_token"`
	TokenType     string      `json:"token_type,omitempty"`
	Scopes        []string    `json:"scopes,omitempty"`
	SavedAt       time.Time   `json:"saved_at"`
}

// ReauthFlag records that an identity's refresh credential was permanently
// revoked and interactive re-authorization is required.
type ReauthFlag struct {
	CharacterID CharacterID `json:"character_id"`
	Reason      string      `json:"reason"`
	FlaggedAt   time.Time   `json:"flagged_at"`
}
