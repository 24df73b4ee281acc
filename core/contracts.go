package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ErrKeyNotFound is returned by SecureStore.Get for absent keys.
var ErrKeyNotFound = errors.New("core: secure store key not found")

// SecureStore persists small secret values outside process lifetime. Put must
// be overwrite-safe: update-if-exists else insert, so a crash mid-write never
// exposes a partially written credential.
type SecureStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// SecretProvider encrypts credential payloads before they reach a SecureStore.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// AuthorizationPrompt is the outward half of an interactive login: the URL the
// user agent must open and the state that ties the callback to this attempt.
type AuthorizationPrompt struct {
	URL   string
	State string
}

// CallbackRequest carries the redirect parameters back from the user agent.
type CallbackRequest struct {
	State string
	Code  string
}

// TokenClient talks to the remote token endpoint.
type TokenClient interface {
	// AuthorizationURL builds the authorization-code URL for the requested
	// scopes, binding the PKCE verifier and state.
	AuthorizationURL(state string, verifier string, scopes []string) string
	// Exchange swaps an authorization code for the first token pair.
	Exchange(ctx context.Context, code string, verifier string) (TokenPair, error)
	// Refresh mints a new token pair from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// UserAgent presents the authorization URL to the user, typically by opening
// a browser. It must return promptly; the flow waits for the callback
// separately.
type UserAgent interface {
	OpenURL(ctx context.Context, url string) error
}

// UserAgentFunc adapts a function to the UserAgent interface.
type UserAgentFunc func(ctx context.Context, url string) error

func (f UserAgentFunc) OpenURL(ctx context.Context, url string) error {
	return f(ctx, url)
}

// FlowStateRecord holds the per-attempt secrets of an interactive flow.
type FlowStateRecord struct {
	State     string
	Verifier  string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FlowStateStore keeps single-use flow state between BeginAuthorization and
// CompleteAuthorization. Consume must remove the record.
type FlowStateStore interface {
	Save(ctx context.Context, record FlowStateRecord) error
	Consume(ctx context.Context, state string) (FlowStateRecord, error)
}

// SessionEvent is published when a session is invalidated and the identity
// needs interactive re-authentication.
type SessionEvent struct {
	CharacterID CharacterID
	Reason      string
	OccurredAt  time.Time
}

type SessionEventHandler interface {
	OnSessionInvalidated(ctx context.Context, event SessionEvent)
}

// SessionEventHandlerFunc adapts a function to SessionEventHandler.
type SessionEventHandlerFunc func(ctx context.Context, event SessionEvent)

func (f SessionEventHandlerFunc) OnSessionInvalidated(ctx context.Context, event SessionEvent) {
	f(ctx, event)
}

// SessionEventBus decouples "session invalidated" from whoever needs to
// prompt for re-login.
type SessionEventBus interface {
	Publish(ctx context.Context, event SessionEvent)
	Subscribe(handler SessionEventHandler)
}

// MetricsRecorder receives operation counters and latency histograms.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
