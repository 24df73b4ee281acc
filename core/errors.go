package core

import (
	"context"
	"errors"
	"net"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AuthErrorBadInput          = "AUTH_BAD_INPUT"
	AuthErrorNetworkTransient  = "AUTH_NETWORK_TRANSIENT"
	AuthErrorInvalidGrant      = "AUTH_INVALID_GRANT"
	AuthErrorMalformedResponse = "AUTH_MALFORMED_RESPONSE"
	AuthErrorStorageFailure    = "AUTH_STORAGE_FAILURE"
	AuthErrorNoSession         = "AUTH_NO_SESSION"
	AuthErrorReauthRequired    = "AUTH_REAUTH_REQUIRED"
	AuthErrorFlowActive        = "AUTH_FLOW_ACTIVE"
	AuthErrorFlowStateInvalid  = "AUTH_FLOW_STATE_INVALID"
	AuthErrorInternal          = "AUTH_INTERNAL_ERROR"
)

// RefreshFailure is the operational classification of a failed refresh
// exchange.
type RefreshFailure string

const (
	// FailureTransient covers timeouts, 5xx responses and connectivity loss.
	// The session and persisted credential are untouched; the caller may
	// retry later.
	FailureTransient RefreshFailure = "transient"
	// FailureInvalidGrant is terminal for the identity: the refresh token was
	// revoked and interactive re-authentication is required.
	FailureInvalidGrant RefreshFailure = "invalid_grant"
	// FailureMalformed marks responses that could not be decoded. Treated
	// like FailureTransient operationally, logged under its own code.
	FailureMalformed RefreshFailure = "malformed"
)

// ClassifyRefreshError maps a refresh-exchange failure onto the taxonomy the
// coordinator acts on.
func ClassifyRefreshError(err error) RefreshFailure {
	if err == nil {
		return FailureTransient
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case AuthErrorInvalidGrant, AuthErrorReauthRequired:
			return FailureInvalidGrant
		case AuthErrorMalformedResponse:
			return FailureMalformed
		case AuthErrorNetworkTransient:
			return FailureTransient
		}
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return FailureInvalidGrant
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "invalid refresh token"),
		strings.Contains(msg, "token revoked"):
		return FailureInvalidGrant
	case strings.Contains(msg, "decode"),
		strings.Contains(msg, "unmarshal"),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "unexpected end"):
		return FailureMalformed
	}
	return FailureTransient
}

// IsInvalidGrant reports whether err marks a permanently revoked credential.
func IsInvalidGrant(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		code := strings.TrimSpace(strings.ToUpper(richErr.TextCode))
		return code == AuthErrorInvalidGrant || code == AuthErrorReauthRequired
	}
	return false
}

// IsNoSession reports whether err means no session or persisted credential
// exists for the identity.
func IsNoSession(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoSession) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(strings.ToUpper(richErr.TextCode)) == AuthErrorNoSession
	}
	return false
}

// IsTransient reports whether the caller may retry later without any change
// to the stored session.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifyRefreshError(err) {
	case FailureTransient, FailureMalformed:
		return !IsNoSession(err)
	}
	return false
}

func authErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureAuthErrorEnvelope(richErr)
	}

	if errors.Is(err, ErrNoSession) {
		return newAuthError(err.Error(), goerrors.CategoryNotFound, AuthErrorNoSession)
	}
	if errors.Is(err, ErrKeyNotFound) {
		return newAuthError(err.Error(), goerrors.CategoryNotFound, AuthErrorNoSession)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "invalid_grant"):
		return newAuthError(err.Error(), goerrors.CategoryAuth, AuthErrorInvalidGrant)
	case strings.Contains(msg, "flow state"), strings.Contains(msg, "state mismatch"):
		return newAuthError(err.Error(), goerrors.CategoryAuth, AuthErrorFlowStateInvalid)
	case strings.Contains(msg, "flow already active"):
		return newAuthError(err.Error(), goerrors.CategoryConflict, AuthErrorFlowActive)
	case strings.Contains(msg, "secure store"), strings.Contains(msg, "persist"):
		return newAuthError(err.Error(), goerrors.CategoryInternal, AuthErrorStorageFailure)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newAuthError(err.Error(), goerrors.CategoryBadInput, AuthErrorBadInput)
	}

	switch ClassifyRefreshError(err) {
	case FailureInvalidGrant:
		return newAuthError(err.Error(), goerrors.CategoryAuth, AuthErrorInvalidGrant)
	case FailureMalformed:
		return newAuthError(err.Error(), goerrors.CategoryExternal, AuthErrorMalformedResponse)
	}
	return newAuthError(err.Error(), goerrors.CategoryExternal, AuthErrorNetworkTransient)
}

func newAuthError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureAuthErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureAuthErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultAuthTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultAuthTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return AuthErrorBadInput
	case goerrors.CategoryNotFound:
		return AuthErrorNoSession
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return AuthErrorInvalidGrant
	case goerrors.CategoryConflict:
		return AuthErrorFlowActive
	case goerrors.CategoryExternal:
		return AuthErrorNetworkTransient
	default:
		return AuthErrorInternal
	}
}
