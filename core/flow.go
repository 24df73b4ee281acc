package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Identity is what a completed code exchange tells us about who logged in.
type Identity struct {
	CharacterID   CharacterID
	CharacterName string
}

// IdentityResolver extracts the identity from a freshly exchanged token pair.
// The sso client implements this from the access token's JWT claims.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, pair TokenPair) (Identity, error)
}

// AuthorizeRequest configures one interactive login attempt.
type AuthorizeRequest struct {
	Scopes    []string
	UserAgent UserAgent
}

type authorizeOutcome struct {
	session AuthSession
	err     error
}

// activeFlow marks the one interactive flow the service allows at a time.
// waiter is non-nil when an Authorize call is blocked on the callback.
type activeFlow struct {
	state  string
	waiter chan authorizeOutcome
}

// Authorize runs the full interactive login: it builds the PKCE authorization
// URL, hands it to the user agent and blocks until the matching callback is
// delivered through CompleteAuthorization or the context ends. A second
// concurrent call fails immediately. Cancelling the context abandons the
// attempt without touching any stored session.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (session AuthSession, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"scopes": strings.Join(req.Scopes, " "),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "authorize", err, fields)
	}()

	waiter := make(chan authorizeOutcome, 1)
	prompt, beginErr := s.beginFlow(ctx, req.Scopes, waiter)
	if beginErr != nil {
		err = beginErr
		return AuthSession{}, err
	}
	fields["state"] = prompt.State

	agent := req.UserAgent
	if agent == nil {
		agent = s.userAgent
	}
	if agent != nil {
		if openErr := agent.OpenURL(ctx, prompt.URL); openErr != nil {
			s.abandonFlow(ctx, prompt.State)
			err = s.mapError(goerrors.Wrap(openErr, goerrors.CategoryExternal, "core: user agent failed to open authorization url"))
			return AuthSession{}, err
		}
	}

	select {
	case <-ctx.Done():
		s.abandonFlow(ctx, prompt.State)
		err = s.mapError(ctx.Err())
		return AuthSession{}, err
	case outcome := <-waiter:
		if outcome.err != nil {
			err = outcome.err
			return AuthSession{}, err
		}
		return outcome.session, nil
	}
}

// BeginAuthorization starts the split flow for host applications that own the
// redirect endpoint: it returns the prompt to present and leaves a single-use
// state record behind for CompleteAuthorization.
func (s *Service) BeginAuthorization(ctx context.Context, scopes []string) (prompt AuthorizationPrompt, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"scopes": strings.Join(scopes, " "),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "begin_authorization", err, fields)
	}()

	prompt, err = s.beginFlow(ctx, scopes, nil)
	if err != nil {
		return AuthorizationPrompt{}, err
	}
	fields["state"] = prompt.State
	return prompt, nil
}

// CompleteAuthorization finishes the flow with the redirect parameters: it
// consumes the state record, exchanges the code with the bound PKCE verifier,
// resolves the identity from the returned tokens and saves the session. When
// an Authorize call is waiting on this state the outcome is delivered to it
// as well.
func (s *Service) CompleteAuthorization(ctx context.Context, req CallbackRequest) (session AuthSession, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"state": req.State,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	state := strings.TrimSpace(req.State)
	code := strings.TrimSpace(req.Code)
	if state == "" || code == "" {
		err = s.mapError(fmt.Errorf("core: callback state and code are required"))
		return AuthSession{}, err
	}

	record, consumeErr := s.flowStateStore.Consume(ctx, state)
	if consumeErr != nil {
		err = s.mapError(goerrors.Wrap(consumeErr, goerrors.CategoryAuth, "core: flow state rejected").
			WithTextCode(AuthErrorFlowStateInvalid))
		return AuthSession{}, err
	}

	waiter := s.releaseFlow(state)
	session, err = s.finishExchange(ctx, record, code)
	if waiter != nil {
		waiter <- authorizeOutcome{session: session, err: err}
	}
	if err != nil {
		return AuthSession{}, err
	}
	return session, nil
}

// CancelAuthorization abandons the active flow, if any. Safe to call when no
// flow is active.
func (s *Service) CancelAuthorization(ctx context.Context) {
	s.mu.Lock()
	flow := s.flow
	s.flow = nil
	s.mu.Unlock()
	if flow == nil {
		return
	}
	if _, consumeErr := s.flowStateStore.Consume(ctx, flow.state); consumeErr != nil {
		s.logInfo(ctx, "flow state already consumed", map[string]any{"state": flow.state})
	}
	if flow.waiter != nil {
		flow.waiter <- authorizeOutcome{err: s.mapError(fmt.Errorf("core: authorization flow cancelled"))}
	}
}

func (s *Service) beginFlow(ctx context.Context, scopes []string, waiter chan authorizeOutcome) (AuthorizationPrompt, error) {
	if s.tokenClient == nil {
		return AuthorizationPrompt{}, s.mapError(goerrors.New("core: token client is not configured", goerrors.CategoryInternal).
			WithTextCode(AuthErrorInternal))
	}

	state, err := generateFlowState()
	if err != nil {
		return AuthorizationPrompt{}, s.mapError(err)
	}
	verifier, err := generateCodeVerifier()
	if err != nil {
		return AuthorizationPrompt{}, s.mapError(err)
	}

	s.mu.Lock()
	if s.flow != nil {
		s.mu.Unlock()
		return AuthorizationPrompt{}, s.mapError(goerrors.New("core: authorization flow already active", goerrors.CategoryConflict).
			WithTextCode(AuthErrorFlowActive))
	}
	s.flow = &activeFlow{state: state, waiter: waiter}
	s.mu.Unlock()

	now := s.nowUTC()
	record := FlowStateRecord{
		State:     state,
		Verifier:  verifier,
		Scopes:    append([]string(nil), scopes...),
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.flowStateTTL()),
	}
	if saveErr := s.flowStateStore.Save(ctx, record); saveErr != nil {
		s.releaseFlow(state)
		return AuthorizationPrompt{}, s.mapError(saveErr)
	}

	return AuthorizationPrompt{
		URL:   s.tokenClient.AuthorizationURL(state, verifier, scopes),
		State: state,
	}, nil
}

// releaseFlow clears the active flow when its state matches and hands back
// any blocked waiter.
func (s *Service) releaseFlow(state string) chan authorizeOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow == nil || s.flow.state != state {
		return nil
	}
	waiter := s.flow.waiter
	s.flow = nil
	return waiter
}

func (s *Service) abandonFlow(ctx context.Context, state string) {
	if s.releaseFlow(state) == nil {
		return
	}
	if _, consumeErr := s.flowStateStore.Consume(ctx, state); consumeErr != nil {
		s.logInfo(ctx, "flow state already consumed", map[string]any{"state": state})
	}
}

func (s *Service) finishExchange(ctx context.Context, record FlowStateRecord, code string) (AuthSession, error) {
	pair, exchangeErr := s.tokenClient.Exchange(ctx, code, record.Verifier)
	if exchangeErr != nil {
		return AuthSession{}, s.mapError(goerrors.Wrap(exchangeErr, goerrors.CategoryAuth, "core: authorization code exchange failed"))
	}
	if len(pair.Scopes) == 0 {
		pair.Scopes = append([]string(nil), record.Scopes...)
	}

	identity, resolveErr := s.resolveIdentity(ctx, pair)
	if resolveErr != nil {
		return AuthSession{}, s.mapError(resolveErr)
	}

	now := s.nowUTC()
	session := AuthSession{
		CharacterID:   identity.CharacterID,
		CharacterName: identity.CharacterName,
		Token:         pair,
		Status:        SessionStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if saveErr := s.SaveSession(ctx, session); saveErr != nil {
		return AuthSession{}, saveErr
	}
	return session, nil
}

func (s *Service) resolveIdentity(ctx context.Context, pair TokenPair) (Identity, error) {
	resolver := s.identityResolver
	if resolver == nil {
		resolver, _ = s.tokenClient.(IdentityResolver)
	}
	if resolver == nil {
		return Identity{}, goerrors.New("core: identity resolver is not configured", goerrors.CategoryInternal).
			WithTextCode(AuthErrorInternal)
	}
	identity, err := resolver.ResolveIdentity(ctx, pair)
	if err != nil {
		return Identity{}, goerrors.Wrap(err, goerrors.CategoryAuth, "core: identity resolution failed").
			WithTextCode(AuthErrorMalformedResponse)
	}
	if identity.CharacterID <= 0 {
		return Identity{}, goerrors.New("core: resolved identity is missing a character id", goerrors.CategoryAuth).
			WithTextCode(AuthErrorMalformedResponse)
	}
	return identity, nil
}

// generateCodeVerifier produces a PKCE code verifier per RFC 7636: 32 random
// bytes, base64url without padding.
func generateCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
