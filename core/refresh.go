package core

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// refreshTask is the in-flight marker for one identity's refresh. Joiners
// wait on done and read pair/err afterwards; both are written exactly once,
// before done closes.
type refreshTask struct {
	done chan struct{}
	pair TokenPair
	err  error
}

// GetAccessToken returns a usable access token for the identity, refreshing
// through the coordinator when the cached token is absent or inside the grace
// window. Concurrent callers for the same identity share one exchange.
func (s *Service) GetAccessToken(ctx context.Context, characterID CharacterID) (token string, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"character_id": characterID.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_access_token", err, fields)
	}()

	if characterID <= 0 {
		err = s.mapError(fmt.Errorf("core: character id is required"))
		return "", err
	}

	s.mu.Lock()
	session := s.sessions[characterID]
	if session != nil && Valid(session.Token, s.nowUTC(), s.config.graceWindow()) {
		token = session.Token.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	pair, refreshErr := s.Refresh(ctx, characterID)
	if refreshErr != nil {
		err = refreshErr
		return "", err
	}
	return pair.AccessToken, nil
}

// Refresh exchanges the identity's refresh token for a new pair. The
// check-then-register step is atomic under the service mutex: the first
// caller becomes the owner and performs the exchange, later callers join the
// existing task and share its outcome. A joiner whose context ends stops
// waiting; the exchange itself is never cancelled by joiners and completes
// for everyone else.
func (s *Service) Refresh(ctx context.Context, characterID CharacterID) (pair TokenPair, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"character_id": characterID.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	if characterID <= 0 {
		err = s.mapError(fmt.Errorf("core: character id is required"))
		return TokenPair{}, err
	}

	s.mu.Lock()
	if task, inFlight := s.refreshes[characterID]; inFlight {
		s.mu.Unlock()
		pair, err = s.joinRefresh(ctx, task)
		return pair, err
	}
	task := &refreshTask{done: make(chan struct{})}
	s.refreshes[characterID] = task
	if session := s.sessions[characterID]; session != nil {
		_ = session.TransitionTo(SessionStatusRefreshing, s.nowUTC())
	}
	s.mu.Unlock()

	go s.runRefresh(context.WithoutCancel(ctx), characterID, task)

	pair, err = s.joinRefresh(ctx, task)
	return pair, err
}

func (s *Service) joinRefresh(ctx context.Context, task *refreshTask) (TokenPair, error) {
	select {
	case <-ctx.Done():
		return TokenPair{}, s.mapError(ctx.Err())
	case <-task.done:
		if task.err != nil {
			return TokenPair{}, s.mapError(task.err)
		}
		return task.pair, nil
	}
}

// runRefresh owns the exchange for one task. It always unregisters the task
// and closes done, success or failure.
func (s *Service) runRefresh(ctx context.Context, characterID CharacterID, task *refreshTask) {
	defer func() {
		s.mu.Lock()
		delete(s.refreshes, characterID)
		s.mu.Unlock()
		close(task.done)
	}()

	task.pair, task.err = s.performRefresh(ctx, characterID)
}

func (s *Service) performRefresh(ctx context.Context, characterID CharacterID) (TokenPair, error) {
	if _, flagged, flagErr := s.loadReauthFlag(ctx, characterID); flagErr == nil && flagged {
		return TokenPair{}, goerrors.New("core: reauthorization required", goerrors.CategoryAuth).
			WithTextCode(AuthErrorReauthRequired).
			WithMetadata(map[string]any{"character_id": characterID.String()})
	}

	refreshToken, err := s.currentRefreshToken(ctx, characterID)
	if err != nil {
		return TokenPair{}, err
	}
	if s.tokenClient == nil {
		return TokenPair{}, goerrors.New("core: token client is not configured", goerrors.CategoryInternal).
			WithTextCode(AuthErrorInternal)
	}

	pair, exchangeErr := s.tokenClient.Refresh(ctx, refreshToken)
	if exchangeErr != nil {
		return TokenPair{}, s.handleRefreshFailure(ctx, characterID, exchangeErr)
	}

	// Token endpoints may omit the refresh token when it did not rotate.
	if !pair.HasRefreshToken() {
		pair.RefreshToken = refreshToken
	}

	if err := s.commitRefreshedPair(ctx, characterID, pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) currentRefreshToken(ctx context.Context, characterID CharacterID) (string, error) {
	s.mu.Lock()
	session := s.sessions[characterID]
	if session != nil && session.Token.HasRefreshToken() {
		token := session.Token.RefreshToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	credential, err := s.loadCredential(ctx, characterID)
	if err != nil {
		return "", err
	}
	return credential.RefreshToken, nil
}

// commitRefreshedPair persists the rotated credential before the new access
// token becomes visible to any caller.
func (s *Service) commitRefreshedPair(ctx context.Context, characterID CharacterID, pair TokenPair) error {
	now := s.nowUTC()

	s.mu.Lock()
	session := s.sessions[characterID]
	var name string
	if session != nil {
		name = session.CharacterName
	}
	s.mu.Unlock()

	staged := AuthSession{
		CharacterID:   characterID,
		CharacterName: name,
		Token:         pair,
		Status:        SessionStatusActive,
		UpdatedAt:     now,
	}
	if err := s.persistCredential(ctx, staged); err != nil {
		return err
	}

	s.mu.Lock()
	session = s.sessions[characterID]
	if session == nil {
		staged.CreatedAt = now
		stored := cloneSession(&staged)
		s.sessions[characterID] = &stored
	} else {
		session.Token = pair
		session.Status = SessionStatusActive
		session.UpdatedAt = now
	}
	s.mu.Unlock()
	return nil
}

// handleRefreshFailure applies the failure taxonomy. invalid_grant is
// terminal: the credential is purged, the session destroyed, a durable
// re-auth flag recorded and subscribers notified. Transient and malformed
// failures leave everything in place for a later retry.
func (s *Service) handleRefreshFailure(ctx context.Context, characterID CharacterID, exchangeErr error) error {
	switch ClassifyRefreshError(exchangeErr) {
	case FailureInvalidGrant:
		s.invalidateSession(ctx, characterID, exchangeErr)
		return goerrors.Wrap(exchangeErr, goerrors.CategoryAuth, "core: refresh token rejected").
			WithTextCode(AuthErrorInvalidGrant).
			WithMetadata(map[string]any{"character_id": characterID.String()})
	case FailureMalformed:
		s.restoreActiveStatus(characterID)
		return goerrors.Wrap(exchangeErr, goerrors.CategoryExternal, "core: token endpoint response malformed").
			WithTextCode(AuthErrorMalformedResponse).
			WithMetadata(map[string]any{"character_id": characterID.String()})
	default:
		s.restoreActiveStatus(characterID)
		return goerrors.Wrap(exchangeErr, goerrors.CategoryExternal, "core: token endpoint unreachable").
			WithTextCode(AuthErrorNetworkTransient).
			WithMetadata(map[string]any{"character_id": characterID.String()})
	}
}

func (s *Service) restoreActiveStatus(characterID CharacterID) {
	s.mu.Lock()
	if session := s.sessions[characterID]; session != nil {
		_ = session.TransitionTo(SessionStatusActive, s.nowUTC())
	}
	s.mu.Unlock()
}

func (s *Service) invalidateSession(ctx context.Context, characterID CharacterID, cause error) {
	s.mu.Lock()
	delete(s.sessions, characterID)
	s.mu.Unlock()

	if s.secureStore != nil {
		if err := s.secureStore.Delete(ctx, characterID.CredentialKey()); err != nil {
			s.logError(ctx, "credential purge failed", map[string]any{
				"character_id": characterID.String(),
				"error":        err.Error(),
			})
		}
	}

	reason := "refresh credential revoked"
	if cause != nil {
		reason = cause.Error()
	}
	if err := s.recordReauthFlag(ctx, characterID, reason); err != nil {
		s.logError(ctx, "re-auth flag write failed", map[string]any{
			"character_id": characterID.String(),
			"error":        err.Error(),
		})
	}

	if s.eventBus != nil {
		s.eventBus.Publish(ctx, SessionEvent{
			CharacterID: characterID,
			Reason:      reason,
			OccurredAt:  s.nowUTC(),
		})
	}
}
