package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// SaveSession registers a freshly authenticated session. The refresh
// credential is persisted before the in-memory session becomes visible so a
// caller can never hold an access token whose refresh token would be lost on
// restart.
func (s *Service) SaveSession(ctx context.Context, session AuthSession) (err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"character_id": session.CharacterID.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "save_session", err, fields)
	}()

	if session.CharacterID <= 0 {
		err = s.mapError(fmt.Errorf("core: character id is required"))
		return err
	}
	if !session.Token.HasRefreshToken() {
		err = s.mapError(fmt.Errorf("core: session refresh token is required"))
		return err
	}

	now := s.nowUTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = SessionStatusActive
	}

	if persistErr := s.persistCredential(ctx, session); persistErr != nil {
		err = s.mapError(persistErr)
		return err
	}
	if clearErr := s.clearReauthFlag(ctx, session.CharacterID); clearErr != nil {
		s.logError(ctx, "clearing re-auth flag failed", map[string]any{
			"character_id": session.CharacterID.String(),
			"error":        clearErr.Error(),
		})
	}

	stored := cloneSession(&session)
	s.mu.Lock()
	s.sessions[session.CharacterID] = &stored
	s.mu.Unlock()

	return nil
}

// LoadOrRestoreSession returns the in-memory session for the identity,
// restoring it from the persisted credential when the process has none. A
// restored session has no usable access token yet; it is materialized through
// the refresh coordinator, never around it.
func (s *Service) LoadOrRestoreSession(ctx context.Context, characterID CharacterID) (session AuthSession, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"character_id": characterID.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "load_session", err, fields)
	}()

	if characterID <= 0 {
		err = s.mapError(fmt.Errorf("core: character id is required"))
		return AuthSession{}, err
	}

	s.mu.Lock()
	existing := s.sessions[characterID]
	if existing != nil {
		session = cloneSession(existing)
		s.mu.Unlock()
		return session, nil
	}
	s.mu.Unlock()

	if restoreErr := s.restoreSession(ctx, characterID); restoreErr != nil {
		err = s.mapError(restoreErr)
		return AuthSession{}, err
	}

	if _, refreshErr := s.Refresh(ctx, characterID); refreshErr != nil {
		err = refreshErr
		return AuthSession{}, err
	}

	s.mu.Lock()
	restored := s.sessions[characterID]
	if restored == nil {
		s.mu.Unlock()
		err = s.mapError(ErrNoSession)
		return AuthSession{}, err
	}
	session = cloneSession(restored)
	s.mu.Unlock()

	return session, nil
}

// ClearSession removes the identity's session, persisted credential and
// durable re-auth flag. Clearing an identity that has nothing stored is a
// no-op.
func (s *Service) ClearSession(ctx context.Context, characterID CharacterID) (err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{
		"character_id": characterID.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "clear_session", err, fields)
	}()

	if characterID <= 0 {
		err = s.mapError(fmt.Errorf("core: character id is required"))
		return err
	}

	s.mu.Lock()
	delete(s.sessions, characterID)
	s.mu.Unlock()

	if s.secureStore == nil {
		return nil
	}
	if deleteErr := s.secureStore.Delete(ctx, characterID.CredentialKey()); deleteErr != nil {
		err = s.mapError(goerrors.Wrap(deleteErr, goerrors.CategoryInternal, "core: secure store delete failed").
			WithTextCode(AuthErrorStorageFailure))
		return err
	}
	if deleteErr := s.secureStore.Delete(ctx, characterID.ReauthKey()); deleteErr != nil {
		err = s.mapError(goerrors.Wrap(deleteErr, goerrors.CategoryInternal, "core: secure store delete failed").
			WithTextCode(AuthErrorStorageFailure))
		return err
	}
	return nil
}

// NeedsReauthorization reports whether the identity's refresh credential was
// revoked and interactive login is required before any token can be issued.
func (s *Service) NeedsReauthorization(ctx context.Context, characterID CharacterID) (bool, error) {
	if s == nil || characterID <= 0 {
		return false, s.mapError(fmt.Errorf("core: character id is required"))
	}
	_, flagged, err := s.loadReauthFlag(ctx, characterID)
	if err != nil {
		return false, s.mapError(err)
	}
	return flagged, nil
}

func (s *Service) persistCredential(ctx context.Context, session AuthSession) error {
	if s.secureStore == nil {
		return fmt.Errorf("core: secure store is not configured")
	}
	credential := PersistedCredential{
		CharacterID:   session.CharacterID,
		CharacterName: session.CharacterName,
		RefreshToken:  session.Token.RefreshToken,
		TokenType:     session.Token.TokenType,
		Scopes:        append([]string(nil), session.Token.Scopes...),
		SavedAt:       s.nowUTC(),
	}
	payload, err := s.credentialCodec.Encode(credential)
	if err != nil {
		return err
	}
	payload, err = s.encryptPayload(ctx, payload)
	if err != nil {
		return err
	}
	if err := s.secureStore.Put(ctx, session.CharacterID.CredentialKey(), payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "core: secure store put failed").
			WithTextCode(AuthErrorStorageFailure)
	}
	return nil
}

// restoreSession materializes an in-memory session from the persisted
// credential. The session carries no access token; the caller is expected to
// go through Refresh before handing anything out.
func (s *Service) restoreSession(ctx context.Context, characterID CharacterID) error {
	credential, err := s.loadCredential(ctx, characterID)
	if err != nil {
		return err
	}

	now := s.nowUTC()
	session := AuthSession{
		CharacterID:   credential.CharacterID,
		CharacterName: credential.CharacterName,
		Token: TokenPair{
			RefreshToken: credential.RefreshToken,
			TokenType:    credential.TokenType,
			Scopes:       append([]string(nil), credential.Scopes...),
		},
		Status:    SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if _, exists := s.sessions[characterID]; !exists {
		s.sessions[characterID] = &session
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) loadCredential(ctx context.Context, characterID CharacterID) (PersistedCredential, error) {
	if s.secureStore == nil {
		return PersistedCredential{}, ErrNoSession
	}
	payload, err := s.secureStore.Get(ctx, characterID.CredentialKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return PersistedCredential{}, ErrNoSession
		}
		// A store that cannot be read degrades to "nothing persisted": the
		// caller sees NoSession and the identity goes back through login.
		s.logError(ctx, "credential load failed", map[string]any{
			"character_id": characterID.String(),
			"error":        err.Error(),
		})
		return PersistedCredential{}, ErrNoSession
	}
	payload, err = s.decryptPayload(ctx, payload)
	if err != nil {
		s.logError(ctx, "credential decrypt failed", map[string]any{
			"character_id": characterID.String(),
			"error":        err.Error(),
		})
		return PersistedCredential{}, ErrNoSession
	}
	credential, err := s.credentialCodec.Decode(payload)
	if err != nil {
		s.logError(ctx, "credential decode failed", map[string]any{
			"character_id": characterID.String(),
			"error":        err.Error(),
		})
		return PersistedCredential{}, ErrNoSession
	}
	if credential.CharacterID == 0 {
		credential.CharacterID = characterID
	}
	return credential, nil
}

func (s *Service) recordReauthFlag(ctx context.Context, characterID CharacterID, reason string) error {
	if s.secureStore == nil {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "refresh credential revoked"
	}
	flag := ReauthFlag{
		CharacterID: characterID,
		Reason:      reason,
		FlaggedAt:   s.nowUTC(),
	}
	payload, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("core: encode re-auth flag: %w", err)
	}
	payload, err = s.encryptPayload(ctx, payload)
	if err != nil {
		return err
	}
	return s.secureStore.Put(ctx, characterID.ReauthKey(), payload)
}

func (s *Service) loadReauthFlag(ctx context.Context, characterID CharacterID) (ReauthFlag, bool, error) {
	if s.secureStore == nil {
		return ReauthFlag{}, false, nil
	}
	payload, err := s.secureStore.Get(ctx, characterID.ReauthKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return ReauthFlag{}, false, nil
		}
		return ReauthFlag{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "core: secure store get failed").
			WithTextCode(AuthErrorStorageFailure)
	}
	payload, err = s.decryptPayload(ctx, payload)
	if err != nil {
		return ReauthFlag{}, false, err
	}
	flag := ReauthFlag{}
	if err := json.Unmarshal(payload, &flag); err != nil {
		return ReauthFlag{}, false, fmt.Errorf("core: decode re-auth flag: %w", err)
	}
	return flag, true, nil
}

func (s *Service) clearReauthFlag(ctx context.Context, characterID CharacterID) error {
	if s.secureStore == nil {
		return nil
	}
	return s.secureStore.Delete(ctx, characterID.ReauthKey())
}

func (s *Service) encryptPayload(ctx context.Context, payload []byte) ([]byte, error) {
	if s.secretProvider == nil {
		return payload, nil
	}
	encrypted, err := s.secretProvider.Encrypt(ctx, payload)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "core: credential encryption failed").
			WithTextCode(AuthErrorStorageFailure)
	}
	return encrypted, nil
}

func (s *Service) decryptPayload(ctx context.Context, payload []byte) ([]byte, error) {
	if s.secretProvider == nil {
		return payload, nil
	}
	decrypted, err := s.secretProvider.Decrypt(ctx, payload)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "core: credential decryption failed").
			WithTextCode(AuthErrorStorageFailure)
	}
	return decrypted, nil
}
