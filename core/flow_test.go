package core

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func exchangeClient(identity Identity) *scriptedTokenClient {
	return &scriptedTokenClient{
		identity: identity,
		exchangeFn: func(code, verifier string) (TokenPair, error) {
			if code == "" || verifier == "" {
				return TokenPair{}, fmt.Errorf("missing code or verifier")
			}
			return activePair("issued", time.Hour), nil
		},
	}
}

func TestBeginCompleteAuthorization_RoundTrip(t *testing.T) {
	var seenVerifier string
	client := exchangeClient(Identity{CharacterID: 93813, CharacterName: "CCP Alpha"})
	client.exchangeFn = func(code, verifier string) (TokenPair, error) {
		seenVerifier = verifier
		if code != "auth-code" {
			return TokenPair{}, fmt.Errorf("unexpected code %q", code)
		}
		return activePair("issued", time.Hour), nil
	}
	svc := newTestService(t, client)
	ctx := context.Background()

	prompt, err := svc.BeginAuthorization(ctx, []string{"esi-location.read_location.v1"})
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	if prompt.State == "" {
		t.Fatalf("expected a state token")
	}
	parsed, err := url.Parse(prompt.URL)
	if err != nil {
		t.Fatalf("parse prompt url: %v", err)
	}
	if got := parsed.Query().Get("state"); got != prompt.State {
		t.Fatalf("url state %q does not match prompt state %q", got, prompt.State)
	}

	session, err := svc.CompleteAuthorization(ctx, CallbackRequest{State: prompt.State, Code: "auth-code"})
	if err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	if session.CharacterID != 93813 {
		t.Fatalf("got character %d, want the resolved identity", session.CharacterID)
	}
	if seenVerifier == "" {
		t.Fatalf("expected the PKCE verifier to reach the exchange")
	}
	if session.Token.Scopes[0] != "esi-location.read_location.v1" {
		t.Fatalf("expected the requested scopes on the session, got %v", session.Token.Scopes)
	}

	// The completed login is persisted; a cached token is immediately usable.
	token, err := svc.GetAccessToken(ctx, 93813)
	if err != nil {
		t.Fatalf("get access token: %v", err)
	}
	if token != "issued" {
		t.Fatalf("got %q, want the issued token", token)
	}
}

func TestBeginAuthorization_IsNonReentrant(t *testing.T) {
	svc := newTestService(t, exchangeClient(Identity{CharacterID: 1}))
	ctx := context.Background()

	if _, err := svc.BeginAuthorization(ctx, nil); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	_, err := svc.BeginAuthorization(ctx, nil)
	if err == nil {
		t.Fatalf("expected the second begin to fail while a flow is active")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != AuthErrorFlowActive {
		t.Fatalf("expected %s, got %v", AuthErrorFlowActive, err)
	}
}

func TestCompleteAuthorization_StateIsSingleUse(t *testing.T) {
	svc := newTestService(t, exchangeClient(Identity{CharacterID: 93813}))
	ctx := context.Background()

	prompt, err := svc.BeginAuthorization(ctx, nil)
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	if _, err := svc.CompleteAuthorization(ctx, CallbackRequest{State: prompt.State, Code: "auth-code"}); err != nil {
		t.Fatalf("first complete: %v", err)
	}

	_, err = svc.CompleteAuthorization(ctx, CallbackRequest{State: prompt.State, Code: "auth-code"})
	if err == nil {
		t.Fatalf("expected a replayed state to be rejected")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != AuthErrorFlowStateInvalid {
		t.Fatalf("expected %s, got %v", AuthErrorFlowStateInvalid, err)
	}
}

func TestCompleteAuthorization_UnknownState(t *testing.T) {
	svc := newTestService(t, exchangeClient(Identity{CharacterID: 93813}))

	_, err := svc.CompleteAuthorization(context.Background(), CallbackRequest{State: "forged", Code: "auth-code"})
	if err == nil {
		t.Fatalf("expected a forged state to be rejected")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != AuthErrorFlowStateInvalid {
		t.Fatalf("expected %s, got %v", AuthErrorFlowStateInvalid, err)
	}
}

func TestAuthorize_WaitsForTheCallback(t *testing.T) {
	svc := newTestService(t, exchangeClient(Identity{CharacterID: 93813, CharacterName: "CCP Alpha"}))
	ctx := context.Background()

	opened := make(chan string, 1)
	agent := UserAgentFunc(func(_ context.Context, rawURL string) error {
		opened <- rawURL
		return nil
	})

	type result struct {
		session AuthSession
		err     error
	}
	done := make(chan result, 1)
	go func() {
		session, err := svc.Authorize(ctx, AuthorizeRequest{
			Scopes:    []string{"esi-skills.read_skills.v1"},
			UserAgent: agent,
		})
		done <- result{session: session, err: err}
	}()

	rawURL := <-opened
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse opened url: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatalf("expected the opened url to carry the state")
	}

	if _, err := svc.CompleteAuthorization(ctx, CallbackRequest{State: state, Code: "auth-code"}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}

	got := <-done
	if got.err != nil {
		t.Fatalf("authorize: %v", got.err)
	}
	if got.session.CharacterID != 93813 {
		t.Fatalf("got character %d, want the resolved identity", got.session.CharacterID)
	}
}

func TestAuthorize_ContextCancellationAbandonsTheFlow(t *testing.T) {
	store := NewMemorySecureStore()
	svc := newTestService(t, exchangeClient(Identity{CharacterID: 93813}), WithSecureStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	opened := make(chan struct{})
	agent := UserAgentFunc(func(context.Context, string) error {
		close(opened)
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Authorize(ctx, AuthorizeRequest{UserAgent: agent})
		done <- err
	}()

	<-opened
	cancel()
	if err := <-done; err == nil {
		t.Fatalf("expected a cancelled authorize to fail")
	}

	// Nothing was stored and the next attempt starts cleanly.
	if _, err := store.Get(context.Background(), CharacterID(93813).CredentialKey()); err != ErrKeyNotFound {
		t.Fatalf("expected no persisted credential, got %v", err)
	}
	if _, err := svc.BeginAuthorization(context.Background(), nil); err != nil {
		t.Fatalf("expected a fresh flow after cancellation, got %v", err)
	}
}

func TestAuthorize_CompletedLoginClearsTheReauthFlag(t *testing.T) {
	client := exchangeClient(Identity{CharacterID: 93813})
	client.refreshFn = func(string) (TokenPair, error) {
		return TokenPair{}, fmt.Errorf("invalid_grant")
	}
	svc := newTestService(t, client)
	ctx := context.Background()

	if err := svc.SaveSession(ctx, AuthSession{
		CharacterID: 93813,
		Token:       activePair("stale", -time.Minute),
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if _, err := svc.Refresh(ctx, 93813); !IsInvalidGrant(err) {
		t.Fatalf("expected invalid grant, got %v", err)
	}
	if flagged, _ := svc.NeedsReauthorization(ctx, 93813); !flagged {
		t.Fatalf("expected the durable flag before re-login")
	}

	prompt, err := svc.BeginAuthorization(ctx, nil)
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	if _, err := svc.CompleteAuthorization(ctx, CallbackRequest{State: prompt.State, Code: "auth-code"}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}

	flagged, err := svc.NeedsReauthorization(ctx, 93813)
	if err != nil {
		t.Fatalf("needs reauthorization: %v", err)
	}
	if flagged {
		t.Fatalf("expected a completed login to clear the flag")
	}
}
