package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type scriptedTokenClient struct {
	mu           sync.Mutex
	refreshCalls int
	refreshDelay time.Duration
	refreshFn    func(refreshToken string) (TokenPair, error)
	exchangeFn   func(code, verifier string) (TokenPair, error)
	identity     Identity
}

func (c *scriptedTokenClient) AuthorizationURL(state, verifier string, scopes []string) string {
	return fmt.Sprintf("https://login.example.com/v2/oauth/authorize?state=%s", state)
}

func (c *scriptedTokenClient) Exchange(_ context.Context, code, verifier string) (TokenPair, error) {
	if c.exchangeFn == nil {
		return TokenPair{}, fmt.Errorf("scripted client has no exchange behavior")
	}
	return c.exchangeFn(code, verifier)
}

func (c *scriptedTokenClient) Refresh(_ context.Context, refreshToken string) (TokenPair, error) {
	c.mu.Lock()
	c.refreshCalls++
	delay := c.refreshDelay
	fn := c.refreshFn
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fn == nil {
		return TokenPair{}, fmt.Errorf("scripted client has no refresh behavior")
	}
	return fn(refreshToken)
}

func (c *scriptedTokenClient) ResolveIdentity(context.Context, TokenPair) (Identity, error) {
	if c.identity.CharacterID == 0 {
		return Identity{}, fmt.Errorf("scripted client has no identity")
	}
	return c.identity, nil
}

func (c *scriptedTokenClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshCalls
}

func newTestService(t *testing.T, client TokenClient, options ...Option) *Service {
	t.Helper()
	svc, err := NewService(Config{}, append([]Option{WithTokenClient(client)}, options...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func activePair(accessToken string, validFor time.Duration) TokenPair {
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: "refresh-" + accessToken,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().UTC().Add(validFor),
	}
}

func TestNewService_AppliesConfigLayering(t *testing.T) {
	svc, err := NewService(Config{GraceWindow: 2 * time.Minute})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if got := svc.Config().GraceWindow; got != 2*time.Minute {
		t.Fatalf("expected runtime grace window to win, got %v", got)
	}
	if got := svc.Config().ServiceName; got != "tokens" {
		t.Fatalf("expected default service name, got %q", got)
	}
	if got := svc.Config().Flow.StateTTL; got != defaultFlowStateTTL {
		t.Fatalf("expected default flow state ttl, got %v", got)
	}
}

func TestNewService_RejectsInvalidRuntimeConfig(t *testing.T) {
	if _, err := NewService(Config{GraceWindow: -time.Minute}); err == nil {
		t.Fatalf("expected negative grace window to be rejected")
	}
}
