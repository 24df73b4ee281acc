package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"

	"github.com/goliatone/go-tokens/core"
)

const defaultRequestTimeout = 30 * time.Second

// Config describes one SSO application registration.
type Config struct {
	ClientID       string
	ClientSecret   string
	AuthURL        string
	TokenURL       string
	RedirectURL    string
	Scopes         []string
	UserAgent      string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Client speaks the authorization-code + PKCE and refresh-token grants
// against a single token endpoint. It implements core.TokenClient and
// core.IdentityResolver.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("sso: client id is required")
	}
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("sso: auth url is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("sso: token url is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if cfg.UserAgent != "" {
		httpClient = withUserAgent(httpClient, cfg.UserAgent)
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (c *Client) oauthConfig(scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       append([]string(nil), scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.AuthURL,
			TokenURL: c.cfg.TokenURL,
		},
	}
}

// httpContext injects the configured http client into the oauth2 machinery.
func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizationURL builds the authorization-code URL carrying the S256
// challenge for the given verifier.
func (c *Client) AuthorizationURL(state string, verifier string, scopes []string) string {
	return c.oauthConfig(scopes).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange swaps an authorization code for the first token pair.
func (c *Client) Exchange(ctx context.Context, code string, verifier string) (core.TokenPair, error) {
	token, err := c.oauthConfig(nil).Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return core.TokenPair{}, classifyTokenEndpointError(err, "exchange")
	}
	return pairFromToken(token), nil
}

// Refresh mints a new token pair from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return core.TokenPair{}, goerrors.New("sso: refresh token is required", goerrors.CategoryBadInput).
			WithTextCode(core.AuthErrorBadInput)
	}
	source := c.oauthConfig(nil).TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return core.TokenPair{}, classifyTokenEndpointError(err, "refresh")
	}
	return pairFromToken(token), nil
}

// ResolveIdentity reads the identity from the access token's claims, falling
// back to the ID token when the access token is opaque.
func (c *Client) ResolveIdentity(_ context.Context, pair core.TokenPair) (core.Identity, error) {
	claims, err := DecodeClaims(pair.AccessToken)
	if err != nil && pair.IDToken != "" {
		claims, err = DecodeClaims(pair.IDToken)
	}
	if err != nil {
		return core.Identity{}, err
	}
	return core.Identity{
		CharacterID:   core.CharacterID(claims.CharacterID),
		CharacterName: claims.CharacterName,
	}, nil
}

func pairFromToken(token *oauth2.Token) core.TokenPair {
	pair := core.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry.UTC(),
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		pair.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		pair.Scopes = strings.Fields(scope)
	}
	return pair
}

// classifyTokenEndpointError maps a token-endpoint failure onto the refresh
// failure taxonomy. A structured invalid_grant body is terminal; 5xx and
// transport errors are transient; a response that cannot be decoded is
// malformed.
func classifyTokenEndpointError(err error, operation string) error {
	var retrieveErr *oauth2.RetrieveError
	if goerrors.As(err, &retrieveErr) {
		errorCode := strings.TrimSpace(retrieveErr.ErrorCode)
		description := strings.TrimSpace(retrieveErr.ErrorDescription)
		if errorCode == "" {
			errorCode, description = decodeErrorBody(retrieveErr.Body)
		}

		metadata := map[string]any{
			"operation": operation,
		}
		if retrieveErr.Response != nil {
			metadata["status"] = retrieveErr.Response.StatusCode
		}
		if description != "" {
			metadata["error_description"] = description
		}

		switch {
		case errorCode == "invalid_grant" || errorCode == "invalid_token":
			return goerrors.Wrap(err, goerrors.CategoryAuth, "sso: refresh token rejected by the endpoint").
				WithTextCode(core.AuthErrorInvalidGrant).
				WithMetadata(metadata)
		case errorCode == "" && retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500:
			return goerrors.Wrap(err, goerrors.CategoryExternal, "sso: token endpoint unavailable").
				WithTextCode(core.AuthErrorNetworkTransient).
				WithMetadata(metadata)
		case errorCode == "":
			return goerrors.Wrap(err, goerrors.CategoryExternal, "sso: token endpoint response could not be decoded").
				WithTextCode(core.AuthErrorMalformedResponse).
				WithMetadata(metadata)
		default:
			metadata["error_code"] = errorCode
			return goerrors.Wrap(err, goerrors.CategoryExternal, "sso: token endpoint refused the request").
				WithTextCode(core.AuthErrorNetworkTransient).
				WithMetadata(metadata)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "cannot parse") || strings.Contains(msg, "invalid character") ||
		strings.Contains(msg, "unexpected end") {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "sso: token endpoint response could not be decoded").
			WithTextCode(core.AuthErrorMalformedResponse)
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, "sso: token endpoint unreachable").
		WithTextCode(core.AuthErrorNetworkTransient)
}

func decodeErrorBody(body []byte) (string, string) {
	if len(body) == 0 {
		return "", ""
	}
	payload := struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return strings.TrimSpace(payload.Error), strings.TrimSpace(payload.ErrorDescription)
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("User-Agent", t.userAgent)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(cloned)
}

func withUserAgent(client *http.Client, userAgent string) *http.Client {
	wrapped := *client
	wrapped.Transport = &userAgentTransport{
		base:      client.Transport,
		userAgent: userAgent,
	}
	return &wrapped
}

var (
	_ core.TokenClient      = (*Client)(nil)
	_ core.IdentityResolver = (*Client)(nil)
)
