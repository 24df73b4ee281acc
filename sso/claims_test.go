package sso

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func tokenWithClaims(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return fmt.Sprintf("%s.%s.signature",
		base64.RawURLEncoding.EncodeToString(header),
		base64.RawURLEncoding.EncodeToString(payload),
	)
}

func TestDecodeClaims(t *testing.T) {
	expiry := time.Now().Add(20 * time.Minute).Truncate(time.Second).UTC()

	cases := []struct {
		name       string
		claims     map[string]any
		wantID     int64
		wantName   string
		wantScopes int
		wantErr    bool
	}{
		{
			name: "standard character token",
			claims: map[string]any{
				"sub":   "CHARACTER:EVE:93813",
				"name":  "CCP Alpha",
				"owner": "8PmzCeTKb4VFUDrHLc/AeZXDSWM=",
				"scp":   []any{"esi-location.read_location.v1", "esi-skills.read_skills.v1"},
				"exp":   expiry.Unix(),
			},
			wantID:     93813,
			wantName:   "CCP Alpha",
			wantScopes: 2,
		},
		{
			name: "single scope arrives as a bare string",
			claims: map[string]any{
				"sub": "CHARACTER:EVE:2119",
				"scp": "esi-location.read_location.v1",
				"exp": expiry.Unix(),
			},
			wantID:     2119,
			wantScopes: 1,
		},
		{
			name: "bare numeric subject",
			claims: map[string]any{
				"sub": "498125261",
				"exp": expiry.Unix(),
			},
			wantID: 498125261,
		},
		{
			name:    "missing subject",
			claims:  map[string]any{"exp": expiry.Unix()},
			wantErr: true,
		},
		{
			name: "non-numeric subject",
			claims: map[string]any{
				"sub": "CHARACTER:EVE:not-a-number",
				"exp": expiry.Unix(),
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeClaims(tokenWithClaims(t, tc.claims))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected decode to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode claims: %v", err)
			}
			if decoded.CharacterID != tc.wantID {
				t.Fatalf("character id = %d, want %d", decoded.CharacterID, tc.wantID)
			}
			if decoded.CharacterName != tc.wantName {
				t.Fatalf("character name = %q, want %q", decoded.CharacterName, tc.wantName)
			}
			if len(decoded.Scopes) != tc.wantScopes {
				t.Fatalf("scopes = %v, want %d entries", decoded.Scopes, tc.wantScopes)
			}
			if _, hasExp := tc.claims["exp"]; hasExp && !decoded.ExpiresAt.Equal(expiry) {
				t.Fatalf("expires at = %v, want %v", decoded.ExpiresAt, expiry)
			}
		})
	}
}

func TestDecodeClaims_RejectsOpaqueTokens(t *testing.T) {
	if _, err := DecodeClaims("not-a-jwt"); err == nil {
		t.Fatalf("expected an opaque token to be rejected")
	}
	if _, err := DecodeClaims(""); err == nil {
		t.Fatalf("expected an empty token to be rejected")
	}
}
