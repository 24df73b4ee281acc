package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "persisted_credential_json"
	CredentialPayloadVersionV1    = 1
)

// CredentialCodec converts a persisted credential to and from the byte
// payload handed to a SecureStore.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential PersistedCredential) ([]byte, error)
	Decode(payload []byte) (PersistedCredential, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	CharacterID   int64     `json:"character_id"`
	CharacterName string    `json:"character_name,omitempty"`
	RefreshToken  string    `json:"refresh_token"`
	TokenType     string    `json:"token_type,omitempty"`
	Scopes        []string  `json:"scopes,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

func (JSONCredentialCodec) Encode(credential PersistedCredential) ([]byte, error) {
	if strings.TrimSpace(credential.RefreshToken) == "" {
		return nil, fmt.Errorf("core: credential payload requires a refresh token")
	}
	payload := jsonCredentialPayload{
		CharacterID:   int64(credential.CharacterID),
		CharacterName: strings.TrimSpace(credential.CharacterName),
		RefreshToken:  strings.TrimSpace(credential.RefreshToken),
		TokenType:     strings.TrimSpace(credential.TokenType),
		Scopes:        append([]string(nil), credential.Scopes...),
		SavedAt:       credential.SavedAt.UTC(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (PersistedCredential, error) {
	if len(payload) == 0 {
		return PersistedCredential{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return PersistedCredential{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	if strings.TrimSpace(decoded.RefreshToken) == "" {
		return PersistedCredential{}, fmt.Errorf("core: credential payload is missing a refresh token")
	}
	return PersistedCredential{
		CharacterID:   CharacterID(decoded.CharacterID),
		CharacterName: strings.TrimSpace(decoded.CharacterName),
		RefreshToken:  strings.TrimSpace(decoded.RefreshToken),
		TokenType:     strings.TrimSpace(decoded.TokenType),
		Scopes:        append([]string(nil), decoded.Scopes...),
		SavedAt:       decoded.SavedAt.UTC(),
	}, nil
}
