package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-tokens/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SecretStore keeps encrypted credential payloads and re-auth markers in a
// token_secrets table, one row per key. Put is an upsert so a rotated
// credential replaces the previous row in a single statement instead of a
// read-modify-write that could race with another process.
type SecretStore struct {
	db   *bun.DB
	repo repository.Repository[*secretRecord]
}

func (s *SecretStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: secret store is not configured")
	}
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return fmt.Errorf("sqlstore: secret key is required")
	}
	if len(value) == 0 {
		return fmt.Errorf("sqlstore: secret value is required")
	}

	now := time.Now().UTC()
	record := &secretRecord{
		ID:        uuid.NewString(),
		Key:       trimmedKey,
		Value:     append([]byte(nil), value...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *SecretStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: secret store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("key", "=", strings.TrimSpace(key)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.ErrKeyNotFound
	}
	return append([]byte(nil), records[0].Value...), nil
}

func (s *SecretStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: secret store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*secretRecord)(nil)).
		Where("key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	return err
}
