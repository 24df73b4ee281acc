package sqlstore_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-tokens/core"
	tokenmigrations "github.com/goliatone/go-tokens/migrations"
	sqlstore "github.com/goliatone/go-tokens/store/sql"
)

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:tokens-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	client, err := sqlstore.OpenSQLite(sqlstore.Config{
		DSN:            dsn,
		PingTimeout:    time.Second,
		OtelIdentifier: "go-tokens-tests",
	})
	if err != nil {
		t.Fatalf("open sqlite client: %v", err)
	}

	ctx := context.Background()
	_, err = tokenmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != tokenmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, tokenmigrations.WithValidationTargets(tokenmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"token_secrets",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "token_secrets" {
		t.Fatalf("expected token_secrets table, got %q", tableName)
	}
}

func TestSecretStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSecretStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new secret store: %v", err)
	}

	key := "credential::93813"
	if err := store.Put(ctx, key, []byte("cipher-v1")); err != nil {
		t.Fatalf("put secret: %v", err)
	}

	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if !bytes.Equal(value, []byte("cipher-v1")) {
		t.Fatalf("expected cipher-v1, got %q", value)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, core.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestSecretStore_PutOverwritesExistingKey(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSecretStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new secret store: %v", err)
	}

	key := "credential::93813"
	if err := store.Put(ctx, key, []byte("cipher-v1")); err != nil {
		t.Fatalf("put initial secret: %v", err)
	}
	if err := store.Put(ctx, key, []byte("cipher-v2")); err != nil {
		t.Fatalf("put rotated secret: %v", err)
	}

	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if !bytes.Equal(value, []byte("cipher-v2")) {
		t.Fatalf("expected rotated payload cipher-v2, got %q", value)
	}

	var count int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM token_secrets WHERE key = ?", key,
	).Scan(ctx, &count); err != nil {
		t.Fatalf("count secret rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single row per key after upsert, got %d", count)
	}
}

func TestSecretStore_GetMissingKey(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSecretStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new secret store: %v", err)
	}

	if _, err := store.Get(context.Background(), "credential::404"); !errors.Is(err, core.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSecretStore_DeleteIsIdempotent(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSecretStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new secret store: %v", err)
	}

	if err := store.Delete(context.Background(), "credential::404"); err != nil {
		t.Fatalf("expected delete of missing key to succeed, got %v", err)
	}
}

type staticTokenClient struct {
	refreshCalls int
}

func (c *staticTokenClient) AuthorizationURL(state string, _ string, _ []string) string {
	return "https://login.example.com/v2/oauth/authorize?state=" + state
}

func (c *staticTokenClient) Exchange(_ context.Context, _ string, _ string) (core.TokenPair, error) {
	return core.TokenPair{}, fmt.Errorf("unexpected exchange")
}

func (c *staticTokenClient) Refresh(_ context.Context, refreshToken string) (core.TokenPair, error) {
	c.refreshCalls++
	return core.TokenPair{
		AccessToken:  "restored-access",
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().UTC().Add(20 * time.Minute),
	}, nil
}

func TestServiceSessionsSurviveRestartWithSQLSecretStore(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSecretStoreFromPersistence(client)
	if err != nil {
		t.Fatalf("new secret store: %v", err)
	}

	firstClient := &staticTokenClient{}
	first, err := core.NewService(core.Config{},
		core.WithSecureStore(store),
		core.WithTokenClient(firstClient),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	session := core.AuthSession{
		CharacterID:   93813,
		CharacterName: "CCP Zoetrope",
		Token: core.TokenPair{
			AccessToken:  "initial-access",
			RefreshToken: "refresh-93813",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().UTC().Add(20 * time.Minute),
		},
		Status: core.SessionStatusActive,
	}
	if err := first.SaveSession(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	// A fresh service over the same database simulates a process restart.
	secondClient := &staticTokenClient{}
	second, err := core.NewService(core.Config{},
		core.WithSecureStore(store),
		core.WithTokenClient(secondClient),
	)
	if err != nil {
		t.Fatalf("new service after restart: %v", err)
	}

	restored, err := second.LoadOrRestoreSession(ctx, 93813)
	if err != nil {
		t.Fatalf("restore session: %v", err)
	}
	if restored.CharacterName != "CCP Zoetrope" {
		t.Fatalf("expected persisted character name, got %q", restored.CharacterName)
	}
	if restored.Token.AccessToken != "restored-access" {
		t.Fatalf("expected restored access token, got %q", restored.Token.AccessToken)
	}
	if secondClient.refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh during restore, got %d", secondClient.refreshCalls)
	}
}
