package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

func NewSecretStoreFromPersistence(client *persistence.Client) (*SecretStore, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewSecretStore(client)
}

func NewSecretStoreFromDB(db *bun.DB) (*SecretStore, error) {
	return NewSecretStore(db)
}

// NewSecretStore accepts either a *bun.DB or anything exposing DB() *bun.DB,
// such as a go-persistence-bun client.
func NewSecretStore(candidate any) (*SecretStore, error) {
	db, err := resolveBunDB(candidate)
	if err != nil {
		return nil, err
	}

	repo := repository.NewRepository[*secretRecord](db, secretHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid secret repository wiring: %w", err)
		}
	}

	return &SecretStore{
		db:   db,
		repo: repo,
	}, nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client %T", candidate)
	}
}
