package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type secretRecord struct {
	bun.BaseModel `bun:"table:token_secrets,alias:ts"`

	ID        string    `bun:"id,pk"`
	Key       string    `bun:"key,unique,notnull"`
	Value     []byte    `bun:"value,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
