package sqlstore

import "github.com/goliatone/go-tokens/core"

var _ core.SecureStore = (*SecretStore)(nil)
