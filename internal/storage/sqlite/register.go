package sqlite

import (
	"context"

	"kgxops/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}
