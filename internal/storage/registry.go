package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	kgxerr "kgxops/internal/errors"

	"go.uber.org/zap"
)

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name. Empty selects "sqlite".
	Kind string

	// Path is the database file. Empty or ":memory:" opens an in-memory store.
	Path string

	// ReadOnly opens the store for concurrent readers; every mutating call
	// fails with CodeStoreReadOnly.
	ReadOnly bool

	// Logger receives statement-level debug logs. Nil disables them.
	Logger *zap.Logger
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available by name. Registering the same name twice
// replaces the previous factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// ListKinds returns a sorted snapshot of registered backend names.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open opens the backend named by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "sqlite"
	}
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, kgxerr.New(kgxerr.CodeStoreBackendUnknown, "unsupported storage kind",
			kgxerr.Field("kind", kind), kgxerr.Field("available", ListKinds()))
	}
	return f(ctx, cfg)
}
