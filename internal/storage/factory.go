package storage

import (
	"context"
	"fmt"
	"strings"
)

// Store kinds accepted by NewStore and by the settings schema.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

func Kinds() []string {
	return []string{KindMemory, KindSQLite}
}

// NewStore builds an uninitialized store. An empty kind selects the memory
// store.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (want %s)", kind, strings.Join(Kinds(), "|"))
	}
}

// Open builds a store of the given kind and initializes it, closing it again
// when Init fails.
func Open(ctx context.Context, kind, sqlitePath string) (Store, error) {
	store, err := NewStore(kind, sqlitePath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = CloseIfSupported(store)
		return nil, fmt.Errorf("init %s store: %w", kind, err)
	}
	return store, nil
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
