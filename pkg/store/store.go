// Package store provides thread persistence backends: in memory, one JSON
// file per thread, and SQLite.
package store

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/threads"
)

// Open returns the backend selected by cfg. Callers should close the result
// when it implements io.Closer.
func Open(cfg config.StoreConfig) (threads.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreJSON:
		return NewJSONStore(cfg.Path)
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Close closes s if it holds resources
func Close(s threads.Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return fmt.Errorf("invalid thread id %q", id)
	}
	return nil
}
