// Package storage persists extracted directory records into a SQL table.
//
// Backends register themselves under a kind ("sqlite", "postgres", "mssql")
// from an init function; import xsidir/internal/storage/all to get every
// backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// TableSpec describes the target table. Every column holds text.
//
// KeyColumn must be one of Columns; inserts skip rows whose key already exists,
// which makes repeated loads of the same directory idempotent.
type TableSpec struct {
	Name      string
	Columns   []string
	KeyColumn string
}

// Repository is implemented by each backend.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTable creates the table when missing and adds any column of spec
	// the existing table lacks.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// InsertRows inserts rows (ordered like spec.Columns) and returns how many
	// were actually written. Rows whose key already exists, in the table or
	// earlier in the same call, are skipped.
	InsertRows(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)
}

// Factory opens a Repository.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
