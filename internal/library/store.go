package library

import "context"

// Entry is a persisted named query. Query holds canonical BQL text.
type Entry struct {
	Name        string `json:"name" yaml:"-"`
	Query       string `json:"query" yaml:"query"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// RenamedFrom names the entry being renamed into this one while that
	// rename is still in progress.
	RenamedFrom string `json:"renamed_from,omitempty" yaml:"renamed_from,omitempty"`
}

// Store persists library entries. Each Put and Delete must be atomic on
// its own; nothing spans calls.
type Store interface {
	// Load returns every entry sorted by name.
	Load(ctx context.Context) ([]Entry, error)
	// Put creates or replaces the entry called e.Name. If e.RenamedFrom has
	// the same key as e.Name, that entry is replaced by e in the same write.
	Put(ctx context.Context, e Entry) error
	// Delete removes name, returning ErrNameNotFound if it is absent.
	Delete(ctx context.Context, name string) error
	Close() error
}
