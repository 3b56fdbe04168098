package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/bql/internal/atomicfile"
	"github.com/aidanlsb/bql/internal/logging"
)

// YAMLStore keeps the library in a single YAML file:
//
//	queries:
//	  Seniors:
//	    query: age >= 65
//	    description: Everyone eligible for the senior discount
//
// Every write replaces the whole file atomically.
type YAMLStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

type yamlLibrary struct {
	Queries map[string]*Entry `yaml:"queries"`
}

// OpenYAML returns a store backed by path. The file is created on first write.
func OpenYAML(path string, logger *slog.Logger) *YAMLStore {
	logger = logging.Default(logger).With("component", "yaml-store")
	logger.Debug("opened library", "path", path)
	return &YAMLStore{path: path, logger: logger}
}

// Path returns the backing file.
func (s *YAMLStore) Path() string { return s.path }

func (s *YAMLStore) read() (*yamlLibrary, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &yamlLibrary{Queries: map[string]*Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read library %s: %w", s.path, err)
	}

	var lib yamlLibrary
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("failed to parse library %s: %w", s.path, err)
	}
	if lib.Queries == nil {
		lib.Queries = map[string]*Entry{}
	}
	return &lib, nil
}

func (s *YAMLStore) write(lib *yamlLibrary) error {
	data, err := yaml.Marshal(lib)
	if err != nil {
		return fmt.Errorf("failed to marshal library: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write library %s: %w", s.path, err)
	}
	return nil
}

// Load implements Store.
func (s *YAMLStore) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.read()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lib.Queries))
	for name, e := range lib.Queries {
		if e == nil {
			e = &Entry{}
		}
		entry := *e
		entry.Name = name
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Put implements Store.
func (s *YAMLStore) Put(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(e.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.read()
	if err != nil {
		return err
	}
	if e.RenamedFrom != "" && e.RenamedFrom != e.Name && Key(e.RenamedFrom) == Key(e.Name) {
		delete(lib.Queries, e.RenamedFrom)
	}
	lib.Queries[e.Name] = &Entry{Query: e.Query, Description: e.Description, RenamedFrom: e.RenamedFrom}
	if err := s.write(lib); err != nil {
		return err
	}
	s.logger.Debug("stored named query", "name", e.Name)
	return nil
}

// Delete implements Store.
func (s *YAMLStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := lib.Queries[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNameNotFound, name)
	}
	delete(lib.Queries, name)
	if err := s.write(lib); err != nil {
		return err
	}
	s.logger.Debug("removed named query", "name", name)
	return nil
}

// Close implements Store. The YAML store holds no open handles.
func (s *YAMLStore) Close() error { return nil }
