// Package audit provides an append-only log of named-query library writes.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntityNamedQuery is the entity recorded for library writes.
const EntityNamedQuery = "named_query"

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Operation string         `json:"op"`     // create, update, rename, delete
	Entity    string         `json:"entity"` // named_query
	ID        string         `json:"id,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"` // {field: {old: x, new: y}}
	Extra     map[string]any `json:"extra,omitempty"`
}

// Logger appends entries to a JSON-lines file.
type Logger struct {
	path    string
	enabled bool
	mu      sync.Mutex
}

// New creates an audit logger writing to <dataDir>/audit.log.
// If enabled is false, the logger is a no-op.
func New(dataDir string, enabled bool) *Logger {
	if !enabled {
		return &Logger{}
	}
	return &Logger{
		path:    filepath.Join(dataDir, "audit.log"),
		enabled: true,
	}
}

// Log writes an entry to the audit log. A nil Logger is a no-op.
func (l *Logger) Log(entry Entry) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// LogCreate logs a new library entry.
func (l *Logger) LogCreate(id, query string) error {
	return l.Log(Entry{
		Operation: "create",
		Entity:    EntityNamedQuery,
		ID:        id,
		Extra:     map[string]any{"query": query},
	})
}

// LogUpdate logs a changed library entry.
func (l *Logger) LogUpdate(id, oldQuery, newQuery string) error {
	return l.Log(Entry{
		Operation: "update",
		Entity:    EntityNamedQuery,
		ID:        id,
		Changes:   map[string]any{"query": map[string]any{"old": oldQuery, "new": newQuery}},
	})
}

// LogRename logs an entry written under a new name.
func (l *Logger) LogRename(oldID, newID string) error {
	return l.Log(Entry{
		Operation: "rename",
		Entity:    EntityNamedQuery,
		ID:        newID,
		Changes:   map[string]any{"name": map[string]any{"old": oldID, "new": newID}},
	})
}

// LogDelete logs a removed library entry.
func (l *Logger) LogDelete(id string) error {
	return l.Log(Entry{
		Operation: "delete",
		Entity:    EntityNamedQuery,
		ID:        id,
	})
}

// Read reads all entries from the audit log. Malformed lines are skipped.
func (l *Logger) Read() ([]Entry, error) {
	if l == nil || !l.enabled {
		return nil, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}

// ReadForEntity reads entries whose ID is id, including renames away from it.
func (l *Logger) ReadForEntity(id string) ([]Entry, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}

	var filtered []Entry
	for _, entry := range all {
		if entry.ID == id || renamedFrom(entry) == id {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

func renamedFrom(entry Entry) string {
	if entry.Operation != "rename" {
		return ""
	}
	name, _ := entry.Changes["name"].(map[string]any)
	old, _ := name["old"].(string)
	return old
}

// Enabled reports whether the logger writes anything.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Path returns the log file path, or "" when disabled.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}
