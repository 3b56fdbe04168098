package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/aidanlsb/bql/internal/audit"
	"github.com/aidanlsb/bql/internal/bql"
	"github.com/aidanlsb/bql/internal/logging"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger *slog.Logger
	Audit  *audit.Logger
	// LockPath, when set, is locked for the duration of every write.
	LockPath string
	// MaxDepth bounds parsing of stored queries. 0 means bql.DefaultMaxDepth.
	MaxDepth int
}

// Manager reads and writes the library through a Store. Rename and Delete
// persist dependents one at a time, reloading the library before each write.
type Manager struct {
	store    Store
	logger   *slog.Logger
	audit    *audit.Logger
	lockPath string
	maxDepth int
}

// NewManager returns a Manager over store.
func NewManager(store Store, opts ManagerOptions) *Manager {
	return &Manager{
		store:    store,
		logger:   logging.Default(opts.Logger).With("component", "library"),
		audit:    opts.Audit,
		lockPath: opts.LockPath,
		maxDepth: opts.MaxDepth,
	}
}

// Result describes a completed rename or delete.
type Result struct {
	Op      string   `json:"op"`
	Name    string   `json:"name"`
	NewName string   `json:"new_name,omitempty"`
	Updated []string `json:"updated"`
	// Skipped are dependents that no longer referenced Name when their turn came.
	Skipped []string `json:"skipped,omitempty"`
	// Resumed is set when the call finished an earlier interrupted rename.
	Resumed bool `json:"resumed,omitempty"`
}

// SaveResult describes a stored entry.
type SaveResult struct {
	Entry   Entry `json:"entry"`
	Created bool  `json:"created"`
	// Unresolved lists referenced names that are not in the library yet.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Snapshot loads and parses the whole library.
func (m *Manager) Snapshot(ctx context.Context) (Library, map[string]Entry, error) {
	entries, err := m.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	lib := make(Library, len(entries))
	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		tree, err := m.parse(e.Query)
		if err != nil {
			return nil, nil, fmt.Errorf("stored query %q: %w", e.Name, err)
		}
		lib[e.Name] = tree
		byName[e.Name] = e
	}
	return lib, byName, nil
}

// Get returns the stored entry called name.
func (m *Manager) Get(ctx context.Context, name string) (Entry, error) {
	_, entries, err := m.Snapshot(ctx)
	if err != nil {
		return Entry{}, err
	}
	e, ok := entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNameNotFound, name)
	}
	return e, nil
}

func (m *Manager) parse(query string) (*bql.RuleGroup, error) {
	tokens, err := bql.Tokenize(query)
	if err != nil {
		return nil, err
	}
	return bql.ParseWithOptions(tokens, bql.ParseOptions{MaxDepth: m.maxDepth})
}

func (m *Manager) lock() (*Lock, error) {
	if m.lockPath == "" {
		return nil, nil
	}
	return AcquireLock(m.lockPath)
}

func (m *Manager) unlock(l *Lock) {
	if err := l.Release(); err != nil {
		m.logger.Warn("failed to release library lock", "path", m.lockPath, "error", err)
	}
}

func (m *Manager) recordAudit(err error) {
	if err != nil {
		m.logger.Warn("failed to write audit entry", "error", err)
	}
}

// Save stores query under name, replacing any existing entry. The query is
// stored in canonical text. Saving fails if the new definition would make
// name reference itself.
func (m *Manager) Save(ctx context.Context, name, query, description string) (*SaveResult, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	tree, err := m.parse(query)
	if err != nil {
		return nil, err
	}

	l, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer m.unlock(l)

	lib, entries, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if other, ok := conflicting(lib, name); ok {
		return nil, fmt.Errorf("%w: %q has the same key as %q", ErrNameExists, name, other)
	}

	candidate := maps.Clone(lib)
	candidate[name] = tree
	expanded, err := bql.NormalizeNamed(name, candidate)
	if err != nil {
		return nil, err
	}

	entry := Entry{Name: name, Query: bql.ToText(tree), Description: description}
	if err := m.store.Put(ctx, entry); err != nil {
		return nil, err
	}

	old, existed := entries[name]
	if existed {
		m.recordAudit(m.audit.LogUpdate(name, old.Query, entry.Query))
	} else {
		m.recordAudit(m.audit.LogCreate(name, entry.Query))
	}
	m.logger.Info("saved named query", "name", name, "created", !existed)

	res := &SaveResult{Entry: entry, Created: !existed}
	for _, u := range bql.Unresolved(expanded) {
		res.Unresolved = append(res.Unresolved, u.Name)
	}
	return res, nil
}

// Rename stores oldName's query as newName and rewrites every dependent to
// reference newName. Unless strict is set, dependents are rewritten in name
// order, each persisted before the next is read. If a write fails the
// returned *CascadeError lists what was written and what is pending; calling
// Rename again with the same arguments picks up where it stopped.
//
// newName carries a RenamedFrom marker until the cascade finishes. The last
// write clears it.
func (m *Manager) Rename(ctx context.Context, oldName, newName string, strict bool) (*Result, error) {
	l, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer m.unlock(l)

	lib, entries, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	resumed, err := checkRename(lib, oldName, newName, entries[newName].RenamedFrom)
	if err != nil {
		return nil, err
	}
	deps := Dependents(lib, oldName)
	if strict && len(deps) > 0 {
		return nil, &StillReferencedError{Name: oldName, Dependents: deps}
	}

	res := &Result{Op: "rename", Name: oldName, NewName: newName, Updated: []string{}, Resumed: resumed}
	if oldName == newName {
		return res, nil
	}

	c := &cascade{op: "rename", name: oldName, pending: append(append([]string{newName}, deps...), oldName, newName)}
	if resumed {
		c.pending = c.pending[1:]
		m.logger.Info("resuming rename", "from", oldName, "to", newName, "dependents", len(deps))
	} else {
		src := entries[oldName]
		e := Entry{Name: newName, Query: src.Query, Description: src.Description, RenamedFrom: oldName}
		if err := m.store.Put(ctx, e); err != nil {
			return nil, c.fail(err)
		}
		c.done()
		m.recordAudit(m.audit.LogRename(oldName, newName))
		m.logger.Info("stored renamed query", "from", oldName, "to", newName)
	}

	for _, dep := range deps {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(err)
		}
		updated, err := m.rewrite(ctx, dep, oldName, func(tree *bql.RuleGroup, _ Library) (*bql.RuleGroup, error) {
			return RenameReferences(tree, oldName, newName), nil
		})
		if err != nil {
			return nil, c.fail(err)
		}
		if updated {
			res.Updated = append(res.Updated, dep)
		} else {
			res.Skipped = append(res.Skipped, dep)
		}
		c.done()
	}

	if err := m.remove(ctx, oldName); err != nil {
		return nil, c.fail(err)
	}
	c.done()

	if err := m.finishRename(ctx, newName); err != nil {
		return nil, c.fail(err)
	}
	return res, nil
}

// finishRename clears the rename marker on name.
func (m *Manager) finishRename(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, entries, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	e, ok := entries[name]
	if !ok || e.RenamedFrom == "" {
		return nil
	}
	e.RenamedFrom = ""
	if err := m.store.Put(ctx, e); err != nil {
		m.logger.Error("failed to finish rename", "name", name, "error", err)
		return err
	}
	return nil
}

// Delete removes name. Unless strict is set, each dependent first has its
// reference to name replaced by name's expansion, computed from the library
// as it stands just before that dependent is written.
func (m *Manager) Delete(ctx context.Context, name string, strict bool) (*Result, error) {
	l, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer m.unlock(l)

	lib, _, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := lib[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNameNotFound, name)
	}
	deps := Dependents(lib, name)
	if strict && len(deps) > 0 {
		return nil, &StillReferencedError{Name: name, Dependents: deps}
	}
	if len(deps) > 0 {
		// Fail before the first write if name cannot be expanded at all.
		if _, err := bql.NormalizeNamed(name, lib); err != nil {
			return nil, fmt.Errorf("expand %q: %w", name, err)
		}
	}

	res := &Result{Op: "delete", Name: name, Updated: []string{}}
	c := &cascade{op: "delete", name: name, pending: append(append([]string{}, deps...), name)}
	for _, dep := range deps {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(err)
		}
		updated, err := m.rewrite(ctx, dep, name, func(tree *bql.RuleGroup, fresh Library) (*bql.RuleGroup, error) {
			expansion, err := bql.NormalizeNamed(name, fresh)
			if err != nil {
				return nil, fmt.Errorf("expand %q: %w", name, err)
			}
			return InlineReference(tree, name, expansion), nil
		})
		if err != nil {
			return nil, c.fail(err)
		}
		if updated {
			res.Updated = append(res.Updated, dep)
		} else {
			res.Skipped = append(res.Skipped, dep)
		}
		c.done()
	}

	if err := m.remove(ctx, name); err != nil {
		return nil, c.fail(err)
	}
	return res, nil
}

// rewrite reloads the library and, if dep still references name, persists
// the tree returned by fn. It reports whether dep was written.
func (m *Manager) rewrite(ctx context.Context, dep, name string, fn func(*bql.RuleGroup, Library) (*bql.RuleGroup, error)) (bool, error) {
	fresh, entries, err := m.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	tree, ok := fresh[dep]
	if !ok || !bql.ContainsNamedRule(tree, name) {
		m.logger.Debug("dependent no longer references name", "dependent", dep, "name", name)
		return false, nil
	}

	out, err := fn(tree, fresh)
	if err != nil {
		return false, err
	}
	before := entries[dep]
	after := before
	after.Query = bql.ToText(out)
	if err := m.store.Put(ctx, after); err != nil {
		m.logger.Error("failed to update dependent", "dependent", dep, "name", name, "error", err)
		return false, err
	}
	m.recordAudit(m.audit.LogUpdate(dep, before.Query, after.Query))
	m.logger.Info("updated dependent", "dependent", dep, "name", name)
	return true, nil
}

// remove deletes name. An entry that is already gone counts as removed.
func (m *Manager) remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.store.Delete(ctx, name)
	if errors.Is(err, ErrNameNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Error("failed to remove named query", "name", name, "error", err)
		return err
	}
	m.recordAudit(m.audit.LogDelete(name))
	m.logger.Info("removed named query", "name", name)
	return nil
}

// cascade tracks the ordered writes of one rename or delete.
type cascade struct {
	op        string
	name      string
	completed []string
	pending   []string
}

func (c *cascade) done() {
	c.completed = append(c.completed, c.pending[0])
	c.pending = c.pending[1:]
}

func (c *cascade) fail(err error) *CascadeError {
	failed := ""
	var rest []string
	if len(c.pending) > 0 {
		failed = c.pending[0]
		rest = append([]string{}, c.pending[1:]...)
	}
	return &CascadeError{
		Op:        c.op,
		Name:      c.name,
		Failed:    failed,
		Completed: append([]string{}, c.completed...),
		Pending:   rest,
		Err:       err,
	}
}
