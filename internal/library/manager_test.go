package library

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/aidanlsb/bql/internal/audit"
	"github.com/aidanlsb/bql/internal/bql"
)

var errInjected = errors.New("injected write failure")

// faultyStore fails the first Put of each name listed in failPut and runs
// beforePut ahead of every Put.
type faultyStore struct {
	Store
	failPut   map[string]bool
	beforePut func(name string)
}

func (s *faultyStore) Put(ctx context.Context, e Entry) error {
	if s.beforePut != nil {
		s.beforePut(e.Name)
	}
	if s.failPut[e.Name] {
		delete(s.failPut, e.Name)
		return errInjected
	}
	return s.Store.Put(ctx, e)
}

func newTestManager(t *testing.T, defs map[string]string) (*Manager, *faultyStore) {
	t.Helper()
	inner := OpenYAML(filepath.Join(t.TempDir(), "queries.yaml"), nil)
	ctx := context.Background()
	for name, query := range defs {
		if err := inner.Put(ctx, Entry{Name: name, Query: query}); err != nil {
			t.Fatalf("seed %q: %v", name, err)
		}
	}
	store := &faultyStore{Store: inner, failPut: map[string]bool{}}
	return NewManager(store, ManagerOptions{}), store
}

func mustGet(t *testing.T, m *Manager, name string) Entry {
	t.Helper()
	e, err := m.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Get %q: %v", name, err)
	}
	return e
}

func TestManagerSave(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	res, err := m.Save(ctx, "Pair", "a=1   &b =  2", "two fields")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !res.Created || res.Entry.Query != "a = 1 & b = 2" {
		t.Errorf("unexpected result %+v", res)
	}
	if got := mustGet(t, m, "Pair"); got.Description != "two fields" {
		t.Errorf("description not stored: %+v", got)
	}

	res, err = m.Save(ctx, "Pair", "a = 3", "")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if res.Created {
		t.Error("second save should update")
	}

	res, err = m.Save(ctx, "Pending", "Missing & a = 1", "")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !slices.Equal(res.Unresolved, []string{"Missing"}) {
		t.Errorf("Unresolved = %v", res.Unresolved)
	}
}

func TestManagerSaveErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, map[string]string{
		"Active Seniors": "age >= 65 & active = true",
		"A":              "B & x = 1",
	})

	var cyc *bql.CyclicReferenceError
	if _, err := m.Save(ctx, "B", "A | y = 1", ""); !errors.As(err, &cyc) {
		t.Errorf("expected CyclicReferenceError, got %v", err)
	}
	if _, err := m.Save(ctx, "Self", "Self", ""); !errors.As(err, &cyc) {
		t.Errorf("expected CyclicReferenceError for self reference, got %v", err)
	}
	if _, err := m.Get(ctx, "B"); !errors.Is(err, ErrNameNotFound) {
		t.Errorf("rejected save was stored: %v", err)
	}

	if _, err := m.Save(ctx, "active seniors", "x = 1", ""); !errors.Is(err, ErrNameExists) {
		t.Errorf("expected ErrNameExists, got %v", err)
	}

	var serr *bql.SyntaxError
	if _, err := m.Save(ctx, "Broken", "a = ", ""); !errors.As(err, &serr) {
		t.Errorf("expected SyntaxError, got %v", err)
	}
	if _, err := m.Save(ctx, "", "a = 1", ""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestManagerRename(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, map[string]string{
		"Seniors":       "age >= 65",
		"ActiveSeniors": "Seniors & active = true",
	})
	auditLog := audit.New(t.TempDir(), true)
	m.audit = auditLog

	res, err := m.Rename(ctx, "Seniors", "Elders", false)
	if err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	if !slices.Equal(res.Updated, []string{"ActiveSeniors"}) || res.Resumed {
		t.Errorf("unexpected result %+v", res)
	}

	if _, err := m.Get(ctx, "Seniors"); !errors.Is(err, ErrNameNotFound) {
		t.Errorf("old name still stored: %v", err)
	}
	if got := mustGet(t, m, "Elders").Query; got != "age >= 65" {
		t.Errorf("Elders = %q", got)
	}

	lib, _, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if bql.ContainsNamedRule(lib["ActiveSeniors"], "Seniors") {
		t.Error("ActiveSeniors still references Seniors")
	}
	if got := bql.ToText(lib["ActiveSeniors"]); got != "Elders & active = true" {
		t.Errorf("ActiveSeniors = %q", got)
	}

	entries, err := auditLog.Read()
	if err != nil {
		t.Fatalf("audit Read error: %v", err)
	}
	var ops []string
	for _, e := range entries {
		ops = append(ops, e.Operation+":"+e.ID)
	}
	want := []string{"rename:Elders", "update:ActiveSeniors", "delete:Seniors"}
	if !slices.Equal(ops, want) {
		t.Errorf("audit ops = %v, want %v", ops, want)
	}
}

func TestManagerRenameStrict(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{
		"Seniors":       "age >= 65",
		"ActiveSeniors": "Seniors & active = true",
	})

	var sre *StillReferencedError
	if _, err := m.Rename(context.Background(), "Seniors", "Elders", true); !errors.As(err, &sre) {
		t.Fatalf("expected StillReferencedError, got %v", err)
	}
	mustGet(t, m, "Seniors")
}

func TestManagerRenameResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, map[string]string{
		"Seniors": "age >= 65",
		"A1":      "Seniors & a = 1",
		"A2":      "Seniors & a = 2",
		"A3":      "Seniors & a = 3",
	})
	store.failPut["A2"] = true

	_, err := m.Rename(ctx, "Seniors", "Elders", false)
	var ce *CascadeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CascadeError, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("cause not wrapped: %v", err)
	}
	if ce.Failed != "A2" || !slices.Equal(ce.Completed, []string{"Elders", "A1"}) || !slices.Equal(ce.Pending, []string{"A3", "Seniors", "Elders"}) {
		t.Errorf("unexpected cascade error %+v", ce)
	}

	if got := mustGet(t, m, "Elders").RenamedFrom; got != "Seniors" {
		t.Errorf("Elders should carry the rename marker, got %q", got)
	}

	// Every entry is either fully old or fully new.
	if got := mustGet(t, m, "A1").Query; got != "Elders & a = 1" {
		t.Errorf("A1 = %q", got)
	}
	if got := mustGet(t, m, "A2").Query; got != "Seniors & a = 2" {
		t.Errorf("A2 = %q", got)
	}

	res, err := m.Rename(ctx, "Seniors", "Elders", false)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if !res.Resumed || !slices.Equal(res.Updated, []string{"A2", "A3"}) {
		t.Errorf("unexpected retry result %+v", res)
	}

	lib, _, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if _, ok := lib["Seniors"]; ok {
		t.Error("Seniors still stored")
	}
	if deps := Dependents(lib, "Seniors"); len(deps) != 0 {
		t.Errorf("entries still reference Seniors: %v", deps)
	}
	if deps := Dependents(lib, "Elders"); !slices.Equal(deps, []string{"A1", "A2", "A3"}) {
		t.Errorf("Elders dependents = %v", deps)
	}
	if got := mustGet(t, m, "Elders").RenamedFrom; got != "" {
		t.Errorf("rename marker not cleared: %q", got)
	}
}

func TestManagerRenameRefusesEqualExistingEntry(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, map[string]string{
		"Seniors": "age >= 65",
		"Elders":  "age >= 65",
	})
	if _, err := m.Save(ctx, "Seniors", "age >= 65", "Discount tier"); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if _, err := m.Rename(ctx, "Seniors", "Elders", false); !errors.Is(err, ErrNameExists) {
		t.Fatalf("expected ErrNameExists, got %v", err)
	}
	if got := mustGet(t, m, "Seniors").Description; got != "Discount tier" {
		t.Errorf("Seniors description = %q", got)
	}
	mustGet(t, m, "Elders")
}

func TestManagerRenameSameKey(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"yaml": func(t *testing.T) Store {
			return OpenYAML(filepath.Join(t.TempDir(), "queries.yaml"), nil)
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(":memory:", nil)
			if err != nil {
				t.Fatalf("OpenSQLite error: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			for _, e := range []Entry{
				{Name: "seniors", Query: "age >= 65", Description: "65 and over"},
				{Name: "Active seniors", Query: "seniors & active = true"},
			} {
				if err := store.Put(ctx, e); err != nil {
					t.Fatalf("seed %q: %v", e.Name, err)
				}
			}
			m := NewManager(store, ManagerOptions{})

			res, err := m.Rename(ctx, "seniors", "Seniors", false)
			if err != nil {
				t.Fatalf("Rename error: %v", err)
			}
			if !slices.Equal(res.Updated, []string{"Active seniors"}) {
				t.Errorf("updated = %v", res.Updated)
			}

			entries, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			var names []string
			for _, e := range entries {
				names = append(names, e.Name)
			}
			if !slices.Equal(names, []string{"Active seniors", "Seniors"}) {
				t.Fatalf("names = %v", names)
			}
			got := mustGet(t, m, "Seniors")
			if got.Query != "age >= 65" || got.Description != "65 and over" || got.RenamedFrom != "" {
				t.Errorf("Seniors = %+v", got)
			}
			if q := mustGet(t, m, "Active seniors").Query; q != "Seniors & active = true" {
				t.Errorf("Active seniors = %q", q)
			}
		})
	}
}

func TestManagerRenameSameKeyResumes(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, map[string]string{
		"seniors": "age >= 65",
		"A1":      "seniors & a = 1",
	})
	store.failPut["A1"] = true

	if _, err := m.Rename(ctx, "seniors", "Seniors", false); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := m.Get(ctx, "seniors"); !errors.Is(err, ErrNameNotFound) {
		t.Errorf("old spelling should be replaced in place: %v", err)
	}

	res, err := m.Rename(ctx, "seniors", "Seniors", false)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if !res.Resumed || !slices.Equal(res.Updated, []string{"A1"}) {
		t.Errorf("unexpected retry result %+v", res)
	}
	if got := mustGet(t, m, "A1").Query; got != "Seniors & a = 1" {
		t.Errorf("A1 = %q", got)
	}
}

func TestManagerRenameReloadsBetweenWrites(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, map[string]string{
		"Seniors": "age >= 65",
		"A1":      "Seniors & a = 1",
		"A2":      "Seniors & a = 2",
	})
	inner := store.Store
	store.beforePut = func(name string) {
		if name == "A1" {
			// Someone else rewrites A2 while the cascade is running.
			if err := inner.Put(ctx, Entry{Name: "A2", Query: "a = 9"}); err != nil {
				t.Errorf("concurrent put: %v", err)
			}
		}
	}

	res, err := m.Rename(ctx, "Seniors", "Elders", false)
	if err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	if !slices.Equal(res.Updated, []string{"A1"}) || !slices.Equal(res.Skipped, []string{"A2"}) {
		t.Errorf("unexpected result %+v", res)
	}
	if got := mustGet(t, m, "A2").Query; got != "a = 9" {
		t.Errorf("A2 overwritten: %q", got)
	}
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, map[string]string{
		"Seniors":       "age >= 65",
		"ActiveSeniors": "Seniors & active = true",
		"NotSeniors":    "!Seniors",
	})
	store.failPut["NotSeniors"] = true

	_, err := m.Delete(ctx, "Seniors", false)
	var ce *CascadeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CascadeError, got %v", err)
	}
	if ce.Failed != "NotSeniors" || !slices.Equal(ce.Completed, []string{"ActiveSeniors"}) || !slices.Equal(ce.Pending, []string{"Seniors"}) {
		t.Errorf("unexpected cascade error %+v", ce)
	}
	mustGet(t, m, "Seniors")

	res, err := m.Delete(ctx, "Seniors", false)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if !slices.Equal(res.Updated, []string{"NotSeniors"}) {
		t.Errorf("unexpected retry result %+v", res)
	}

	want := map[string]string{
		"ActiveSeniors": "age >= 65 & active = true",
		"NotSeniors":    "!(age >= 65)",
	}
	for name, query := range want {
		if got := mustGet(t, m, name).Query; got != query {
			t.Errorf("%s = %q, want %q", name, got, query)
		}
	}
	if _, err := m.Get(ctx, "Seniors"); !errors.Is(err, ErrNameNotFound) {
		t.Errorf("Seniors still stored: %v", err)
	}
}

func TestManagerDeleteErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, map[string]string{
		"Seniors":       "age >= 65",
		"ActiveSeniors": "Seniors & active = true",
	})

	if _, err := m.Delete(ctx, "Nobody", false); !errors.Is(err, ErrNameNotFound) {
		t.Errorf("expected ErrNameNotFound, got %v", err)
	}
	var sre *StillReferencedError
	if _, err := m.Delete(ctx, "Seniors", true); !errors.As(err, &sre) {
		t.Errorf("expected StillReferencedError, got %v", err)
	}
	if _, err := m.Delete(ctx, "ActiveSeniors", true); err != nil {
		t.Errorf("strict delete without dependents failed: %v", err)
	}
}

func TestManagerCanceled(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"Seniors": "age >= 65"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Rename(ctx, "Seniors", "Elders", false); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestManagerHonorsLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "library.lock")
	inner := OpenYAML(filepath.Join(t.TempDir(), "queries.yaml"), nil)
	m := NewManager(inner, ManagerOptions{LockPath: lockPath})

	held, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("AcquireLock error: %v", err)
	}
	if _, err := m.Save(context.Background(), "Seniors", "age >= 65", ""); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	if err := held.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if _, err := m.Save(context.Background(), "Seniors", "age >= 65", ""); err != nil {
		t.Errorf("Save after release: %v", err)
	}
}
