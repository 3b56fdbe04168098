package library

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNameNotFound indicates the named query is not in the library.
	ErrNameNotFound = errors.New("named query not found")
	// ErrNameExists indicates the target name, or a name with the same key, is taken.
	ErrNameExists = errors.New("named query already exists")
	// ErrInvalidName indicates a name that cannot be stored.
	ErrInvalidName = errors.New("invalid named query name")
	// ErrLocked indicates another process is rewriting the library.
	ErrLocked = errors.New("library is locked by another process")
)

// StillReferencedError is returned in strict mode when a rename or delete
// would have to rewrite other entries.
type StillReferencedError struct {
	Name       string
	Dependents []string
}

func (e *StillReferencedError) Error() string {
	return fmt.Sprintf("named query %q is still referenced by %s", e.Name, strings.Join(e.Dependents, ", "))
}

// CascadeError reports a rename or delete that stopped part way. Completed
// entries are already persisted; Failed is the write that did not happen and
// Pending are the writes after it. Running the same operation again finishes
// the job without redoing completed entries.
type CascadeError struct {
	Op        string // rename or delete
	Name      string
	Failed    string
	Completed []string
	Pending   []string
	Err       error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("%s %q: writing %q failed (%d written, %d pending): %v",
		e.Op, e.Name, e.Failed, len(e.Completed), len(e.Pending), e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }
