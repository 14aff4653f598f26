package git

import (
	"fmt"
	"strings"
)

// Typed errors enabling structured classification without string
// parsing upstream. Each step of a reconciliation run surfaces its
// failures through one of these.

// CloneError reports a failed clone: unreachable URL, missing branch
// or unwritable destination.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string { return fmt.Sprintf("clone %s: %v", e.URL, e.Err) }
func (e *CloneError) Unwrap() error { return e.Err }

// FetchError reports a failed fetch. Fetch failure is fatal for a run:
// no partial reconciliation happens without a reachable upstream.
type FetchError struct {
	Dir string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch in %s: %v", e.Dir, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// QueryError reports a failed log/status query.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("%s query: %v", e.Op, e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// MergeError reports a merge failure other than unresolved conflicts.
type MergeError struct {
	Branch string
	Err    error
}

func (e *MergeError) Error() string { return fmt.Sprintf("merge origin/%s: %v", e.Branch, e.Err) }
func (e *MergeError) Unwrap() error { return e.Err }

// ConflictError reports a merge that stopped with unresolved conflicts.
// Conflict avoidance relocates every file that would produce a true
// content conflict before the merge runs, so hitting this means that
// invariant was violated; the merge is aborted and the run fails.
type ConflictError struct {
	Branch string
	Files  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge of origin/%s left unresolved conflicts: %s",
		e.Branch, strings.Join(e.Files, ", "))
}
