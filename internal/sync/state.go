package sync

import (
	"fmt"
	"sort"
)

// Result is the four-way comparison of a server tree against a local tree.
// The four sets are disjoint and together cover both trees' paths.
type Result struct {
	Removed   []string          // on the server only
	Added     []string          // local only
	Changed   map[string]string // on both, differing; value is the unified diff
	Unchanged []string          // on both, identical line for line
}

// ChangedPaths returns the changed job paths in ascending order
func (r *Result) ChangedPaths() []string {
	paths := make([]string, 0, len(r.Changed))
	for p := range r.Changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// InSync reports whether applying the result would change nothing
func (r *Result) InSync() bool {
	return len(r.Removed) == 0 && len(r.Added) == 0 && len(r.Changed) == 0
}

// Summary returns a one-line count of each category
func (r *Result) Summary() string {
	return fmt.Sprintf("changed=%d unchanged=%d removed=%d added=%d",
		len(r.Changed), len(r.Unchanged), len(r.Removed), len(r.Added))
}

// Plan represents the remote operations to perform, each list already in
// execution order
type Plan struct {
	Delete []JobOp
	Update []JobOp
	Create []JobOp
}

// JobOp represents a single job operation
type JobOp struct {
	Path    string
	Content string // local config.xml; empty for deletions
}

// Op names a kind of remote mutation
type Op string

const (
	OpDelete Op = "delete"
	OpUpdate Op = "update"
	OpCreate Op = "create"
)

// Action is one step of an apply, as executed or simulated
type Action struct {
	Op      Op
	Path    string
	Content string
	DryRun  bool
}

// String renders the action log line, e.g. "Creating folder/job (dry-run)"
func (a Action) String() string {
	var verb string
	switch a.Op {
	case OpDelete:
		verb = "Deleting"
	case OpUpdate:
		verb = "Updating"
	case OpCreate:
		verb = "Creating"
	default:
		verb = string(a.Op)
	}

	line := verb + " " + a.Path
	if a.DryRun {
		line += " (dry-run)"
	}
	return line
}

// ApplyError reports the action that stopped an apply
type ApplyError struct {
	Action Action
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to %s job %s: %v", e.Action.Op, e.Action.Path, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
