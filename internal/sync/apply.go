package sync

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/schaermu/jenkinscfg/internal/jobtree"
)

// Mutator is the write side of jenkins.Client
type Mutator interface {
	CreateJob(ctx context.Context, path, config string) error
	ReconfigJob(ctx context.Context, path, config string) error
	DeleteJob(ctx context.Context, path string) error
}

// Executor performs, or only simulates, a single planned action
type Executor interface {
	Execute(ctx context.Context, action Action) error
	// Simulated reports whether Execute leaves the server untouched
	Simulated() bool
}

// RemoteExecutor applies actions to the server
type RemoteExecutor struct {
	server Mutator
}

// NewRemoteExecutor creates an executor that calls the server
func NewRemoteExecutor(server Mutator) *RemoteExecutor {
	return &RemoteExecutor{server: server}
}

// Execute issues the remote call for the action
func (e *RemoteExecutor) Execute(ctx context.Context, action Action) error {
	switch action.Op {
	case OpDelete:
		return e.server.DeleteJob(ctx, action.Path)
	case OpUpdate:
		return e.server.ReconfigJob(ctx, action.Path, action.Content)
	case OpCreate:
		return e.server.CreateJob(ctx, action.Path, action.Content)
	default:
		return fmt.Errorf("unknown operation %q", action.Op)
	}
}

// Simulated is always false for the remote executor
func (e *RemoteExecutor) Simulated() bool { return false }

// DryRunExecutor accepts every action without touching the server
type DryRunExecutor struct{}

// Execute does nothing
func (DryRunExecutor) Execute(context.Context, Action) error { return nil }

// Simulated is always true for the dry-run executor
func (DryRunExecutor) Simulated() bool { return true }

// NewPlan orders the mutations of a classification result. Deletions run
// in descending path order and creations in ascending order: a folder's
// path is a prefix of every path below it and sorts before them, so
// children are deleted before and created after their folder.
func NewPlan(result *Result, local jobtree.Tree) *Plan {
	plan := &Plan{
		Delete: make([]JobOp, 0, len(result.Removed)),
		Update: make([]JobOp, 0, len(result.Changed)),
		Create: make([]JobOp, 0, len(result.Added)),
	}

	removed := append([]string(nil), result.Removed...)
	sort.Sort(sort.Reverse(sort.StringSlice(removed)))
	for _, path := range removed {
		plan.Delete = append(plan.Delete, JobOp{Path: path})
	}

	for _, path := range result.ChangedPaths() {
		plan.Update = append(plan.Update, JobOp{Path: path, Content: local[path]})
	}

	added := append([]string(nil), result.Added...)
	sort.Strings(added)
	for _, path := range added {
		plan.Create = append(plan.Create, JobOp{Path: path, Content: local[path]})
	}

	return plan
}

// Empty reports whether the plan has nothing to do
func (p *Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Update) == 0 && len(p.Create) == 0
}

// Actions returns the plan as a single ordered sequence: deletions, then
// updates, then creations
func (p *Plan) Actions() []Action {
	actions := make([]Action, 0, len(p.Delete)+len(p.Update)+len(p.Create))
	for _, op := range p.Delete {
		actions = append(actions, Action{Op: OpDelete, Path: op.Path})
	}
	for _, op := range p.Update {
		actions = append(actions, Action{Op: OpUpdate, Path: op.Path, Content: op.Content})
	}
	for _, op := range p.Create {
		actions = append(actions, Action{Op: OpCreate, Path: op.Path, Content: op.Content})
	}
	return actions
}

// Apply runs the plan strictly in order, writing one log line to w before
// each action. The first failure stops the apply; actions already done are
// returned and are not rolled back.
func Apply(ctx context.Context, plan *Plan, exec Executor, w io.Writer) ([]Action, error) {
	actions := plan.Actions()
	done := make([]Action, 0, len(actions))

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		action.DryRun = exec.Simulated()
		if _, err := fmt.Fprintln(w, action.String()); err != nil {
			return done, fmt.Errorf("failed to write action log: %w", err)
		}

		if err := exec.Execute(ctx, action); err != nil {
			return done, &ApplyError{Action: action, Err: err}
		}
		done = append(done, action)
	}

	return done, nil
}
