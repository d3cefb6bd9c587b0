package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schaermu/jenkinscfg/internal/config"
	"github.com/schaermu/jenkinscfg/internal/git"
	"github.com/schaermu/jenkinscfg/internal/jenkins"
	"github.com/schaermu/jenkinscfg/internal/jobtree"
)

// Engine orchestrates reading both job trees, reconciling them and
// applying the result to the server
type Engine struct {
	cfg     *config.Config
	jenkins jenkins.Client
	git     git.Client
	logger  *slog.Logger
	out     io.Writer
	dryRun  bool
}

// NewEngine creates a new sync engine. Action log lines are written to
// out; gitClient may be nil when no repository is configured.
func NewEngine(cfg *config.Config, jenkinsClient jenkins.Client, gitClient git.Client, logger *slog.Logger, out io.Writer, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		jenkins: jenkinsClient,
		git:     gitClient,
		logger:  logger,
		out:     out,
		dryRun:  dryRun,
	}
}

// Diff classifies the server tree against the jobs in jobsDir
func (e *Engine) Diff(ctx context.Context, jobsDir string) (*Result, error) {
	_, result, err := e.reconcile(ctx, jobsDir)
	if err != nil {
		return nil, err
	}

	e.logger.Info("diff complete", "summary", result.Summary(), "in_sync", result.InSync())
	return result, nil
}

// Update brings the server in line with the jobs in jobsDir and returns
// the actions performed (or simulated, in dry-run mode)
func (e *Engine) Update(ctx context.Context, jobsDir string) ([]Action, error) {
	_, done, err := e.update(ctx, jobsDir)
	return done, err
}

func (e *Engine) update(ctx context.Context, jobsDir string) (*Result, []Action, error) {
	local, result, err := e.reconcile(ctx, jobsDir)
	if err != nil {
		return nil, nil, err
	}

	plan := NewPlan(result, local)
	e.logger.Info("sync plan",
		"delete", len(plan.Delete),
		"update", len(plan.Update),
		"create", len(plan.Create),
		"dry_run", e.dryRun)

	if plan.Empty() {
		e.logger.Info("server already in sync", "jobs", len(result.Unchanged))
		return result, nil, nil
	}

	var exec Executor = NewRemoteExecutor(e.jenkins)
	if e.dryRun {
		exec = DryRunExecutor{}
	}

	done, err := Apply(ctx, plan, exec, e.out)
	if err != nil {
		e.logger.Error("apply stopped", "applied", len(done), "planned", len(plan.Actions()))
		return result, done, fmt.Errorf("failed to apply sync plan: %w", err)
	}

	if e.dryRun {
		e.logger.Info("dry-run complete, no changes applied")
	} else {
		e.logger.Info("update completed", "applied", len(done))
	}
	return result, done, nil
}

// Dump writes every server job into jobsDir, creating it if needed
func (e *Engine) Dump(ctx context.Context, jobsDir string) error {
	server, err := jobtree.FromServer(ctx, e.jenkins, e.logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(jobsDir, 0755); err != nil {
		return fmt.Errorf("failed to create jobs directory: %w", err)
	}
	if err := jobtree.Write(server, jobsDir); err != nil {
		return fmt.Errorf("failed to dump jobs: %w", err)
	}

	e.logger.Info("dumped server jobs", "count", len(server), "dest", jobsDir)
	return nil
}

// RunReport describes one repository sync
type RunReport struct {
	Commit  string
	Result  *Result
	Applied []Action
}

// Run checks out the configured repository and updates the server from
// the jobs tree inside it
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	if e.git == nil || e.cfg.Repo.URL == "" {
		return nil, fmt.Errorf("no repository configured")
	}

	e.logger.Info("starting sync",
		"repo", e.cfg.Repo.URL,
		"ref", e.cfg.Repo.Ref,
		"auth", e.cfg.AuthMethod(),
		"dry_run", e.dryRun)

	if err := os.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	e.logger.Info("fetching repository", "dest", e.cfg.RepoDir())
	commit, err := e.git.EnsureCheckout(ctx, e.cfg.Repo.URL, e.cfg.Repo.Ref, e.cfg.RepoDir())
	if err != nil {
		return nil, fmt.Errorf("failed to checkout repository: %w", err)
	}
	e.logger.Info("repository checked out", "commit", commit)

	result, done, err := e.update(ctx, e.cfg.JobsSourceDir())
	report := &RunReport{Commit: commit, Result: result, Applied: done}
	if err != nil {
		return report, err
	}

	e.logger.Info("sync completed successfully", "commit", commit)
	return report, nil
}

// reconcile reads the server and local trees and classifies them. The
// local jobs directory is checked before any remote call is made.
func (e *Engine) reconcile(ctx context.Context, jobsDir string) (jobtree.Tree, *Result, error) {
	info, err := os.Stat(jobsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("jobs directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("jobs directory %s is not a directory", jobsDir)
	}

	server, err := jobtree.FromServer(ctx, e.jenkins, e.logger)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("read server jobs", "count", len(server))

	local, err := jobtree.Load(jobsDir, e.logger)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("read local jobs", "count", len(local), "dir", jobsDir)

	return local, Classify(server, local), nil
}
