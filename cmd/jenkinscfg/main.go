package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/jenkinscfg/internal/config"
	"github.com/schaermu/jenkinscfg/internal/git"
	"github.com/schaermu/jenkinscfg/internal/jenkins"
	"github.com/schaermu/jenkinscfg/internal/report"
	"github.com/schaermu/jenkinscfg/internal/sync"
	"github.com/schaermu/jenkinscfg/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	color     bool
	dryRun    bool
)

// newJenkinsClient builds the server client; replaced in tests
var newJenkinsClient = func(cfg *config.Config, logger *slog.Logger) (jenkins.Client, error) {
	token, err := cfg.JenkinsToken()
	if err != nil {
		return nil, err
	}
	return jenkins.NewHTTPClient(jenkins.Options{
		URL:         cfg.Jenkins.URL,
		User:        cfg.Jenkins.User,
		Token:       token,
		Timeout:     cfg.Jenkins.Timeout,
		RetryMax:    cfg.Jenkins.RetryMax,
		FolderDepth: cfg.Jenkins.FolderDepth,
		Logger:      logger,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jenkinscfg",
	Short: "Keep Jenkins job configurations in sync with a local directory tree",
	Long: `jenkinscfg reconciles a directory tree of Jenkins job definitions, one
config.xml per job directory, against the jobs of a Jenkins server.

It reports differences, pushes local definitions to the server (deleting
jobs that only exist remotely), dumps the server's jobs to disk, and can run
as a webhook daemon that syncs from a Git repository on every push.`,
	SilenceUsage: true,
}

var diffCmd = &cobra.Command{
	Use:   "diff [JOBS_DIR]",
	Short: "Show how the server jobs differ from the local jobs",
	Long: `Diff reads every job from the server and every config.xml below JOBS_DIR and
prints changed jobs with a unified diff, followed by unchanged, removed
(server only) and added (local only) jobs.

JOBS_DIR defaults to paths.jobs_dir from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiff,
}

var updateCmd = &cobra.Command{
	Use:   "update [JOBS_DIR]",
	Short: "Update the server to match the local jobs",
	Long: `Update deletes server-only jobs (children first), reconfigures changed jobs
and creates local-only jobs (parents first). The first failing operation
stops the update; operations already performed are kept.

With --dry-run the same actions are printed without touching the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpdate,
}

var dumpCmd = &cobra.Command{
	Use:   "dump [JOBS_DIR]",
	Short: "Write every server job to JOBS_DIR",
	Long: `Dump writes the configuration of every server job to
JOBS_DIR/<job path>/config.xml, creating directories as needed and replacing
existing files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDump,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve syncs the configured Git repository to the server once, then listens
for GitHub push webhooks and syncs again on every accepted push.

Requires serve.enabled, a webhook secret file and repo.url in the
configuration. A socket passed by systemd socket activation is used instead
of serve.listen_addr when present.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "jenkinscfg %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/jenkinscfg/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&color, "color", false, "colorize report labels")

	updateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and builds the engine for a command
func setup(cmd *cobra.Command, dryRun bool) (*config.Config, *sync.Engine, *slog.Logger, error) {
	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	client, err := newJenkinsClient(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create jenkins client: %w", err)
	}

	var gitClient git.Client
	if cfg.Repo.URL != "" {
		gitClient = git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	}

	engine := sync.NewEngine(cfg, client, gitClient, logger, cmd.OutOrStdout(), dryRun)
	return cfg, engine, logger, nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, engine, _, err := setup(cmd, false)
	if err != nil {
		return err
	}
	jobsDir, err := resolveJobsDir(args, cfg)
	if err != nil {
		return err
	}

	result, err := engine.Diff(ctx, jobsDir)
	if err != nil {
		return err
	}

	_, err = io.WriteString(cmd.OutOrStdout(), report.Diff(result, report.Options{Color: color || cfg.Output.Color}))
	return err
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, engine, logger, err := setup(cmd, dryRun)
	if err != nil {
		return err
	}
	jobsDir, err := resolveJobsDir(args, cfg)
	if err != nil {
		return err
	}

	if _, err := engine.Update(ctx, jobsDir); err != nil {
		logger.Error("update failed", "error", err)
		return err
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, engine, _, err := setup(cmd, false)
	if err != nil {
		return err
	}
	jobsDir, err := resolveJobsDir(args, cfg)
	if err != nil {
		return err
	}

	return engine.Dump(ctx, jobsDir)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return errors.New("serve is not enabled in the configuration (serve.enabled)")
	}

	client, err := newJenkinsClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create jenkins client: %w", err)
	}
	gitClient := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)

	server, err := webhook.NewServer(cfg, gitClient, client, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// resolveJobsDir returns the JOBS_DIR argument, falling back to
// paths.jobs_dir
func resolveJobsDir(args []string, cfg *config.Config) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Paths.JobsDir != "" {
		return cfg.Paths.JobsDir, nil
	}
	return "", errors.New("no JOBS_DIR given and paths.jobs_dir is not configured")
}

func setupLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs share stderr with cobra's errors; stdout carries the report
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadConfig reads --config, or the default path when it exists. Without
// either the built-in defaults apply.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "jenkinscfg", "config.yaml")

		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no configuration file, using defaults", "path", configPath)
			return config.Default(), nil
		}
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"jenkins", cfg.Jenkins.URL,
		"user", cfg.Jenkins.User,
		"jobs_dir", cfg.Paths.JobsDir,
		"repo", cfg.Repo.URL)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
