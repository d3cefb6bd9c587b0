package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// tokenEnv carries the HTTPS token to the credential helper
const tokenEnv = "JENKINSCFG_GIT_TOKEN"

// Client provides git operations for the repository holding the jobs tree
type Client interface {
	// EnsureCheckout clones or updates a repository to the specified ref
	// and returns the checked out commit
	EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// EnsureCheckout clones destDir on first use and fetches afterwards, then
// force-checks out ref
func (c *ShellClient) EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error) {
	existing := isRepo(destDir)

	if existing {
		if err := c.remote(ctx, url, "-C", destDir, "fetch", "origin"); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := c.remote(ctx, url, "clone", "--no-checkout", url, destDir); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	}

	// Branches, tags and commit hashes resolve directly; a branch that only
	// exists on the remote needs the origin/ prefix
	if err := run(exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", ref)); err != nil {
		remoteRef := "origin/" + ref
		if err := run(exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", remoteRef)); err != nil {
			return "", fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
		}
	}

	// A local branch is stale after fetch; move it to the remote tip. Fails
	// harmlessly for tags and hashes.
	if existing {
		_ = run(exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+ref))
	}

	output, err := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// remote runs a git command that talks to url, with authentication applied
func (c *ShellClient) remote(ctx context.Context, url string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	return run(cmd)
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The key path is shell-quoted; GIT_SSH_COMMAND is run through a shell
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The helper reads the token from the environment so it never
		// appears in the command line
		cmd.Env = append(cmd.Env,
			"GIT_TERMINAL_PROMPT=0",
			tokenEnv+"="+strings.TrimSpace(string(token)),
		)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$`+tokenEnv+`"; }; f`,
		)
	}

	return nil
}

func isRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// run executes a command and returns an error with its output on failure
func run(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
