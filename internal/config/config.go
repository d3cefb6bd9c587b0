package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultJenkinsURL  = "http://localhost:8080"
	DefaultTimeout     = 30 * time.Second
	DefaultRetryMax    = 4
	DefaultFolderDepth = 10
)

// Config represents the complete jenkinscfg configuration
type Config struct {
	Jenkins JenkinsConfig `yaml:"jenkins"`
	Paths   PathsConfig   `yaml:"paths"`
	Output  OutputConfig  `yaml:"output"`
	Repo    RepoConfig    `yaml:"repo"`
	Auth    AuthConfig    `yaml:"auth"`
	Serve   ServeConfig   `yaml:"serve"`
}

// JenkinsConfig configures the remote Jenkins server
type JenkinsConfig struct {
	URL         string        `yaml:"url"`
	User        string        `yaml:"user"`
	Token       string        `yaml:"token"`
	TokenFile   string        `yaml:"token_file"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryMax    int           `yaml:"retry_max"`
	FolderDepth int           `yaml:"folder_depth"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	JobsDir  string `yaml:"jobs_dir"`
	StateDir string `yaml:"state_dir"`
}

// OutputConfig configures report rendering
type OutputConfig struct {
	Color bool `yaml:"color"`
}

// RepoConfig configures the optional Git repository holding the jobs tree
type RepoConfig struct {
	URL    string `yaml:"url"`
	Ref    string `yaml:"ref"`
	Subdir string `yaml:"subdir"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	cfg := preset()
	cfg.applyDefaults()
	return &cfg
}

// preset returns the defaults of fields whose zero value is a valid
// setting. Unmarshalling over it keeps them unless the file sets the key.
func preset() Config {
	return Config{
		Jenkins: JenkinsConfig{RetryMax: DefaultRetryMax},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := preset()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Jenkins.URL = os.ExpandEnv(c.Jenkins.URL)
	c.Jenkins.User = os.ExpandEnv(c.Jenkins.User)
	c.Jenkins.Token = os.ExpandEnv(c.Jenkins.Token)
	c.Jenkins.TokenFile = os.ExpandEnv(c.Jenkins.TokenFile)
	c.Paths.JobsDir = os.ExpandEnv(c.Paths.JobsDir)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Repo.Ref = os.ExpandEnv(c.Repo.Ref)
	c.Repo.Subdir = os.ExpandEnv(c.Repo.Subdir)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Jenkins.URL == "" {
		c.Jenkins.URL = DefaultJenkinsURL
	}
	if c.Jenkins.Timeout == 0 {
		c.Jenkins.Timeout = DefaultTimeout
	}
	if c.Jenkins.FolderDepth == 0 {
		c.Jenkins.FolderDepth = DefaultFolderDepth
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate jenkins config
	u, err := url.Parse(c.Jenkins.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("jenkins.url must be an http or https URL: %s", c.Jenkins.URL)
	}
	if c.Jenkins.Token != "" && c.Jenkins.TokenFile != "" {
		return fmt.Errorf("jenkins: only one of token or token_file may be set")
	}
	if c.Jenkins.Timeout < 0 {
		return fmt.Errorf("jenkins.timeout must be positive: %s", c.Jenkins.Timeout)
	}
	if c.Jenkins.RetryMax < 0 {
		return fmt.Errorf("jenkins.retry_max must not be negative: %d", c.Jenkins.RetryMax)
	}
	if c.Jenkins.FolderDepth < 1 {
		return fmt.Errorf("jenkins.folder_depth must be at least 1: %d", c.Jenkins.FolderDepth)
	}

	// Validate repo config
	if c.Repo.URL != "" {
		if c.Repo.Ref == "" {
			return fmt.Errorf("repo.ref is required when repo.url is set")
		}
		if c.Paths.StateDir == "" {
			return fmt.Errorf("paths.state_dir is required when repo.url is set")
		}
	}
	if c.Paths.StateDir != "" && !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
		if c.Repo.URL == "" {
			return fmt.Errorf("repo.url is required when serve is enabled")
		}
	}

	return nil
}

// JenkinsToken returns the API token, reading token_file when configured
func (c *Config) JenkinsToken() (string, error) {
	if c.Jenkins.TokenFile == "" {
		return c.Jenkins.Token, nil
	}
	data, err := os.ReadFile(c.Jenkins.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read jenkins token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RepoDir returns the path where the git repository is checked out
func (c *Config) RepoDir() string {
	return filepath.Join(c.Paths.StateDir, "repo")
}

// JobsSourceDir returns the path within the repo containing the jobs tree
func (c *Config) JobsSourceDir() string {
	if c.Repo.Subdir == "" {
		return c.RepoDir()
	}
	return filepath.Join(c.RepoDir(), c.Repo.Subdir)
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
