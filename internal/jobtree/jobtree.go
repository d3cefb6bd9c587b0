package jobtree

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/schaermu/jenkinscfg/internal/jenkins"
)

// ConfigFileName marks a directory as a job in the local tree
const ConfigFileName = "config.xml"

// Tree maps a slash-delimited job path to its raw configuration content
type Tree map[string]string

// Paths returns the job paths in ascending order
func (t Tree) Paths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lister is the read side of jenkins.Client
type Lister interface {
	ListJobs(ctx context.Context) ([]jenkins.Node, error)
	GetJobConfig(ctx context.Context, path string) (string, error)
}

// ServerPaths flattens the job hierarchy depth-first. A folder's
// descendants are listed before the folder itself.
func ServerPaths(nodes []jenkins.Node, parent string) []string {
	var paths []string
	for _, node := range nodes {
		path := node.Name
		if parent != "" {
			path = parent + "/" + node.Name
		}
		if len(node.Jobs) > 0 {
			paths = append(paths, ServerPaths(node.Jobs, path)...)
		}
		paths = append(paths, path)
	}
	return paths
}

// FromServer reads every job config from the server. Any failed fetch
// fails the whole read.
func FromServer(ctx context.Context, server Lister, logger *slog.Logger) (Tree, error) {
	nodes, err := server.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list server jobs: %w", err)
	}

	paths := ServerPaths(nodes, "")
	logger.Debug("discovered server jobs", "count", len(paths))

	tree := make(Tree, len(paths))
	for _, path := range paths {
		config, err := server.GetJobConfig(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to get config for job %s: %w", path, err)
		}
		tree[path] = config
	}
	return tree, nil
}

// Load reads every config.xml below root. The job path is the file's
// directory relative to root, always with forward slashes.
func Load(root string, logger *slog.Logger) (Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access jobs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("jobs directory %s is not a directory", root)
	}

	tree := make(Tree)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ConfigFileName {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			logger.Debug("ignoring config file at jobs root", "path", path)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read local jobs: %w", err)
	}

	return tree, nil
}

// Write stores each job as <root>/<path>/config.xml. Parents are written
// before children; each file is replaced atomically.
func Write(tree Tree, root string) error {
	for _, path := range tree.Paths() {
		segments, err := jenkins.SplitPath(path)
		if err != nil {
			return err
		}
		for _, s := range segments {
			if s == "." || s == ".." {
				return fmt.Errorf("invalid job path %q", path)
			}
		}
		dest := filepath.Join(root, filepath.FromSlash(path), ConfigFileName)
		if err := writeFileAtomic(dest, []byte(tree[path])); err != nil {
			return fmt.Errorf("failed to write job %s: %w", path, err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to dst and renames it
func writeFileAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".jenkinscfg-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
