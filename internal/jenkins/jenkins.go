package jenkins

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by errors.Is for API errors with a 404 status
var ErrNotFound = errors.New("jenkins: not found")

// Node is one entry of the server's job hierarchy. Folders carry their
// children in Jobs; leaf jobs leave it empty.
type Node struct {
	Name string `json:"name"`
	Jobs []Node `json:"jobs,omitempty"`
}

// Client is the set of remote operations needed to reconcile a job tree.
// Every job is addressed by its slash-delimited path, e.g. "folder/job".
type Client interface {
	// ListJobs returns the full job hierarchy
	ListJobs(ctx context.Context) ([]Node, error)
	// GetJobConfig returns the raw config.xml of the job at path
	GetJobConfig(ctx context.Context, path string) (string, error)
	// CreateJob creates the job at path; its parent folder must exist
	CreateJob(ctx context.Context, path, config string) error
	// ReconfigJob replaces the config.xml of the existing job at path
	ReconfigJob(ctx context.Context, path, config string) error
	// DeleteJob deletes the job (or folder) at path
	DeleteJob(ctx context.Context, path string) error
}

// APIError is returned for any non-2xx response from the server
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("jenkins: %s %s returned %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is reports whether the error matches ErrNotFound
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// SplitPath splits a job path into its segments, rejecting empty segments
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty job path")
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("invalid job path %q: empty segment", path)
		}
	}
	return segments, nil
}
