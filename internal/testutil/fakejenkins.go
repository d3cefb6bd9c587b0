package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/schaermu/jenkinscfg/internal/jenkins"
)

// Call records one mutating call made against FakeJenkins
type Call struct {
	Op     string // "create", "reconfig" or "delete"
	Path   string
	Config string
}

// FakeJenkins is an in-memory jenkins.Client. Like the real server it
// refuses to create a job whose parent folder is missing, and it refuses
// to delete a folder that still has children.
type FakeJenkins struct {
	mu      sync.Mutex
	jobs    map[string]string
	calls   []Call
	fetches []string
	errs    map[string]error
}

// NewFakeJenkins creates a fake server holding the given jobs
func NewFakeJenkins(jobs map[string]string) *FakeJenkins {
	f := &FakeJenkins{
		jobs: make(map[string]string, len(jobs)),
		errs: make(map[string]error),
	}
	for p, c := range jobs {
		f.jobs[p] = c
	}
	return f
}

// FailOn makes the given operation ("list", "get", "create", "reconfig",
// "delete") on path return err. Use an empty path for "list".
func (f *FakeJenkins) FailOn(op, path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op+" "+path] = err
}

// Jobs returns a copy of the current server state
func (f *FakeJenkins) Jobs() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.jobs))
	for p, c := range f.jobs {
		out[p] = c
	}
	return out
}

// Calls returns the mutating calls in the order they were made
func (f *FakeJenkins) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Fetches returns the paths passed to GetJobConfig in call order
func (f *FakeJenkins) Fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetches...)
}

// ListJobs builds the nested hierarchy from the stored paths
func (f *FakeJenkins) ListJobs(_ context.Context) ([]jenkins.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs["list "]; err != nil {
		return nil, err
	}
	return f.children(""), nil
}

func (f *FakeJenkins) children(parent string) []jenkins.Node {
	var names []string
	for p := range f.jobs {
		dir, name := splitParent(p)
		if dir == parent {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var nodes []jenkins.Node
	for _, name := range names {
		path := name
		if parent != "" {
			path = parent + "/" + name
		}
		nodes = append(nodes, jenkins.Node{Name: name, Jobs: f.children(path)})
	}
	return nodes
}

// GetJobConfig returns the stored config
func (f *FakeJenkins) GetJobConfig(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches = append(f.fetches, path)
	if err := f.errs["get "+path]; err != nil {
		return "", err
	}
	config, ok := f.jobs[path]
	if !ok {
		return "", &jenkins.APIError{Method: "GET", URL: path, StatusCode: 404}
	}
	return config, nil
}

// CreateJob stores a new job
func (f *FakeJenkins) CreateJob(_ context.Context, path, config string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "create", Path: path, Config: config})
	if err := f.errs["create "+path]; err != nil {
		return err
	}
	if _, exists := f.jobs[path]; exists {
		return &jenkins.APIError{Method: "POST", URL: path, StatusCode: 400, Body: "job already exists"}
	}
	if parent, _ := splitParent(path); parent != "" {
		if _, ok := f.jobs[parent]; !ok {
			return &jenkins.APIError{Method: "POST", URL: path, StatusCode: 404, Body: "parent folder missing"}
		}
	}
	f.jobs[path] = config
	return nil
}

// ReconfigJob replaces an existing job's config
func (f *FakeJenkins) ReconfigJob(_ context.Context, path, config string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "reconfig", Path: path, Config: config})
	if err := f.errs["reconfig "+path]; err != nil {
		return err
	}
	if _, ok := f.jobs[path]; !ok {
		return &jenkins.APIError{Method: "POST", URL: path, StatusCode: 404}
	}
	f.jobs[path] = config
	return nil
}

// DeleteJob removes a job that has no children
func (f *FakeJenkins) DeleteJob(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "delete", Path: path})
	if err := f.errs["delete "+path]; err != nil {
		return err
	}
	if _, ok := f.jobs[path]; !ok {
		return &jenkins.APIError{Method: "POST", URL: path, StatusCode: 404}
	}
	for p := range f.jobs {
		if strings.HasPrefix(p, path+"/") {
			return fmt.Errorf("folder %s still contains %s", path, p)
		}
	}
	delete(f.jobs, path)
	return nil
}

func splitParent(path string) (string, string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

var _ jenkins.Client = (*FakeJenkins)(nil)
