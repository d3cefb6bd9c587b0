package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// maxErrorBody caps how much of an error response is kept in APIError
	maxErrorBody = 512

	crumbPath = "/crumbIssuer/api/json"
)

// Options configures an HTTPClient
type Options struct {
	URL         string
	User        string
	Token       string
	Timeout     time.Duration
	RetryMax    int
	FolderDepth int
	Logger      *slog.Logger

	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	// Zero keeps the retryablehttp defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPClient implements Client against the Jenkins remote access API.
// Transient failures (connection errors, 429, 5xx) are retried with
// exponential backoff by the underlying retryablehttp client.
type HTTPClient struct {
	baseURL     string
	user        string
	token       string
	folderDepth int
	http        *retryablehttp.Client
	logger      *slog.Logger

	crumbMu      sync.Mutex
	crumbFetched bool
	crumbField   string
	crumb        string
}

type crumbResponse struct {
	Crumb             string `json:"crumb"`
	CrumbRequestField string `json:"crumbRequestField"`
}

type jobsResponse struct {
	Jobs []Node `json:"jobs"`
}

// NewHTTPClient creates a new Jenkins client
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid jenkins url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid jenkins url %q: scheme must be http or https", opts.URL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.Logger = logger
	rc.ErrorHandler = keepLastResponse
	rc.HTTPClient.Timeout = opts.Timeout
	rc.HTTPClient.Jar = jar

	depth := opts.FolderDepth
	if depth < 1 {
		depth = 1
	}

	return &HTTPClient{
		baseURL:     strings.TrimRight(opts.URL, "/"),
		user:        opts.User,
		token:       opts.Token,
		folderDepth: depth,
		http:        rc,
		logger:      logger,
	}, nil
}

// ListJobs fetches the whole job hierarchy. One request covers
// folderDepth levels of folders; deeper folders are listed with further
// requests.
func (c *HTTPClient) ListJobs(ctx context.Context) ([]Node, error) {
	return c.listFolder(ctx, nil)
}

// listFolder lists the jobs below the folder at segments, or the top level
// when segments is empty. The query reaches one level past folderDepth so
// the deepest nodes still reveal whether they have children.
func (c *HTTPClient) listFolder(ctx context.Context, segments []string) ([]Node, error) {
	endpoint := c.baseURL + jobSuffix(segments) + "/api/json?tree=" + url.QueryEscape(treeQuery(c.folderDepth+1))

	resp, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var jobs jobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("failed to decode job list: %w", err)
	}

	if err := c.expandTruncated(ctx, segments, jobs.Jobs, 0); err != nil {
		return nil, err
	}
	return jobs.Jobs, nil
}

// expandTruncated replaces the partial listing of every folder at
// folderDepth with a full listing of that folder
func (c *HTTPClient) expandTruncated(ctx context.Context, parent []string, nodes []Node, level int) error {
	for i := range nodes {
		if len(nodes[i].Jobs) == 0 {
			continue
		}
		segments := append(append([]string(nil), parent...), nodes[i].Name)
		if level < c.folderDepth {
			if err := c.expandTruncated(ctx, segments, nodes[i].Jobs, level+1); err != nil {
				return err
			}
			continue
		}

		c.logger.Debug("listing nested folder", "path", strings.Join(segments, "/"))
		children, err := c.listFolder(ctx, segments)
		if err != nil {
			return fmt.Errorf("failed to list folder %s: %w", strings.Join(segments, "/"), err)
		}
		nodes[i].Jobs = children
	}
	return nil
}

// GetJobConfig returns the config.xml of the job at path
func (c *HTTPClient) GetJobConfig(ctx context.Context, path string) (string, error) {
	jobURL, err := c.jobURL(path)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, http.MethodGet, jobURL+"/config.xml", "", nil)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read config of %s: %w", path, err)
	}
	return string(data), nil
}

// CreateJob creates a job inside its parent folder
func (c *HTTPClient) CreateJob(ctx context.Context, path, config string) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}

	parentURL := c.baseURL
	if len(segments) > 1 {
		parentURL = c.baseURL + jobSuffix(segments[:len(segments)-1])
	}
	name := segments[len(segments)-1]
	endpoint := parentURL + "/createItem?name=" + url.QueryEscape(name)

	return c.post(ctx, endpoint, config)
}

// ReconfigJob posts a new config.xml for the job at path
func (c *HTTPClient) ReconfigJob(ctx context.Context, path, config string) error {
	jobURL, err := c.jobURL(path)
	if err != nil {
		return err
	}
	return c.post(ctx, jobURL+"/config.xml", config)
}

// DeleteJob deletes the job at path
func (c *HTTPClient) DeleteJob(ctx context.Context, path string) error {
	jobURL, err := c.jobURL(path)
	if err != nil {
		return err
	}
	return c.post(ctx, jobURL+"/doDelete", "")
}

func (c *HTTPClient) post(ctx context.Context, endpoint, body string) error {
	headers, err := c.crumbHeader(ctx)
	if err != nil {
		return err
	}

	var contentType string
	if body != "" {
		contentType = "application/xml"
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, contentType, strings.NewReader(body), headers...)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

// do sends a request and converts non-2xx responses into APIError. The
// caller owns the returned body.
func (c *HTTPClient) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, headers ...[2]string) (*http.Response, error) {
	var raw interface{}
	if body != nil {
		// retryablehttp needs a rewindable body; read it once up front
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		raw = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.user != "" || c.token != "" {
		req.SetBasicAuth(c.user, c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}

	c.logger.Debug("jenkins request", "method", method, "url", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			_ = resp.Body.Close()
		}()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	return resp, nil
}

// keepLastResponse hands the final response back once retries are exhausted
// so non-2xx statuses surface as APIError instead of a generic error.
func keepLastResponse(resp *http.Response, err error, _ int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

// crumbHeader returns the CSRF crumb header, fetching it on first use.
// Servers with CSRF protection disabled answer the crumb issuer with 404.
func (c *HTTPClient) crumbHeader(ctx context.Context) ([][2]string, error) {
	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()

	if !c.crumbFetched {
		resp, err := c.do(ctx, http.MethodGet, c.baseURL+crumbPath, "", nil)
		switch {
		case err == nil:
			var crumb crumbResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&crumb)
			_ = resp.Body.Close()
			if decodeErr != nil {
				return nil, fmt.Errorf("failed to decode crumb: %w", decodeErr)
			}
			c.crumbField = crumb.CrumbRequestField
			c.crumb = crumb.Crumb
		case errors.Is(err, ErrNotFound):
			c.logger.Debug("crumb issuer not available, sending requests without crumb")
		default:
			return nil, fmt.Errorf("failed to fetch crumb: %w", err)
		}
		c.crumbFetched = true
	}

	if c.crumbField == "" {
		return nil, nil
	}
	return [][2]string{{c.crumbField, c.crumb}}, nil
}

func (c *HTTPClient) jobURL(path string) (string, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	return c.baseURL + jobSuffix(segments), nil
}

// jobSuffix maps ["a", "b"] to "/job/a/job/b"
func jobSuffix(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// treeQuery builds the nested tree parameter, e.g. depth 1 gives
// "jobs[name,jobs[name]]"
func treeQuery(depth int) string {
	q := "name"
	for i := 0; i < depth; i++ {
		q = "name,jobs[" + q + "]"
	}
	return "jobs[" + q + "]"
}
