//go:build integration

package live

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/jenkinscfg/internal/testutil"
)

const (
	imageTag       = "jenkinscfg-integration-jenkins:latest"
	dockerfileDir  = "integration/live/docker"
	defaultTimeout = 10 * time.Minute
	readyTimeout   = 5 * time.Minute
)

// Harness runs a disposable Jenkins controller in a container
type Harness struct {
	t           *testing.T
	containerID string
	imageTag    string
	baseURL     string
	keepOnFail  bool
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:          t,
		imageTag:   imageTag,
		keepOnFail: os.Getenv("INTEGRATION_KEEP_CONTAINER") == "1",
	}
}

// BaseURL returns the controller URL reachable from the test process
func (h *Harness) BaseURL() string {
	return h.baseURL
}

// BuildImage builds the Jenkins image with the folder plugin installed
func (h *Harness) BuildImage(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}
	dir := filepath.Join(projectRoot, dockerfileDir)
	h.t.Logf("Building image %s from %s", h.imageTag, dir)

	cmd := exec.CommandContext(ctx, "docker", "build", "-t", h.imageTag, dir)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	return nil
}

// StartContainer starts Jenkins on a random loopback port
func (h *Harness) StartContainer(ctx context.Context) error {
	h.t.Helper()

	out, err := exec.CommandContext(ctx,
		"docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::8080",
		h.imageTag,
	).Output()
	if err != nil {
		return fmt.Errorf("docker run: %w", err)
	}
	h.containerID = strings.TrimSpace(string(out))
	h.t.Logf("Container started: %s", h.containerID)

	out, err = exec.CommandContext(ctx, "docker", "port", h.containerID, "8080/tcp").Output()
	if err != nil {
		return fmt.Errorf("docker port: %w", err)
	}
	// One mapping per line, e.g. "127.0.0.1:49153"
	addr := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if addr == "" {
		return fmt.Errorf("no port mapping for container %s", h.containerID)
	}
	h.baseURL = "http://" + addr
	return nil
}

// WaitReady polls the remote API until Jenkins answers
func (h *Harness) WaitReady(ctx context.Context) error {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/json", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				h.t.Logf("Jenkins ready at %s", h.baseURL)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			h.dumpLogs()
			return fmt.Errorf("jenkins not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Cleanup stops the container
func (h *Harness) Cleanup(ctx context.Context) {
	h.t.Helper()
	if h.containerID == "" {
		return
	}

	if h.keepOnFail && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_CONTAINER=1, keeping container %s", h.containerID)
		h.t.Logf("Jenkins: %s", h.baseURL)
		h.t.Logf("To cleanup: docker stop %s", h.containerID)
		return
	}

	h.t.Logf("Stopping container %s", h.containerID)
	if err := exec.CommandContext(ctx, "docker", "stop", h.containerID).Run(); err != nil {
		h.t.Logf("Warning: failed to stop container: %v", err)
	}
}

func (h *Harness) dumpLogs() {
	out, err := exec.Command("docker", "logs", "--tail", "50", h.containerID).CombinedOutput()
	if err != nil {
		h.t.Logf("failed to read container logs: %v", err)
		return
	}
	_, _ = (&testWriter{t: h.t, prefix: "[jenkins] "}).Write(out)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
