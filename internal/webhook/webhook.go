package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/jenkinscfg/internal/activation"
	"github.com/schaermu/jenkinscfg/internal/config"
	"github.com/schaermu/jenkinscfg/internal/git"
	"github.com/schaermu/jenkinscfg/internal/jenkins"
	jobsync "github.com/schaermu/jenkinscfg/internal/sync"
)

const (
	debounceDelay = 2 * time.Second
	maxBodyBytes  = 1 << 20
	jobConfigFile = "config.xml"
)

// PushEvent holds the fields of a GitHub push payload that decide whether
// the jobs tree needs a sync
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Forced     bool   `json:"forced"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []PushCommit `json:"commits"`
}

// PushCommit lists the files a pushed commit touched
type PushCommit struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// maxListedCommits is the number of commits GitHub lists in a push
// payload; a push of that size may have more
const maxListedCommits = 20

// TouchesJobs reports whether the push may change a job definition below
// subdir. Pushes whose file lists are incomplete always count.
func (e *PushEvent) TouchesJobs(subdir string) bool {
	if e.Forced || len(e.Commits) == 0 || len(e.Commits) >= maxListedCommits {
		return true
	}

	prefix := strings.Trim(subdir, "/")
	if prefix != "" {
		prefix += "/"
	}
	for _, c := range e.Commits {
		for _, files := range [][]string{c.Added, c.Removed, c.Modified} {
			for _, f := range files {
				if strings.HasPrefix(f, prefix) && path.Base(f) == jobConfigFile {
					return true
				}
			}
		}
	}
	return false
}

// rejection is a request the handler answers without syncing
type rejection struct {
	status int
	reason string
}

func (r *rejection) Error() string { return r.reason }

// Server receives push events and syncs the jobs repository to Jenkins
type Server struct {
	cfg     *config.Config
	git     git.Client
	jenkins jenkins.Client
	logger  *slog.Logger
	out     io.Writer
	secret  []byte

	// listeners returns pre-opened sockets; nil or empty means listen on
	// cfg.Serve.ListenAddr
	listeners func() ([]net.Listener, error)

	syncMu      sync.Mutex // guards syncRunning, syncPending and lastFailed
	syncRunning bool
	syncPending bool
	lastFailed  bool
	debounce    *debouncer
}

// debouncer collapses bursts of events into a single callback
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a webhook server. Action lines of every sync are
// written to out.
func NewServer(cfg *config.Config, gitClient git.Client, jenkinsClient jenkins.Client, logger *slog.Logger, out io.Writer) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	return &Server{
		cfg:       cfg,
		git:       gitClient,
		jenkins:   jenkinsClient,
		logger:    logger,
		out:       out,
		secret:    []byte(strings.TrimSpace(string(secret))),
		listeners: activation.Listeners,
		debounce:  &debouncer{delay: debounceDelay},
	}, nil
}

// Start performs an initial sync, then serves webhooks until ctx is
// cancelled. A socket handed over by systemd takes precedence over the
// configured listen address.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("performing initial sync before starting webhook server")
	s.performSync(ctx)

	listener, err := s.listener()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              s.cfg.Serve.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			s.logger.Info("webhook server starting", "addr", listener.Addr().String(), "socket_activated", true)
			err = server.Serve(listener)
		} else {
			s.logger.Info("webhook server starting", "addr", s.cfg.Serve.ListenAddr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler returns the HTTP handler serving webhook requests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	return mux
}

// listener returns the first activated socket, closing any extras, or nil
func (s *Server) listener() (net.Listener, error) {
	if s.listeners == nil {
		return nil, nil
	}
	ls, err := s.listeners()
	if err != nil {
		return nil, fmt.Errorf("failed to get activated sockets: %w", err)
	}
	if len(ls) == 0 {
		return nil, nil
	}
	for _, extra := range ls[1:] {
		s.logger.Warn("ignoring extra activated socket", "addr", extra.Addr().String())
		_ = extra.Close()
	}
	return ls[0], nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := s.readPush(r)
	if err != nil {
		var rej *rejection
		if !errors.As(err, &rej) {
			s.logger.Error("failed to read webhook", "error", err)
			http.Error(w, "Failed to read body", http.StatusInternalServerError)
			return
		}
		if rej.status != http.StatusOK {
			s.logger.Warn("rejecting webhook", "reason", rej.reason, "status", rej.status)
			http.Error(w, rej.reason, rej.status)
			return
		}
		s.logger.Info("ignoring webhook", "reason", rej.reason)
		reply(w, rej.reason)
		return
	}

	if !event.TouchesJobs(s.cfg.Repo.Subdir) && !s.lastSyncFailed() {
		s.logger.Info("push changes no job definitions",
			"ref", event.Ref,
			"commit", event.After,
			"subdir", s.cfg.Repo.Subdir)
		reply(w, "No job definitions changed")
		return
	}

	s.logger.Info("jobs repository push accepted",
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName,
		"commits", len(event.Commits))

	s.debounce.trigger(func() {
		s.performSync(context.Background())
	})
	reply(w, "Sync triggered")
}

// readPush authenticates the request and decodes an allowed push event.
// Requests that must not trigger a sync yield a *rejection.
func (s *Server) readPush(r *http.Request) (*PushEvent, error) {
	if r.Method != http.MethodPost {
		return nil, &rejection{http.StatusMethodNotAllowed, "Method not allowed"}
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		return nil, &rejection{http.StatusBadRequest, "Invalid content type"}
	}

	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		return nil, &rejection{http.StatusForbidden, "Invalid signature"}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if !allowed(s.cfg.Serve.AllowedEventTypes, eventType) {
		return nil, &rejection{http.StatusOK, "Event type not configured for sync"}
	}

	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &rejection{http.StatusBadRequest, "Invalid payload"}
	}
	if !allowed(s.cfg.Serve.AllowedRefs, event.Ref) {
		return nil, &rejection{http.StatusOK, "Ref not configured for sync"}
	}
	if event.Deleted {
		return nil, &rejection{http.StatusOK, "Ref deleted"}
	}
	return &event, nil
}

func reply(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, msg)
}

// verifySignature checks a GitHub "sha256=<hex>" HMAC of the body
func (s *Server) verifySignature(body []byte, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(hexSig), []byte(expected))
}

// allowed reports whether v passes the filter; an empty filter allows all
func allowed(filter []string, v string) bool {
	return len(filter) == 0 || slices.Contains(filter, v)
}

func (s *Server) lastSyncFailed() bool {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.lastFailed
}

// performSync runs one repository sync at a time. A request arriving
// during a run queues at most one re-run; further requests are dropped.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		engine := jobsync.NewEngine(s.cfg, s.jenkins, s.git, s.logger, s.out, false)
		report, err := engine.Run(ctx)
		s.logRun(report, err)

		s.syncMu.Lock()
		s.lastFailed = err != nil
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}

// logRun records the outcome of a repository sync against the job tree
func (s *Server) logRun(report *jobsync.RunReport, err error) {
	attrs := []any{}
	if report != nil {
		attrs = append(attrs, "commit", report.Commit, "applied", len(report.Applied))
		if report.Result != nil {
			attrs = append(attrs, "jobs", report.Result.Summary())
		}
	}
	if err != nil {
		s.logger.Error("jobs repository sync failed", append(attrs, "error", err)...)
		return
	}
	s.logger.Info("jobs repository synced", attrs...)
}

// trigger schedules the callback to run after the debounce delay,
// replacing any callback not yet run
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback that has not run yet
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
