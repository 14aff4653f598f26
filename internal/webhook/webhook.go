// Package webhook implements the serve mode: a long-running HTTP
// server that triggers reconciliation runs on GitHub push events and,
// optionally, on a periodic schedule.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/schaermu/nbsyncd/internal/activation"
	"github.com/schaermu/nbsyncd/internal/config"
)

// Runner executes one reconciliation run. Satisfied by
// *reconcile.Engine.
type Runner interface {
	Run(ctx context.Context) error
}

// pushEvent represents the relevant fields from a GitHub push webhook.
type pushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Server is the webhook HTTP server. Incoming pushes are debounced and
// reconciliations run single-flight: while one run is in progress at
// most one re-run is queued, further triggers are coalesced into it.
type Server struct {
	cfg     *config.Config
	runner  Runner
	logger  *slog.Logger
	secret  []byte
	metrics http.Handler // optional /metrics handler

	syncMu      sync.Mutex
	syncRunning bool
	syncPending bool
	debounce    *debouncer
}

// debounceDelay coalesces webhook bursts (e.g. a push immediately
// followed by a follow-up fix push) into one run.
const debounceDelay = 2 * time.Second

// NewServer creates a webhook server that triggers the given runner.
func NewServer(cfg *config.Config, runner Runner, logger *slog.Logger, metricsHandler http.Handler) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	return &Server{
		cfg:      cfg,
		runner:   runner,
		logger:   logger,
		secret:   []byte(strings.TrimSpace(string(secret))),
		metrics:  metricsHandler,
		debounce: &debouncer{delay: debounceDelay},
	}, nil
}

// Start performs an initial sync, then serves until ctx is cancelled.
// The listener comes from systemd socket activation when available,
// otherwise from the configured listen address.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("performing initial sync before starting webhook server")
	s.performSync(ctx)

	if interval := s.cfg.Serve.ResyncInterval.Std(); interval > 0 {
		stop, err := s.startResyncSchedule(ctx, interval)
		if err != nil {
			return err
		}
		defer stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	server := &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	ln, err := activation.Listener()
	if err != nil {
		return fmt.Errorf("systemd socket activation: %w", err)
	}
	if ln == nil {
		ln, err = net.Listen("tcp", s.cfg.Serve.ListenAddr)
		if err != nil {
			return err
		}
	} else {
		s.logger.Info("using systemd-activated listener", "addr", ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", ln.Addr())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// startResyncSchedule runs a periodic reconciliation alongside the
// webhook triggers, catching pushes whose deliveries were missed.
func (s *Server) startResyncSchedule(ctx context.Context, interval time.Duration) (func(), error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			s.logger.Info("periodic resync triggered", "interval", interval)
			s.performSync(ctx)
		}),
		gocron.WithName("resync"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule resync job: %w", err)
	}
	sched.Start()
	s.logger.Info("periodic resync enabled", "interval", interval)
	return func() {
		if err := sched.Shutdown(); err != nil {
			s.logger.Warn("scheduler shutdown failed", "error", err)
		}
	}, nil
}

// handleWebhook handles incoming GitHub webhook requests.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", ct)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	s.logger.Info("received webhook", "event", eventType)

	if !s.isEventTypeAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "Event type not configured for sync")
		return
	}

	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !s.isRefAllowed(event.Ref) {
		s.logger.Info("ignoring disallowed ref", "ref", event.Ref)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "Ref not configured for sync")
		return
	}

	s.logger.Info("webhook accepted",
		"event", eventType,
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName)

	s.debounce.trigger(func() {
		s.performSync(context.Background())
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "Sync triggered")
}

// verifySignature verifies the GitHub webhook HMAC signature.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison.
	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventTypeAllowed checks the event type against the allowlist; an
// empty allowlist admits everything.
func (s *Server) isEventTypeAllowed(eventType string) bool {
	if len(s.cfg.Serve.AllowedEventTypes) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Serve.AllowedEventTypes {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// isRefAllowed checks the pushed ref against the allowlist. With no
// allowlist configured, only pushes to the synced branch trigger runs.
func (s *Server) isRefAllowed(ref string) bool {
	if len(s.cfg.Serve.AllowedRefs) == 0 {
		return ref == "refs/heads/"+s.cfg.Repo.Branch
	}
	for _, allowed := range s.cfg.Serve.AllowedRefs {
		if ref == allowed {
			return true
		}
	}
	return false
}

// performSync executes a reconciliation with single-flight semantics.
// If a run is already in progress at most one additional run is
// queued; further concurrent triggers are coalesced into it.
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
		if err := s.runner.Run(ctx); err != nil {
			s.logger.Error("sync failed", "error", err)
		}

		// Atomically decide whether another run was requested while we
		// were busy; if so, loop to service exactly that one.
		s.syncMu.Lock()
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			return
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}

// debouncer delays a callback, restarting the timer on every trigger.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

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
