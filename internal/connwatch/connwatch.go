// Package connwatch provides background health monitoring for the MCP
// server connection. A Watcher periodically pings the server while a
// session is active and reports up/down transitions, so an interactive
// session can tell the user that a server died mid-conversation instead
// of failing silently on the next tool call.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether the server is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config configures a Watcher.
type Config struct {
	// Name is a human-readable identifier for logging (e.g., "filesystem").
	Name string

	// Probe checks server health. Must be safe for concurrent use.
	Probe ProbeFunc

	// Interval between background probes (default: 60s).
	Interval time.Duration

	// ProbeTimeout limits each individual probe call (default: 10s).
	ProbeTimeout time.Duration

	// OnDown is called when the server transitions from ready to
	// not-ready. Called in a separate goroutine. Optional.
	OnDown func(err error)

	// OnReady is called when the server transitions back to ready.
	// Called in a separate goroutine. Optional.
	OnReady func()

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Status is a point-in-time health snapshot.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one MCP server connection.
type Watcher struct {
	config Config
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// Watch starts monitoring. The connection is assumed healthy at start —
// the caller just connected. Monitoring stops when ctx is cancelled or
// Stop is called.
func Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.ready.Store(true)

	go w.run(ctx)
	return w
}

// IsReady reports whether the server answered the most recent probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current health snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// run probes on a ticker and fires transition callbacks.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	logger := w.config.Logger
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			w.recordResult(err)
			wasReady := w.ready.Load()

			switch {
			case wasReady && err != nil:
				w.ready.Store(false)
				logger.Info("MCP server became unreachable",
					"server", w.config.Name,
					"error", err,
				)
				if w.config.OnDown != nil {
					go w.config.OnDown(err)
				}
			case !wasReady && err == nil:
				w.ready.Store(true)
				logger.Info("MCP server recovered", "server", w.config.Name)
				if w.config.OnReady != nil {
					go w.config.OnReady()
				}
			case !wasReady && err != nil:
				logger.Debug("MCP server still unreachable",
					"server", w.config.Name,
					"error", err,
				)
			}
		}
	}
}

// probe calls the configured ProbeFunc with a timeout.
func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

// recordResult stores the probe outcome under the mutex.
func (w *Watcher) recordResult(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}
