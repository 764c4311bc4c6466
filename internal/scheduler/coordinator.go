// Package scheduler decides when reconciliation passes run. A
// Coordinator runs passes on a fixed interval and on demand, never more
// than one at a time, and folds concurrent requests into a single rerun.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/reconcile"
)

const (
	// DefaultInterval is the timer period when Config.Interval is zero.
	DefaultInterval = 10 * time.Second

	// DefaultPassTimeout bounds a pass when Config.PassTimeout is zero.
	DefaultPassTimeout = 2 * time.Minute
)

// Passer runs one reconciliation pass.
type Passer interface {
	Pass(ctx context.Context) (*reconcile.Result, error)
}

// Config holds the scheduler timings.
type Config struct {
	Interval    time.Duration
	PassTimeout time.Duration
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Running      bool              `json:"running"`
	Pending      bool              `json:"pending"`
	Passes       int64             `json:"passes"`
	Failures     int64             `json:"failures"`
	LastStarted  time.Time         `json:"last_started,omitzero"`
	LastFinished time.Time         `json:"last_finished,omitzero"`
	LastError    string            `json:"last_error,omitempty"`
	LastResult   *reconcile.Result `json:"last_result,omitempty"`
}

// Coordinator owns the in-flight and pending-rerun flags. It is idle or
// running; there is no global lock around the pass itself.
type Coordinator struct {
	passer      Passer
	interval    time.Duration
	passTimeout time.Duration
	logger      *slog.Logger

	// wake carries at most one outstanding Trigger.
	wake chan struct{}

	mu      sync.Mutex
	running bool
	pending bool
	status  Status
}

// New creates a coordinator. Zero durations in cfg take the defaults.
func New(passer Passer, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = DefaultPassTimeout
	}

	return &Coordinator{
		passer:      passer,
		interval:    cfg.Interval,
		passTimeout: cfg.PassTimeout,
		logger:      logger,
		wake:        make(chan struct{}, 1),
	}
}

// Trigger asks Run for a pass as soon as possible. It never blocks. Any
// number of triggers before the loop gets to them collapse into one pass.
func (c *Coordinator) Trigger() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RunOnce runs a pass now and returns its result. If a pass is already in
// flight it records one pending rerun and returns ErrPassInFlight; the
// in-flight caller runs the rerun before going idle and returns the
// result of the last pass it ran.
func (c *Coordinator) RunOnce(ctx context.Context) (*reconcile.Result, error) {
	c.mu.Lock()
	if c.running {
		c.pending = true
		c.status.Pending = true
		c.mu.Unlock()

		return nil, syncerr.ErrPassInFlight
	}

	c.running = true
	c.status.Running = true
	c.mu.Unlock()

	for {
		res, err := c.pass(ctx)

		c.mu.Lock()
		rerun := c.pending && ctx.Err() == nil
		c.pending = false
		c.status.Pending = false

		if !rerun {
			c.running = false
			c.status.Running = false
			c.mu.Unlock()

			return res, err
		}

		c.mu.Unlock()
		c.logger.Debug("running pending reconciliation pass")
	}
}

// Run drives passes until ctx is cancelled: one at startup, then on every
// tick and every Trigger. A failed pass is logged and retried on the next
// tick; the ticker is never reset. Run returns nil on cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("sync scheduler started", slog.Duration("interval", c.interval))

	c.runScheduled(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sync scheduler stopped")
			return nil
		case <-ticker.C:
		case <-c.wake:
		}

		// Fold a tick and a trigger that arrived together into this pass.
		drain(ticker.C)
		drain[struct{}](c.wake)

		c.runScheduled(ctx)
	}
}

func (c *Coordinator) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := c.RunOnce(ctx)
	if errors.Is(err, syncerr.ErrPassInFlight) {
		c.logger.Debug("pass already in flight, rerun queued")
	}
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// pass runs one pass under the pass timeout and records the outcome.
func (c *Coordinator) pass(ctx context.Context) (*reconcile.Result, error) {
	passCtx, cancel := context.WithTimeout(ctx, c.passTimeout)
	defer cancel()

	started := time.Now()

	c.mu.Lock()
	c.status.LastStarted = started
	c.mu.Unlock()

	res, err := c.passer.Pass(passCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.LastFinished = time.Now()
	c.status.Passes++

	if err != nil {
		c.status.Failures++
		c.status.LastError = err.Error()

		c.logger.Warn("reconciliation pass failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(started)),
		)

		return nil, fmt.Errorf("reconciliation pass: %w", err)
	}

	c.status.LastError = ""
	c.status.LastResult = res

	return res, nil
}

func drain[T any](ch <-chan T) {
	select {
	case <-ch:
	default:
	}
}
