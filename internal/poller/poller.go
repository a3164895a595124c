package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/metrics"
	"github.com/loykin/pullpilot/internal/session"
)

// DefaultInterval is the progress polling cadence.
const DefaultInterval = time.Second

// ProgressReader reads the fleet-wide operation status.
type ProgressReader interface {
	Progress(ctx context.Context) (fleet.Progress, error)
}

// Refresher reloads store slices after a fleet-wide run ends.
type Refresher interface {
	RefreshUnits(ctx context.Context) error
	RefreshHistory(ctx context.Context) error
}

// Config configures a Poller.
type Config struct {
	Interval time.Duration
	// Timeout bounds each tick's progress read and drain refresh.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Poller watches a running fleet-wide operation. It is idle while nothing
// runs, polls while the gateway reports a run, and drains exactly once
// when the run is observed to finish.
type Poller struct {
	store     *fleet.Store
	reader    ProgressReader
	refresher Refresher
	timer     *Timer
	timeout   time.Duration
	logger    *slog.Logger

	// drainMu serializes state transitions and is held across
	// stop-and-refresh so Wait observes a finished drain.
	drainMu sync.Mutex
	// drains counts completed drains; a running report read before the
	// latest drain is stale and must not restart the timer.
	drains atomic.Uint64
}

// New creates an idle poller.
func New(store *fleet.Store, reader ProgressReader, refresher Refresher, cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Poller{
		store:     store,
		reader:    reader,
		refresher: refresher,
		timer:     NewTimer(cfg.Interval),
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "poller"),
	}
}

// Check reads progress once and applies the state machine. Session expiry
// is dropped silently; other errors are logged and returned with the
// timer left as it was.
func (p *Poller) Check(ctx context.Context) error {
	gen := p.drains.Load()
	prog, err := p.reader.Progress(ctx)
	if err != nil {
		if session.IsExpired(err) {
			metrics.IncPollCheck("dropped")
			return nil
		}
		metrics.IncPollCheck("error")
		p.logger.Warn("Progress check failed", "error", err)
		return err
	}

	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	if prog.IsRunning {
		if p.drains.Load() != gen {
			metrics.IncPollCheck("stale")
			return nil
		}
		metrics.IncPollCheck("running")
		p.store.SetProgress(prog)
		p.Start()
		return nil
	}

	if !p.Stop() {
		metrics.IncPollCheck("idle")
		return nil
	}
	p.drains.Add(1)
	metrics.IncPollCheck("drained")
	p.logger.Info("Fleet update finished, refreshing")
	p.store.ResetProgress()
	if err := p.refresher.RefreshUnits(ctx); err != nil {
		p.logger.Warn("Units refresh after update failed", "error", err)
	}
	if err := p.refresher.RefreshHistory(ctx); err != nil {
		p.logger.Warn("History refresh after update failed", "error", err)
	}
	return nil
}

// Start begins polling. It is a no-op while already polling or after the
// session expired.
func (p *Poller) Start() bool {
	if p.store.SessionExpired() {
		return false
	}
	if !p.timer.Start(p.tick) {
		return false
	}
	metrics.SetPollActive(true)
	p.logger.Debug("Polling started")
	return true
}

// Stop halts polling without draining. Safe to call when idle.
func (p *Poller) Stop() bool {
	if !p.timer.Stop() {
		return false
	}
	metrics.SetPollActive(false)
	p.logger.Debug("Polling stopped")
	return true
}

// Active reports whether the poller is polling.
func (p *Poller) Active() bool { return p.timer.Active() }

// Wait blocks until polling stops and any drain in flight has finished.
func (p *Poller) Wait(ctx context.Context) error {
	if done := p.timer.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.drainMu.Lock()
	p.drainMu.Unlock()
	return nil
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_ = p.Check(ctx)
}
