// Package controller orchestrates fleet updates: it guards per-unit and
// fleet-wide actions, applies optimistic toggles, keeps the store in sync
// with the gateway and falls back to local data when the gateway is down.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/history"
	"github.com/loykin/pullpilot/internal/metrics"
	"github.com/loykin/pullpilot/internal/poller"
	"github.com/loykin/pullpilot/internal/schedule"
	"github.com/loykin/pullpilot/internal/session"
	"github.com/loykin/pullpilot/internal/source"
	"github.com/loykin/pullpilot/pkg/client"
)

var (
	// ErrRejected wraps every failed write after the user was alerted.
	ErrRejected = client.ErrRejected
	// ErrCancelled is returned when the user declines a confirmation.
	ErrCancelled = errors.New("cancelled by user")
	// ErrInvalidSetting is returned for a toggle other than exclude or fullstop.
	ErrInvalidSetting = errors.New("unknown setting")
)

// Options configures a Controller.
type Options struct {
	Notifier  Notifier
	Confirmer Confirmer
	// Sessions is cleared on logout when set.
	Sessions *session.Manager
	// Archiver receives every live history refresh when set.
	Archiver *history.Archiver

	PollInterval   time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Controller is the update orchestrator.
type Controller struct {
	store    *fleet.Store
	live     source.Source
	fallback source.Source
	selector *source.Selector
	guard    *session.Guard
	poller   *poller.Poller

	notifier  Notifier
	confirmer Confirmer
	sessions  *session.Manager
	archiver  *history.Archiver
	logger    *slog.Logger
}

// New wires a controller. guard may be nil when the gateway has no login.
func New(store *fleet.Store, live, fallback source.Source, guard *session.Guard, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "controller")
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{logger: logger}
	}
	if opts.Confirmer == nil {
		opts.Confirmer = denyAll
	}
	c := &Controller{
		store:     store,
		live:      live,
		fallback:  fallback,
		selector:  source.NewSelector(store, live, fallback),
		guard:     guard,
		notifier:  opts.Notifier,
		confirmer: opts.Confirmer,
		sessions:  opts.Sessions,
		archiver:  opts.Archiver,
		logger:    logger,
	}
	c.poller = poller.New(store, live, c, poller.Config{
		Interval: opts.PollInterval,
		Timeout:  opts.RequestTimeout,
		Logger:   opts.Logger,
	})
	if guard != nil {
		guard.AddStopper(c.poller)
	}
	return c
}

// Store returns the fleet state store.
func (c *Controller) Store() *fleet.Store { return c.store }

// Poller returns the progress poller.
func (c *Controller) Poller() *poller.Poller { return c.poller }

// Mount performs the initial load and one progress check, which starts
// polling when a fleet-wide update is already running.
func (c *Controller) Mount(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	if err := c.poller.Check(ctx); err != nil {
		c.logger.Warn("Initial progress check failed", "error", err)
	}
	return nil
}

// Refresh reloads units, history and schedules. Units go first so that
// the schedules read sees the current mode.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.RefreshUnits(ctx); err != nil {
		return err
	}
	if err := c.RefreshHistory(ctx); err != nil {
		return err
	}
	return c.RefreshSchedules(ctx)
}

// RefreshUnits reads units from the gateway. A failure other than session
// expiry switches to fallback mode and loads the fallback units.
func (c *Controller) RefreshUnits(ctx context.Context) error {
	units, err := c.live.Units(ctx)
	switch {
	case err == nil:
		c.setUnits(units)
		c.setMode(fleet.ModeLive)
		return nil
	case session.IsExpired(err):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	c.logger.Warn("Gateway not detected, loading fallback data", "error", err)
	units, ferr := c.fallback.Units(ctx)
	if ferr != nil {
		return ferr
	}
	c.setUnits(units)
	c.setMode(fleet.ModeFallback)
	return nil
}

// RefreshHistory reads history from the gateway, substituting the fallback
// history on failures other than session expiry.
func (c *Controller) RefreshHistory(ctx context.Context) error {
	c.store.SetHistoryLoading(true)
	defer c.store.SetHistoryLoading(false)

	records, err := c.live.History(ctx)
	switch {
	case err == nil:
		c.store.SetHistory(records)
		c.archive(ctx, records)
		return nil
	case session.IsExpired(err):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	c.logger.Warn("History unavailable, loading fallback history", "error", err)
	records, ferr := c.fallback.History(ctx)
	if ferr != nil {
		return ferr
	}
	c.store.SetHistory(records)
	return nil
}

// RefreshSchedules reads schedules from the gateway. It is skipped in
// fallback mode; failures keep the previous schedules.
func (c *Controller) RefreshSchedules(ctx context.Context) error {
	if c.store.Mode() == fleet.ModeFallback {
		return nil
	}
	schedules, err := c.live.Schedules(ctx)
	if err != nil {
		if !session.IsExpired(err) {
			c.logger.Error("Error fetching schedules", "error", err)
		}
		return nil
	}
	c.store.SetSchedules(schedules)
	return nil
}

// CheckProgress runs one poller check.
func (c *Controller) CheckProgress(ctx context.Context) error {
	return c.poller.Check(ctx)
}

// UpdateUnit updates a single unit. The unit is locked before any request
// and unlocked on every path.
func (c *Controller) UpdateUnit(ctx context.Context, name string) error {
	if err := c.store.TryLock(name); err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	defer c.store.Unlock(name)

	src := c.selector.Current()
	if err := src.UpdateUnit(ctx, name); err != nil {
		metrics.IncUpdate(name, "error")
		return c.reject(MsgBackendError, "update "+name, err)
	}
	if src.Simulated() {
		metrics.IncUpdate(name, "simulated")
		return nil
	}
	metrics.IncUpdate(name, "ok")
	return c.RefreshUnits(ctx)
}

// UpdateAll starts a fleet-wide update after confirmation and begins
// polling its progress.
func (c *Controller) UpdateAll(ctx context.Context) error {
	if c.store.Progress().IsRunning {
		return fleet.ErrOperationRunning
	}
	if !confirmed(ctx, c.confirmer, MsgConfirmUpdateAll) {
		return ErrCancelled
	}
	if err := c.store.ClaimFleet(); err != nil {
		return err
	}
	// once progress reports running, IsRunning carries the exclusion
	defer c.store.ReleaseFleet()

	src := c.selector.Current()
	if err := src.UpdateAll(ctx); err != nil {
		metrics.IncUpdate(fleet.GlobalTarget, "error")
		return c.reject(MsgBackendError, "update all", err)
	}
	if src.Simulated() {
		metrics.IncUpdate(fleet.GlobalTarget, "simulated")
		c.notifier.Notice(MsgSimulatedUpdateAll)
		return nil
	}
	metrics.IncUpdate(fleet.GlobalTarget, "ok")
	c.store.SetProgress(fleet.StartingProgress())
	c.poller.Start()
	return nil
}

// ToggleSetting flips setting on name in the store, then asks the gateway
// to do the same and re-reads units whatever the outcome. A failed request
// is logged; the flip is not rolled back.
func (c *Controller) ToggleSetting(ctx context.Context, name string, setting fleet.Setting) error {
	if !setting.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSetting, setting)
	}
	if _, err := c.store.Toggle(name, setting); err != nil {
		return fmt.Errorf("toggle %s: %w", name, err)
	}

	src := c.selector.Current()
	if src.Simulated() {
		return nil
	}
	var err error
	switch setting {
	case fleet.SettingExclude:
		err = src.ToggleExclude(ctx, name)
	case fleet.SettingFullStop:
		err = src.ToggleFullStop(ctx, name)
	}
	if session.IsExpired(err) {
		return nil
	}
	if rerr := c.RefreshUnits(ctx); rerr != nil {
		c.logger.Warn("Units refresh after toggle failed", "error", rerr)
	}
	if err != nil {
		c.logger.Error(MsgConfigError, "unit", name, "setting", setting, "error", err)
		return fmt.Errorf("%w: toggle %s %s: %w", ErrRejected, setting, name, err)
	}
	return nil
}

// CreateSchedule validates req, creates the schedule and reloads schedules.
func (c *Controller) CreateSchedule(ctx context.Context, req schedule.Request) (fleet.Schedule, error) {
	if _, err := schedule.Build(req); err != nil {
		return fleet.Schedule{}, err
	}
	s, err := c.selector.Current().CreateSchedule(ctx, req.ClientRequest())
	if err != nil {
		return fleet.Schedule{}, c.reject(MsgScheduleError, "create schedule", err)
	}
	_ = c.RefreshSchedules(ctx)
	return s, nil
}

// DeleteSchedule removes a schedule after confirmation. Failures are only
// logged.
func (c *Controller) DeleteSchedule(ctx context.Context, id int64) error {
	if !confirmed(ctx, c.confirmer, MsgConfirmDeleteSchedule) {
		return ErrCancelled
	}
	if err := c.selector.Current().DeleteSchedule(ctx, id); err != nil {
		if session.IsExpired(err) {
			return nil
		}
		c.logger.Warn("Delete schedule failed", "id", id, "error", err)
		return fmt.Errorf("%w: delete schedule %d: %w", ErrRejected, id, err)
	}
	_ = c.RefreshSchedules(ctx)
	return nil
}

// Logout stops polling, ends the gateway session and forgets stored
// credentials.
func (c *Controller) Logout(ctx context.Context) error {
	c.poller.Stop()
	var err error
	if l, ok := c.live.(interface{ Logout(context.Context) error }); ok {
		if err = l.Logout(ctx); err != nil {
			c.logger.Error("Error logging out", "error", err)
		}
	}
	if c.sessions != nil {
		if cerr := c.sessions.Clear(); cerr != nil {
			return cerr
		}
	}
	return err
}

// Close stops polling and releases the archive sink.
func (c *Controller) Close() error {
	c.poller.Stop()
	if c.archiver != nil {
		return c.archiver.Close()
	}
	return nil
}

// reject turns a write failure into one alert and an ErrRejected error.
// Session expiry and cancellation are not alerted.
func (c *Controller) reject(msg, action string, err error) error {
	if session.IsExpired(err) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Error("Action failed", "action", action, "error", err)
	c.notifier.Alert(msg)
	if errors.Is(err, ErrRejected) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRejected, action, err)
}

func (c *Controller) setUnits(units []fleet.Unit) {
	c.store.SetUnits(units)
	counts := make(map[string]int)
	for _, u := range units {
		counts[string(u.Status)]++
	}
	metrics.SetUnits(counts)
}

func (c *Controller) setMode(m fleet.Mode) {
	if c.store.Mode() != m {
		c.logger.Info("Data source changed", "mode", m)
	}
	c.store.SetMode(m)
	metrics.SetMode(string(m))
}

func (c *Controller) archive(ctx context.Context, records []fleet.HistoryRecord) {
	if c.archiver == nil {
		return
	}
	if _, err := c.archiver.Archive(ctx, records); err != nil {
		c.logger.Warn("History archive failed", "error", err)
	}
}
