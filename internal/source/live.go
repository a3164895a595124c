package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/metrics"
	"github.com/loykin/pullpilot/internal/session"
	"github.com/loykin/pullpilot/pkg/client"
)

// Live talks to the gateway. Every error passes through the session guard.
type Live struct {
	client *client.Client
	guard  *session.Guard
	logger *slog.Logger
}

// NewLive wraps c. guard may be nil, in which case errors are returned as
// the client produced them.
func NewLive(c *client.Client, guard *session.Guard, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{client: c, guard: guard, logger: logger.With("component", "source-live")}
}

// Client returns the underlying gateway client.
func (l *Live) Client() *client.Client { return l.client }

func (l *Live) Units(ctx context.Context) ([]fleet.Unit, error) {
	start := time.Now()
	units, err := l.client.ListUnits(ctx)
	return units, l.finish("projects", start, err)
}

func (l *Live) History(ctx context.Context) ([]fleet.HistoryRecord, error) {
	start := time.Now()
	records, err := l.client.ListHistory(ctx)
	return records, l.finish("history", start, err)
}

func (l *Live) Schedules(ctx context.Context) ([]fleet.Schedule, error) {
	start := time.Now()
	schedules, err := l.client.ListSchedules(ctx)
	return schedules, l.finish("schedules", start, err)
}

func (l *Live) Progress(ctx context.Context) (fleet.Progress, error) {
	start := time.Now()
	p, err := l.client.UpdateStatus(ctx)
	return p, l.finish("update-status", start, err)
}

func (l *Live) UpdateUnit(ctx context.Context, name string) error {
	start := time.Now()
	res, err := l.client.UpdateUnit(ctx, name)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: update of %s reported failure", client.ErrRejected, name)
	}
	return l.finish("update", start, err)
}

func (l *Live) UpdateAll(ctx context.Context) error {
	start := time.Now()
	return l.finish("update-all", start, l.client.UpdateAll(ctx))
}

func (l *Live) ToggleExclude(ctx context.Context, name string) error {
	start := time.Now()
	return l.finish("toggle_exclude", start, l.client.ToggleExclude(ctx, name))
}

func (l *Live) ToggleFullStop(ctx context.Context, name string) error {
	start := time.Now()
	return l.finish("toggle_fullstop", start, l.client.ToggleFullStop(ctx, name))
}

func (l *Live) CreateSchedule(ctx context.Context, req client.ScheduleRequest) (fleet.Schedule, error) {
	start := time.Now()
	s, err := l.client.CreateSchedule(ctx, req)
	return s, l.finish("create-schedule", start, err)
}

func (l *Live) DeleteSchedule(ctx context.Context, id int64) error {
	start := time.Now()
	return l.finish("delete-schedule", start, l.client.DeleteSchedule(ctx, id))
}

func (l *Live) Simulated() bool { return false }

// Reachable probes the gateway without going through the guard.
func (l *Live) Reachable(ctx context.Context) bool {
	return l.client.IsReachable(ctx)
}

func (l *Live) finish(op string, start time.Time, err error) error {
	metrics.ObserveRequest(op, outcome(err), time.Since(start).Seconds())
	if err != nil {
		l.logger.Debug("Gateway call failed", "operation", op, "error", err)
	}
	if l.guard == nil {
		return err
	}
	return l.guard.Check(err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, client.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, client.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, client.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

// Logout ends the gateway session.
func (l *Live) Logout(ctx context.Context) error {
	start := time.Now()
	err := l.client.Logout(ctx)
	metrics.ObserveRequest("logout", outcome(err), time.Since(start).Seconds())
	return err
}
