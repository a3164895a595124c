package source

import (
	"context"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/pkg/client"
)

// DefaultDelay is how long simulated updates take.
const DefaultDelay = 1500 * time.Millisecond

const day = 24 * time.Hour

// FallbackUnits returns the fixed demo fleet.
func FallbackUnits() []fleet.Unit {
	return []fleet.Unit{
		{Name: "plex-media-server", Status: fleet.StatusRunning, Containers: 1},
		{Name: "pihole-dns", Status: fleet.StatusRunning, Containers: 2, FullStop: true},
		{Name: "vaultwarden", Status: fleet.StatusStopped, Containers: 0, Excluded: true},
		{Name: "home-assistant", Status: fleet.StatusRunning, Containers: 3},
		{Name: "nginx-proxy-manager", Status: fleet.StatusPartial, Containers: 1},
	}
}

// FallbackHistory returns the fixed demo history, newest first, relative
// to now.
func FallbackHistory(now time.Time) []fleet.HistoryRecord {
	return []fleet.HistoryRecord{
		{ID: 1, Status: fleet.RecordSuccess, Timestamp: now, Summary: "plex-media-server: OK, pihole-dns: OK", Details: fleet.Details(`{}`)},
		{ID: 2, Status: fleet.RecordError, Timestamp: now.Add(-day), Summary: "vaultwarden: ERROR", Details: fleet.Details(`{"error": "Connection timed out"}`)},
		{ID: 3, Status: fleet.RecordSuccess, Timestamp: now.Add(-2 * day), Summary: "Global update completed", Details: fleet.Details(`{}`)},
	}
}

// Fallback serves the demo dataset and simulates actions locally.
type Fallback struct {
	delay time.Duration
	now   func() time.Time
}

// NewFallback returns a fallback source whose updates take delay. A
// negative delay means DefaultDelay.
func NewFallback(delay time.Duration) *Fallback {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Fallback{delay: delay, now: time.Now}
}

func (f *Fallback) Units(context.Context) ([]fleet.Unit, error) {
	return FallbackUnits(), nil
}

func (f *Fallback) History(context.Context) ([]fleet.HistoryRecord, error) {
	return FallbackHistory(f.now()), nil
}

func (f *Fallback) Schedules(context.Context) ([]fleet.Schedule, error) {
	return []fleet.Schedule{}, nil
}

func (f *Fallback) Progress(context.Context) (fleet.Progress, error) {
	return fleet.Progress{}, nil
}

func (f *Fallback) UpdateUnit(ctx context.Context, _ string) error {
	return f.wait(ctx)
}

func (f *Fallback) UpdateAll(ctx context.Context) error {
	return f.wait(ctx)
}

// toggles only flip local state, which the controller already did

func (f *Fallback) ToggleExclude(context.Context, string) error  { return nil }
func (f *Fallback) ToggleFullStop(context.Context, string) error { return nil }

func (f *Fallback) CreateSchedule(context.Context, client.ScheduleRequest) (fleet.Schedule, error) {
	return fleet.Schedule{}, ErrOffline
}

func (f *Fallback) DeleteSchedule(context.Context, int64) error {
	return ErrOffline
}

func (f *Fallback) Simulated() bool { return true }

func (f *Fallback) wait(ctx context.Context) error {
	if f.delay == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
