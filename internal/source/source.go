// Package source provides the two data sources the controller reads from
// and writes to: the live gateway and a local fallback dataset used when
// the gateway cannot be reached.
package source

import (
	"context"
	"errors"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/pkg/client"
)

// ErrOffline is returned by writes that need the gateway while running on
// the fallback dataset.
var ErrOffline = errors.New("gateway offline: running on fallback data")

// Source is a strategy for reading fleet state and issuing actions.
type Source interface {
	Units(ctx context.Context) ([]fleet.Unit, error)
	History(ctx context.Context) ([]fleet.HistoryRecord, error)
	Schedules(ctx context.Context) ([]fleet.Schedule, error)
	Progress(ctx context.Context) (fleet.Progress, error)

	UpdateUnit(ctx context.Context, name string) error
	UpdateAll(ctx context.Context) error
	ToggleExclude(ctx context.Context, name string) error
	ToggleFullStop(ctx context.Context, name string) error
	CreateSchedule(ctx context.Context, req client.ScheduleRequest) (fleet.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error

	// Simulated reports whether actions only pretend to reach a gateway.
	Simulated() bool
}

// Selector picks the source matching the store's recorded mode.
type Selector struct {
	store    *fleet.Store
	live     Source
	fallback Source
}

// NewSelector returns a selector over live and fallback.
func NewSelector(store *fleet.Store, live, fallback Source) *Selector {
	return &Selector{store: store, live: live, fallback: fallback}
}

// Current returns the fallback source when the store is in fallback mode
// and the live source otherwise.
func (s *Selector) Current() Source {
	if s.store.Mode() == fleet.ModeFallback {
		return s.fallback
	}
	return s.live
}

// Live returns the live source.
func (s *Selector) Live() Source { return s.live }

// Fallback returns the fallback source.
func (s *Selector) Fallback() Source { return s.fallback }
