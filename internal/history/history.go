// Package history mirrors the gateway's update history into external
// stores for long-term retention and analytics.
package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/metrics"
)

// Sink is a destination for history records (analytics/statistics systems).
// Implementations must be safe for concurrent use and must ignore a record
// whose ID they already hold.
type Sink interface {
	Send(ctx context.Context, rec fleet.HistoryRecord) error
}

// Archiver forwards records not yet archived to a sink. The gateway only
// serves its most recent entries, so every refresh is offered and the
// archiver keeps the highest ID it has delivered.
type Archiver struct {
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	last int64
}

// NewArchiver returns an archiver for sink.
func NewArchiver(sink Sink, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{sink: sink, logger: logger.With("component", "history-archive")}
}

// Archive sends records with an ID above the highest archived one, oldest
// first. It stops at the first failure and returns how many were sent;
// the failed record is retried on the next call.
func (a *Archiver) Archive(ctx context.Context, records []fleet.HistoryRecord) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := make([]fleet.HistoryRecord, 0, len(records))
	for _, r := range records {
		if r.ID > a.last {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	sent := 0
	for _, r := range pending {
		if err := a.sink.Send(ctx, r); err != nil {
			metrics.AddArchived("ok", sent)
			metrics.AddArchived("error", 1)
			return sent, fmt.Errorf("archive record %d: %w", r.ID, err)
		}
		a.last = r.ID
		sent++
	}
	metrics.AddArchived("ok", sent)
	if sent > 0 {
		a.logger.Debug("Archived history records", "count", sent, "last_id", a.last)
	}
	return sent, nil
}

// LastID returns the highest archived record ID.
func (a *Archiver) LastID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Close closes the sink when it holds resources.
func (a *Archiver) Close() error {
	if c, ok := a.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
