package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/pkg/client"
)

type scriptedReader struct {
	mu    sync.Mutex
	steps []fleet.Progress
	err   error
	calls int
}

func (r *scriptedReader) Progress(context.Context) (fleet.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return fleet.Progress{}, r.err
	}
	if len(r.steps) == 0 {
		return fleet.Progress{}, nil
	}
	p := r.steps[0]
	if len(r.steps) > 1 {
		r.steps = r.steps[1:]
	}
	return p, nil
}

func (r *scriptedReader) set(steps []fleet.Progress, err error) {
	r.mu.Lock()
	r.steps, r.err = steps, err
	r.mu.Unlock()
}

type countingRefresher struct {
	units   atomic.Int32
	history atomic.Int32
}

func (c *countingRefresher) RefreshUnits(context.Context) error {
	c.units.Add(1)
	return nil
}

func (c *countingRefresher) RefreshHistory(context.Context) error {
	c.history.Add(1)
	return nil
}

func running(cur, total int) fleet.Progress {
	return fleet.Progress{IsRunning: true, Current: cur, Total: total, CurrentUnit: "plex"}
}

func newPoller(r ProgressReader, ref Refresher) (*Poller, *fleet.Store) {
	store := fleet.NewStore()
	return New(store, r, ref, Config{Interval: 5 * time.Millisecond}), store
}

func TestCheckStartsPollingWhenRunning(t *testing.T) {
	r := &scriptedReader{steps: []fleet.Progress{running(1, 3)}}
	p, store := newPoller(r, &countingRefresher{})
	defer p.Stop()

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !p.Active() {
		t.Fatal("expected polling to start")
	}
	if got := store.Progress(); got.Current != 1 || got.Total != 3 || !got.IsRunning {
		t.Fatalf("progress not stored: %+v", got)
	}
}

func TestIdleCheckWithoutTimerDoesNothing(t *testing.T) {
	r := &scriptedReader{}
	ref := &countingRefresher{}
	p, _ := newPoller(r, ref)
	if err := p.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Active() || ref.units.Load() != 0 || ref.history.Load() != 0 {
		t.Fatal("idle check must not start polling or refresh")
	}
}

func TestDrainRunsExactlyOnce(t *testing.T) {
	r := &scriptedReader{steps: []fleet.Progress{running(1, 2), running(2, 2), {}}}
	ref := &countingRefresher{}
	p, store := newPoller(r, ref)

	if !p.Start() {
		t.Fatal("start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// more idle checks after the drain must not refresh again
	for i := 0; i < 5; i++ {
		_ = p.Check(context.Background())
	}
	time.Sleep(20 * time.Millisecond)

	if ref.units.Load() != 1 || ref.history.Load() != 1 {
		t.Fatalf("expected exactly one refresh each, got units=%d history=%d", ref.units.Load(), ref.history.Load())
	}
	if p.Active() {
		t.Fatal("timer should be stopped after drain")
	}
	if got := store.Progress(); got.IsRunning || got.Total != 0 || got.Current != 0 {
		t.Fatalf("progress not reset: %+v", got)
	}
}

func TestConcurrentIdleChecksDrainOnce(t *testing.T) {
	r := &scriptedReader{}
	ref := &countingRefresher{}
	p, _ := newPoller(r, ref)
	p.timer = NewTimer(time.Hour)
	p.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Check(context.Background())
		}()
	}
	wg.Wait()
	if ref.units.Load() != 1 || ref.history.Load() != 1 {
		t.Fatalf("expected one drain, got units=%d history=%d", ref.units.Load(), ref.history.Load())
	}
}

func TestErrorsKeepTimerAlive(t *testing.T) {
	r := &scriptedReader{err: client.ErrUnreachable}
	ref := &countingRefresher{}
	p, _ := newPoller(r, ref)
	p.Start()
	defer p.Stop()

	if err := p.Check(context.Background()); !errors.Is(err, client.ErrUnreachable) {
		t.Fatalf("expected error to be returned, got %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if !p.Active() {
		t.Fatal("transient failures must not stop polling")
	}
	if ref.units.Load() != 0 {
		t.Fatal("failures must not trigger a drain")
	}
}

func TestSessionExpiredDroppedSilently(t *testing.T) {
	r := &scriptedReader{err: client.ErrSessionExpired}
	p, store := newPoller(r, &countingRefresher{})
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("session expiry should be dropped, got %v", err)
	}

	store.MarkSessionExpired()
	r.set([]fleet.Progress{running(0, 1)}, nil)
	_ = p.Check(context.Background())
	if p.Active() {
		t.Fatal("polling must not restart after the session expired")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	r := &scriptedReader{steps: []fleet.Progress{running(0, 5)}}
	p, _ := newPoller(r, &countingRefresher{})
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
