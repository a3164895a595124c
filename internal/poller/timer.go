package poller

import (
	"sync"
	"time"
)

// Timer owns at most one ticker goroutine. Each tick runs fn in its own
// goroutine, so a slow fn never delays the next tick.
type Timer struct {
	interval time.Duration

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

// NewTimer returns a stopped timer firing every interval.
func NewTimer(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{interval: interval}
}

// Start launches the ticker. It returns false, and does nothing, when the
// timer is already running.
func (t *Timer) Start(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quit != nil {
		return false
	}
	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(fn, t.quit, t.done)
	return true
}

func (t *Timer) run(fn func(), quit, done chan struct{}) {
	defer close(done)
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-quit:
			return
		case <-tk.C:
			// quit may have been closed in the same instant
			select {
			case <-quit:
				return
			default:
			}
			go fn()
		}
	}
}

// Stop cancels the ticker and waits until no further tick can fire. It
// returns true only for the call that actually stopped a running timer.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	if t.quit == nil {
		t.mu.Unlock()
		return false
	}
	close(t.quit)
	done := t.done
	t.quit, t.done = nil, nil
	t.mu.Unlock()
	<-done
	return true
}

// Active reports whether the ticker is running.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quit != nil
}

// Done returns a channel closed when the current ticker exits, or nil
// when the timer is stopped.
func (t *Timer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return nil
	}
	return t.done
}
