package session

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/metrics"
	"github.com/loykin/pullpilot/pkg/client"
)

// ErrSessionExpired is the terminal failure raised once the gateway
// rejects our credentials. It is the same sentinel the client returns.
var ErrSessionExpired = client.ErrSessionExpired

// Stopper is recurring work that must halt when the session ends.
type Stopper interface {
	Stop() bool
}

// Navigator sends the user to the login entry point.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a func to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

// Guard inspects every gateway error for the session-expired signal.
// On the first signal it stops registered recurring work, marks the store
// and navigates to login; later signals only stop work again.
type Guard struct {
	store    *fleet.Store
	nav      Navigator
	sessions *Manager
	logger   *slog.Logger

	mu         sync.Mutex
	stoppers   []Stopper
	redirected atomic.Bool
}

// NewGuard creates a guard. store and nav may be nil.
func NewGuard(store *fleet.Store, nav Navigator, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, nav: nav, logger: logger.With("component", "session-guard")}
}

// AddStopper registers work to cancel on session expiry.
func (g *Guard) AddStopper(s Stopper) {
	g.mu.Lock()
	g.stoppers = append(g.stoppers, s)
	g.mu.Unlock()
}

// ClearOnExpiry makes the first expiry signal remove the stored login
// held by m.
func (g *Guard) ClearOnExpiry(m *Manager) {
	g.mu.Lock()
	g.sessions = m
	g.mu.Unlock()
}

// Check returns err unchanged unless it signals an expired session, in
// which case the expiry side effects run and ErrSessionExpired is returned.
func (g *Guard) Check(err error) error {
	if err == nil || !errors.Is(err, client.ErrSessionExpired) {
		return err
	}
	g.expire()
	return ErrSessionExpired
}

// Expired reports whether a session-expired signal has been observed.
func (g *Guard) Expired() bool {
	return g.redirected.Load()
}

func (g *Guard) expire() {
	g.mu.Lock()
	stoppers := append([]Stopper(nil), g.stoppers...)
	sessions := g.sessions
	g.mu.Unlock()
	// timers stop before any navigation side effect
	for _, s := range stoppers {
		s.Stop()
	}
	if !g.redirected.CompareAndSwap(false, true) {
		return
	}
	g.logger.Warn("Session expired, redirecting to login")
	metrics.IncSessionExpired()
	if g.store != nil {
		g.store.MarkSessionExpired()
	}
	if sessions != nil {
		if err := sessions.Clear(); err != nil {
			g.logger.Error("Failed to clear stored session", "path", sessions.Path(), "error", err)
		}
	}
	if g.nav != nil {
		g.nav.ToLogin()
	}
}

// IsExpired reports whether err is the session-expired signal.
func IsExpired(err error) bool {
	return errors.Is(err, client.ErrSessionExpired)
}
