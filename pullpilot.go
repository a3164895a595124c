// Package pullpilot wires the fleet update controller from a configuration
// so it can be embedded in other programs.
package pullpilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/pullpilot/internal/config"
	"github.com/loykin/pullpilot/internal/controller"
	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/history"
	"github.com/loykin/pullpilot/internal/history/factory"
	"github.com/loykin/pullpilot/internal/metrics"
	"github.com/loykin/pullpilot/internal/session"
	"github.com/loykin/pullpilot/internal/source"
	"github.com/loykin/pullpilot/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = config.Config

type Controller = controller.Controller

type Snapshot = fleet.Snapshot

type Unit = fleet.Unit

type Notifier = controller.Notifier

type Confirmer = controller.Confirmer

type Navigator = session.Navigator

type NavigatorFunc = session.NavigatorFunc

// ErrSessionExpired is reported once the gateway rejected the stored login.
var ErrSessionExpired = session.ErrSessionExpired

// LoadConfig reads a configuration file; an empty path yields defaults
// plus PULLPILOT_* environment overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config { return config.Default() }

// RegisterMetrics registers controller metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }

// Options customise how the application talks to its user.
type Options struct {
	Notifier  Notifier
	Confirmer Confirmer
	Navigator Navigator
	Logger    *slog.Logger
}

// App is a wired controller with its gateway client and stored login.
type App struct {
	Config     *Config
	Store      *fleet.Store
	Client     *client.Client
	Guard      *session.Guard
	Sessions   *session.Manager
	Controller *Controller
	Logger     *slog.Logger
}

// New builds an App from cfg. A stored login for the same gateway is
// reused. When cfg.History.ArchiveDSN is set the archive sink is opened.
func New(cfg *Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions := session.NewManager(cfg.Session.Dir)
	token := ""
	if stored, err := sessions.Load(); err != nil {
		logger.Warn("Ignoring unreadable session file", "path", sessions.Path(), "error", err)
	} else if stored != nil && sameServer(stored.ServerURL, cfg.API.URL) {
		token = stored.Token
	}

	ccfg := client.Config{
		BaseURL:  cfg.API.URL,
		Timeout:  cfg.API.Timeout,
		Insecure: cfg.API.Insecure,
		Session:  token,
		Logger:   logger,
	}
	if cfg.API.CACert != "" {
		ccfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: cfg.API.CACert}
	}
	c := client.New(ccfg)

	var archiver *history.Archiver
	if cfg.History.ArchiveDSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.ArchiveDSN)
		if err != nil {
			return nil, fmt.Errorf("history archive: %w", err)
		}
		archiver = history.NewArchiver(sink, logger)
	}

	store := fleet.NewStore()
	guard := session.NewGuard(store, opts.Navigator, logger)
	guard.ClearOnExpiry(sessions)
	ctrl := controller.New(store,
		source.NewLive(c, guard, logger),
		source.NewFallback(cfg.Fallback.Delay),
		guard,
		controller.Options{
			Notifier:       opts.Notifier,
			Confirmer:      opts.Confirmer,
			Sessions:       sessions,
			Archiver:       archiver,
			PollInterval:   cfg.Poll.Interval,
			RequestTimeout: cfg.API.Timeout,
			Logger:         logger,
		})

	return &App{
		Config:     cfg,
		Store:      store,
		Client:     c,
		Guard:      guard,
		Sessions:   sessions,
		Controller: ctrl,
		Logger:     logger,
	}, nil
}

// Login authenticates against the gateway and stores the session.
func (a *App) Login(ctx context.Context, username, password string) error {
	token, err := a.Client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("gateway did not issue a session")
	}
	return a.Sessions.Save(session.New(token, username, a.Config.API.URL, time.Now()))
}

// SessionExpired reports whether the gateway has rejected our session.
func (a *App) SessionExpired() bool { return a.Store.SessionExpired() }

// Close stops polling and releases the archive sink.
func (a *App) Close() error { return a.Controller.Close() }

func sameServer(stored, current string) bool {
	if stored == "" {
		return true
	}
	return strings.TrimRight(stored, "/") == strings.TrimRight(current, "/")
}
