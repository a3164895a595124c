package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/pullpilot"
	"github.com/loykin/pullpilot/internal/controller"
	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/logger"
	"github.com/loykin/pullpilot/internal/schedule"
)

// command carries the terminal the CLI talks to.
type command struct {
	in     *bufio.Reader
	inFile *os.File
	out    io.Writer
	errOut io.Writer
}

func newCommand(in io.Reader, out, errOut io.Writer) command {
	c := command{in: bufio.NewReader(in), out: out, errOut: errOut}
	if f, ok := in.(*os.File); ok {
		c.inFile = f
	}
	return c
}

// invocation is one CLI invocation's wired app and its log file.
type invocation struct {
	app    *pullpilot.App
	closer io.Closer
}

func (s *invocation) Close() error {
	err := s.app.Close()
	_ = s.closer.Close()
	return err
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(g GlobalFlags) (*pullpilot.Config, error) {
	cfg, err := pullpilot.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.APIUrl != "" {
		cfg.API.URL = g.APIUrl
	}
	if g.APITimeout > 0 {
		cfg.API.Timeout = g.APITimeout
	}
	return cfg, nil
}

func (c command) logger(cfg *pullpilot.Config) (*slog.Logger, io.Closer) {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, c.errOut)
}

// open wires an app for one command. confirm may be nil to deny every
// prompt.
func (c command) open(g GlobalFlags, confirm controller.Confirmer) (*invocation, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	log, closer := c.logger(cfg)
	app, err := pullpilot.New(cfg, pullpilot.Options{
		Notifier:  &cliNotifier{out: c.out, errOut: c.errOut},
		Confirmer: confirm,
		Navigator: pullpilot.NavigatorFunc(func() {
			_, _ = fmt.Fprintln(c.errOut, "Session expired. Run 'pullpilot login' to sign in again.")
		}),
		Logger: log,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &invocation{app: app, closer: closer}, nil
}

func (c command) confirmer(yes bool) controller.Confirmer {
	if yes {
		return controller.AutoConfirm
	}
	return promptConfirmer{in: c.in, out: c.out}
}

// done turns an absorbed session expiry into a failing exit.
func done(s *invocation, err error) error {
	if err != nil {
		return err
	}
	if s.app.SessionExpired() {
		return pullpilot.ErrSessionExpired
	}
	return nil
}

// Status loads the fleet and prints it.
func (c command) Status(ctx context.Context, g GlobalFlags, f OutputFlags) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if err := done(s, s.app.Controller.Mount(ctx)); err != nil {
		return err
	}
	s.app.Controller.Poller().Stop()
	snap := s.app.Store.Snapshot()
	if f.JSON {
		printJSON(c.out, snap)
		return nil
	}
	printUnits(c.out, snap)
	return nil
}

// History prints the update log.
func (c command) History(ctx context.Context, g GlobalFlags, f OutputFlags) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if err := done(s, s.app.Controller.RefreshHistory(ctx)); err != nil {
		return err
	}
	records := s.app.Store.Snapshot().History
	if f.JSON {
		printJSON(c.out, records)
		return nil
	}
	printHistory(c.out, records)
	return nil
}

// Update updates one unit and prints its new state.
func (c command) Update(ctx context.Context, g GlobalFlags, name string) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctrl := s.app.Controller
	if err := done(s, ctrl.RefreshUnits(ctx)); err != nil {
		return err
	}
	mode := s.app.Store.Mode()
	if err := done(s, ctrl.UpdateUnit(ctx, name)); err != nil {
		return err
	}
	if mode == fleet.ModeFallback {
		_, _ = fmt.Fprintf(c.out, "(Simulation) %s updated.\n", name)
		return nil
	}
	u, _ := s.app.Store.Snapshot().Unit(name)
	_, _ = fmt.Fprintf(c.out, "%s updated: %s (%d containers)\n", u.Name, u.Status, u.Containers)
	return nil
}

// UpdateAll starts a fleet-wide update, optionally following it.
func (c command) UpdateAll(ctx context.Context, g GlobalFlags, f UpdateAllFlags) error {
	s, err := c.open(g, c.confirmer(f.Yes))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctrl := s.app.Controller
	if err := done(s, ctrl.Mount(ctx)); err != nil {
		return err
	}
	if err := done(s, ctrl.UpdateAll(ctx)); err != nil {
		if errors.Is(err, controller.ErrCancelled) {
			_, _ = fmt.Fprintln(c.out, "Cancelled.")
			return nil
		}
		return err
	}
	if s.app.Store.Mode() == fleet.ModeFallback {
		return nil
	}
	if !f.Watch {
		_, _ = fmt.Fprintln(c.out, "Fleet update started.")
		ctrl.Poller().Stop()
		return nil
	}
	return c.follow(ctx, s)
}

// Watch follows a running fleet-wide update until it ends.
func (c command) Watch(ctx context.Context, g GlobalFlags) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if err := done(s, s.app.Controller.Mount(ctx)); err != nil {
		return err
	}
	if !s.app.Controller.Poller().Active() {
		printProgress(c.out, s.app.Store.Progress())
		return nil
	}
	return c.follow(ctx, s)
}

// follow prints each progress change and the final history entry.
func (c command) follow(ctx context.Context, s *invocation) error {
	var mu sync.Mutex
	var last fleet.Progress
	show := func(p fleet.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if !p.IsRunning || (p.Current == last.Current && p.Total == last.Total && p.CurrentUnit == last.CurrentUnit) {
			return
		}
		last = p
		printProgress(c.out, p)
	}
	unsubscribe := s.app.Store.Subscribe(func(snap fleet.Snapshot) { show(snap.Progress) })
	show(s.app.Store.Progress())

	err := s.app.Controller.Poller().Wait(ctx)
	unsubscribe()
	if err != nil {
		return err
	}
	if s.app.SessionExpired() {
		return pullpilot.ErrSessionExpired
	}
	mu.Lock()
	printProcessed(c.out, last)
	mu.Unlock()
	if h := s.app.Store.Snapshot().History; len(h) > 0 {
		_, _ = fmt.Fprintf(c.out, "Finished: %s\n", h[0].Summary)
	}
	return nil
}

// Toggle flips exclude or fullstop on a unit.
func (c command) Toggle(ctx context.Context, g GlobalFlags, name, setting string) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctrl := s.app.Controller
	if err := done(s, ctrl.RefreshUnits(ctx)); err != nil {
		return err
	}
	if err := done(s, ctrl.ToggleSetting(ctx, name, fleet.Setting(setting))); err != nil {
		return err
	}
	u, _ := s.app.Store.Snapshot().Unit(name)
	_, _ = fmt.Fprintf(c.out, "%s: excluded=%t full_stop=%t\n", u.Name, u.Excluded, u.FullStop)
	return nil
}

// ScheduleList prints the stored schedules.
func (c command) ScheduleList(ctx context.Context, g GlobalFlags, f OutputFlags) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctrl := s.app.Controller
	if err := done(s, ctrl.RefreshUnits(ctx)); err != nil {
		return err
	}
	if s.app.Store.Mode() == fleet.ModeFallback {
		printMode(c.out, fleet.ModeFallback)
		return nil
	}
	if err := done(s, ctrl.RefreshSchedules(ctx)); err != nil {
		return err
	}
	items := s.app.Store.Snapshot().Schedules
	if f.JSON {
		printJSON(c.out, items)
		return nil
	}
	printSchedules(c.out, items, time.Now())
	return nil
}

func (f ScheduleFlags) request() schedule.Request {
	return schedule.Request{
		Target:     f.Target,
		Frequency:  schedule.Frequency(f.Frequency),
		WeekDay:    f.WeekDay,
		DayOfMonth: f.DayOfMonth,
		Hour:       f.Hour,
		Minute:     f.Minute,
	}
}

// ScheduleAdd creates a recurring update.
func (c command) ScheduleAdd(ctx context.Context, g GlobalFlags, f ScheduleFlags) error {
	req := f.request()
	if _, err := schedule.Build(req); err != nil {
		return err
	}
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctrl := s.app.Controller
	if err := done(s, ctrl.RefreshUnits(ctx)); err != nil {
		return err
	}
	created, err := ctrl.CreateSchedule(ctx, req)
	if err := done(s, err); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Schedule %d created: %s (%s)\n", created.ID, schedule.Format(created.Expression), created.Expression)
	return nil
}

// ScheduleDelete removes a schedule by id.
func (c command) ScheduleDelete(ctx context.Context, g GlobalFlags, f DeleteFlags, rawID string) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid schedule id %q", rawID)
	}
	s, err := c.open(g, c.confirmer(f.Yes))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctrl := s.app.Controller
	if err := done(s, ctrl.RefreshUnits(ctx)); err != nil {
		return err
	}
	if err := done(s, ctrl.DeleteSchedule(ctx, id)); err != nil {
		if errors.Is(err, controller.ErrCancelled) {
			_, _ = fmt.Fprintln(c.out, "Cancelled.")
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Schedule %d deleted.\n", id)
	return nil
}

// SchedulePreview prints the expression, text and next run for the
// flags without contacting the gateway.
func (c command) SchedulePreview(f ScheduleFlags, now time.Time) error {
	expr, err := schedule.Build(f.request())
	if err != nil {
		return err
	}
	next, err := schedule.Next(expr, now)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s\n%s\nNext run: %s\n", expr, schedule.Format(expr), next.Format("2006-01-02 15:04 MST"))
	return nil
}

// Login asks for credentials and stores the gateway session.
func (c command) Login(ctx context.Context, g GlobalFlags, f LoginFlags) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	username := f.Username
	if username == "" {
		_, _ = fmt.Fprint(c.out, "Username: ")
		if username, err = readLine(c.in); err != nil {
			return fmt.Errorf("read username: %w", err)
		}
	}
	var password string
	if f.PasswordStdin {
		password, err = readLine(c.in)
	} else {
		password, err = readPassword(c.in, c.inFile, c.out)
	}
	if err != nil {
		return err
	}
	if err := s.app.Login(ctx, username, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Logged in to %s as %s\n", s.app.Config.API.URL, username)
	return nil
}

// Logout ends the gateway session and forgets it locally.
func (c command) Logout(ctx context.Context, g GlobalFlags) error {
	s, err := c.open(g, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if !s.app.Sessions.IsLoggedIn() {
		_, _ = fmt.Fprintln(c.out, "Not logged in.")
		return nil
	}
	if err := s.app.Controller.Logout(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Logged out.")
	return nil
}
