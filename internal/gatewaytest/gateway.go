// Package gatewaytest provides an in-process fake of the update gateway.
// It keeps its state in memory, can simulate a fleet-wide run step by
// step, and lets tests inject failures or hold requests in flight.
package gatewaytest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/loykin/pullpilot/internal/fleet"
)

// Options configures the fake gateway.
type Options struct {
	// Username and Password enable session checks on /api when both are set.
	Username string
	Password string
	// StepInterval advances a fleet-wide run automatically. Zero means the
	// run only moves when Step is called.
	StepInterval time.Duration
	Logger       *slog.Logger
}

// Gateway is a fake update gateway.
type Gateway struct {
	opts Options
	log  *slog.Logger

	mu             sync.Mutex
	units          []fleet.Unit
	history        []fleet.HistoryRecord
	schedules      []fleet.Schedule
	progress       fleet.Progress
	queue          []string
	sessions       map[string]bool
	failures       map[string]int
	holds          map[string]chan struct{}
	hits           map[string]int
	nextHistoryID  int64
	nextScheduleID int64
	stopRun        chan struct{}
}

// New returns a gateway seeded with the given units.
func New(opts Options, units ...fleet.Unit) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		opts:           opts,
		log:            opts.Logger.With("component", "gateway-sim"),
		units:          append([]fleet.Unit(nil), units...),
		sessions:       make(map[string]bool),
		failures:       make(map[string]int),
		holds:          make(map[string]chan struct{}),
		hits:           make(map[string]int),
		nextHistoryID:  1,
		nextScheduleID: 1,
	}
}

// Handler returns the echo router serving the gateway API.
func (g *Gateway) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(g.track)

	e.POST("/login", g.handleLogin)
	e.POST("/logout", g.handleLogout)

	api := e.Group("/api", g.requireSession)
	api.GET("/projects", g.handleUnits)
	api.POST("/projects/:name/update", g.handleUpdateUnit)
	api.POST("/projects/:name/toggle_exclude", g.handleToggle(fleet.SettingExclude))
	api.POST("/projects/:name/toggle_fullstop", g.handleToggle(fleet.SettingFullStop))
	api.POST("/update-all", g.handleUpdateAll)
	api.GET("/update-status", g.handleStatus)
	api.GET("/history", g.handleHistory)
	api.GET("/schedules", g.handleSchedules)
	api.POST("/schedules", g.handleCreateSchedule)
	api.DELETE("/schedules/:id", g.handleDeleteSchedule)
	return e
}

// Route keys used by Fail, Hold and Hits are "METHOD pattern", for example
// "POST /api/projects/:name/update".

// Fail makes every request to route answer with status until cleared.
func (g *Gateway) Fail(route string, status int) {
	g.mu.Lock()
	g.failures[route] = status
	g.mu.Unlock()
}

// ClearFailures removes all injected failures.
func (g *Gateway) ClearFailures() {
	g.mu.Lock()
	g.failures = make(map[string]int)
	g.mu.Unlock()
}

// Hold blocks requests to route until the returned release func is called.
func (g *Gateway) Hold(route string) (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.holds[route] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.holds[route] == ch {
				delete(g.holds, route)
			}
			g.mu.Unlock()
			close(ch)
		})
	}
}

// Hits returns how many requests reached route.
func (g *Gateway) Hits(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[route]
}

// Units returns the gateway's unit list.
func (g *Gateway) Units() []fleet.Unit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]fleet.Unit(nil), g.units...)
}

// SetHistory replaces the stored history (newest first).
func (g *Gateway) SetHistory(records []fleet.HistoryRecord) {
	g.mu.Lock()
	g.history = append([]fleet.HistoryRecord(nil), records...)
	for _, r := range records {
		if r.ID >= g.nextHistoryID {
			g.nextHistoryID = r.ID + 1
		}
	}
	g.mu.Unlock()
}

// Schedules returns the stored schedules.
func (g *Gateway) Schedules() []fleet.Schedule {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]fleet.Schedule(nil), g.schedules...)
}

// SetProgress overrides the fleet-wide progress reported by update-status.
func (g *Gateway) SetProgress(p fleet.Progress) {
	g.mu.Lock()
	g.progress = p
	g.mu.Unlock()
}

// ExpireSessions drops every issued session.
func (g *Gateway) ExpireSessions() {
	g.mu.Lock()
	g.sessions = make(map[string]bool)
	g.mu.Unlock()
}

// Close stops a running automatic fleet run.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.stopRun != nil {
		close(g.stopRun)
		g.stopRun = nil
	}
	g.mu.Unlock()
}

func (g *Gateway) track(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := c.Request().Method + " " + c.Path()
		g.mu.Lock()
		g.hits[route]++
		status, failing := g.failures[route]
		hold := g.holds[route]
		g.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if failing {
			return c.JSON(status, map[string]string{"detail": "injected failure"})
		}
		return next(c)
	}
}

func (g *Gateway) authEnabled() bool {
	return g.opts.Username != "" && g.opts.Password != ""
}

func (g *Gateway) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !g.authEnabled() {
			return next(c)
		}
		ck, err := c.Cookie("pullpilot_session")
		g.mu.Lock()
		ok := err == nil && g.sessions[ck.Value]
		g.mu.Unlock()
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Session expired"})
		}
		return next(c)
	}
}

func (g *Gateway) handleLogin(c echo.Context) error {
	if c.FormValue("username") != g.opts.Username || c.FormValue("password") != g.opts.Password {
		return c.Redirect(http.StatusSeeOther, "/login?error=1")
	}
	token := newToken()
	g.mu.Lock()
	g.sessions[token] = true
	g.mu.Unlock()
	c.SetCookie(&http.Cookie{Name: "pullpilot_session", Value: token, Path: "/", HttpOnly: true})
	return c.Redirect(http.StatusSeeOther, "/")
}

func (g *Gateway) handleLogout(c echo.Context) error {
	if ck, err := c.Cookie("pullpilot_session"); err == nil {
		g.mu.Lock()
		delete(g.sessions, ck.Value)
		g.mu.Unlock()
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

func (g *Gateway) handleUnits(c echo.Context) error {
	return c.JSON(http.StatusOK, g.Units())
}

func (g *Gateway) handleUpdateUnit(c echo.Context) error {
	name := c.Param("name")
	g.mu.Lock()
	idx := g.indexLocked(name)
	if idx < 0 {
		g.mu.Unlock()
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": "project not found"})
	}
	g.units[idx].Status = fleet.StatusRunning
	if g.units[idx].Containers == 0 {
		g.units[idx].Containers = 1
	}
	g.appendHistoryLocked(fleet.RecordSuccess, name+": OK", fmt.Sprintf(`{%q: ["updated"]}`, name))
	g.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"success": true, "logs": []string{"updated " + name}})
}

func (g *Gateway) handleToggle(setting fleet.Setting) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		g.mu.Lock()
		if idx := g.indexLocked(name); idx >= 0 {
			switch setting {
			case fleet.SettingExclude:
				g.units[idx].Excluded = !g.units[idx].Excluded
			case fleet.SettingFullStop:
				g.units[idx].FullStop = !g.units[idx].FullStop
			}
		}
		g.mu.Unlock()
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (g *Gateway) handleUpdateAll(c echo.Context) error {
	g.StartRun()
	return c.JSON(http.StatusOK, map[string]string{"message": "fleet update started"})
}

func (g *Gateway) handleStatus(c echo.Context) error {
	g.mu.Lock()
	p := g.progress
	g.mu.Unlock()
	return c.JSON(http.StatusOK, p)
}

func (g *Gateway) handleHistory(c echo.Context) error {
	g.mu.Lock()
	out := make([]map[string]any, 0, len(g.history))
	for _, r := range g.history {
		// the real backend stores details as an encoded string
		out = append(out, map[string]any{
			"id":        r.ID,
			"status":    r.Status,
			"timestamp": r.Timestamp.UTC().Format("2006-01-02T15:04:05.000000"),
			"summary":   r.Summary,
			"details":   string(r.Details),
		})
	}
	g.mu.Unlock()
	return c.JSON(http.StatusOK, out)
}

func (g *Gateway) handleSchedules(c echo.Context) error {
	return c.JSON(http.StatusOK, g.Schedules())
}

type scheduleInput struct {
	Target     string `json:"target"`
	TaskType   string `json:"task_type"`
	Frequency  string `json:"frequency"`
	WeekDay    string `json:"week_day"`
	DayOfMonth string `json:"day_of_month"`
	Hour       int    `json:"hour"`
	Minute     int    `json:"minute"`
}

func (g *Gateway) handleCreateSchedule(c echo.Context) error {
	var in scheduleInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
	}
	var expr string
	switch in.Frequency {
	case "daily":
		expr = fmt.Sprintf("%d %d * * *", in.Minute, in.Hour)
	case "weekly":
		expr = fmt.Sprintf("%d %d * * %s", in.Minute, in.Hour, in.WeekDay)
	case "monthly":
		expr = fmt.Sprintf("%d %d %s * *", in.Minute, in.Hour, in.DayOfMonth)
	default:
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "unknown frequency"})
	}
	g.mu.Lock()
	s := fleet.Schedule{ID: g.nextScheduleID, Target: in.Target, TaskType: "cron", Expression: expr, Active: true}
	g.nextScheduleID++
	g.schedules = append(g.schedules, s)
	g.mu.Unlock()
	return c.JSON(http.StatusOK, s)
}

func (g *Gateway) handleDeleteSchedule(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "invalid id"})
	}
	g.mu.Lock()
	for i, s := range g.schedules {
		if s.ID == id {
			g.schedules = append(g.schedules[:i], g.schedules[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StartRun begins a fleet-wide run over the non-excluded units. A run
// already in progress is left alone.
func (g *Gateway) StartRun() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.progress.IsRunning {
		g.log.Warn("Fleet update already running, skipping")
		return
	}
	g.queue = g.queue[:0]
	for _, u := range g.units {
		if !u.Excluded {
			g.queue = append(g.queue, u.Name)
		}
	}
	g.progress = fleet.Progress{IsRunning: true, Total: len(g.queue)}
	if g.opts.StepInterval > 0 {
		stop := make(chan struct{})
		g.stopRun = stop
		go g.autoStep(stop, g.opts.StepInterval)
	}
}

func (g *Gateway) autoStep(stop chan struct{}, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !g.Step() {
				return
			}
		}
	}
}

// Step processes the next unit of the running fleet update. It returns
// false once the run has finished.
func (g *Gateway) Step() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.progress.IsRunning {
		return false
	}
	if g.progress.Current >= len(g.queue) {
		okCount := len(g.progress.Processed)
		g.appendHistoryLocked(fleet.RecordSuccess, fmt.Sprintf("Global Update: %d OK, 0 Errors", okCount), "{}")
		g.progress = fleet.Progress{}
		g.stopRun = nil
		return false
	}
	name := g.queue[g.progress.Current]
	g.progress.Current++
	g.progress.CurrentUnit = name
	g.progress.Processed = append(g.progress.Processed, fleet.ProcessedUnit{Name: name, Status: "OK"})
	return true
}

func (g *Gateway) indexLocked(name string) int {
	for i := range g.units {
		if g.units[i].Name == name {
			return i
		}
	}
	return -1
}

func (g *Gateway) appendHistoryLocked(status fleet.RecordStatus, summary, details string) {
	rec := fleet.HistoryRecord{
		ID:        g.nextHistoryID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Details:   fleet.Details(details),
	}
	g.nextHistoryID++
	g.history = append([]fleet.HistoryRecord{rec}, g.history...)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
