package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/pullpilot/internal/controller"
	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/metrics"
	"github.com/loykin/pullpilot/internal/schedule"
)

// LoginPath is where clients are sent once the gateway session expires.
const LoginPath = "/login"

// Router exposes a Controller to the browser dashboard.
// Endpoints (under basePath):
//
//	GET    /api/state                       store snapshot + notices
//	GET    /api/events                      server-sent snapshots
//	POST   /api/refresh                     reload units, history, schedules
//	POST   /api/projects/:name/update       update one unit
//	POST   /api/update-all?confirm=true     start a fleet-wide update
//	POST   /api/projects/:name/toggle/:setting   exclude | fullstop
//	GET    /api/schedules                   schedules with text and next run
//	POST   /api/schedules                   body: schedule.Request
//	DELETE /api/schedules/:id?confirm=true
//	GET    /api/schedules/preview           query: schedule.Request fields
//	GET    /metrics
//
// Any request made after the session expired gets 401 with Location /login.
type Router struct {
	ctrl     *controller.Controller
	notices  *Notices
	basePath string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter constructs a Router. notices may be nil.
func NewRouter(ctrl *controller.Controller, notices *Notices, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if notices == nil {
		notices = NewNotices(0, logger)
	}
	return &Router{
		ctrl:     ctrl,
		notices:  notices,
		basePath: sanitizeBase(basePath),
		logger:   logger.With("component", "dashboard"),
		now:      time.Now,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET(LoginPath, r.handleLogin)

	api := group.Group("/api", r.sessionGate)
	api.GET("/state", r.handleState)
	api.GET("/events", r.handleEvents)
	api.POST("/refresh", r.handleRefresh)
	api.POST("/projects/:name/update", r.handleUpdateUnit)
	api.POST("/projects/:name/toggle/:setting", r.handleToggle)
	api.POST("/update-all", r.handleUpdateAll)
	api.GET("/schedules", r.handleListSchedules)
	api.POST("/schedules", r.handleCreateSchedule)
	api.GET("/schedules/preview", r.handlePreview)
	api.DELETE("/schedules/:id", r.handleDeleteSchedule)
	return g
}

// NewServer binds addr and serves the router in the background, over
// HTTPS when tlsCfg is non-nil. Bind errors are returned; serve errors
// are logged.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	server := &http.Server{
		TLSConfig:         tlsCfg,
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("Dashboard server stopped", "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type stateResp struct {
	fleet.Snapshot
	Percent int      `json:"percent"`
	Notices []Notice `json:"notices"`
}

type scheduleView struct {
	fleet.Schedule
	Text    string     `json:"text"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

type previewResp struct {
	Expression string    `json:"expression"`
	Text       string    `json:"text"`
	NextRun    time.Time `json:"next_run"`
}

func (r *Router) expired() bool {
	return r.ctrl.Store().SessionExpired()
}

func writeSessionExpired(c *gin.Context) {
	c.Header("Location", LoginPath)
	writeJSON(c, http.StatusUnauthorized, errorResp{Error: "session expired"})
}

func (r *Router) sessionGate(c *gin.Context) {
	if r.expired() {
		writeSessionExpired(c)
		c.Abort()
		return
	}
	c.Next()
}

// respond writes the outcome of a controller action. Session expiry is
// absorbed by the controller, so it is read back from the store.
func (r *Router) respond(c *gin.Context, err error, body any) {
	if r.expired() {
		writeSessionExpired(c)
		return
	}
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, body)
}

func (r *Router) handleLogin(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]string{
		"message": "gateway session ended; run `pullpilot login` and restart the dashboard",
	})
}

func (r *Router) state() stateResp {
	snap := r.ctrl.Store().Snapshot()
	return stateResp{Snapshot: snap, Percent: snap.Progress.Percent(), Notices: r.notices.List()}
}

func (r *Router) handleState(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.state())
}

func (r *Router) handleRefresh(c *gin.Context) {
	err := r.ctrl.Refresh(c.Request.Context())
	r.respond(c, err, r.state())
}

func (r *Router) handleUpdateUnit(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid unit name"})
		return
	}
	err := r.ctrl.UpdateUnit(c.Request.Context(), name)
	r.respond(c, err, okResp{OK: true})
}

func (r *Router) handleUpdateAll(c *gin.Context) {
	ctx := c.Request.Context()
	if ok, _ := strconv.ParseBool(c.Query("confirm")); ok {
		ctx = controller.WithConfirmation(ctx)
	}
	// the run outlives the request; only the start call is bound to it
	err := r.ctrl.UpdateAll(context.WithoutCancel(ctx))
	r.respond(c, err, r.state())
}

func (r *Router) handleToggle(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid unit name"})
		return
	}
	err := r.ctrl.ToggleSetting(c.Request.Context(), name, fleet.Setting(c.Param("setting")))
	r.respond(c, err, r.state())
}

func (r *Router) scheduleViews(items []fleet.Schedule) []scheduleView {
	now := r.now()
	out := make([]scheduleView, 0, len(items))
	for _, s := range items {
		v := scheduleView{Schedule: s, Text: schedule.Format(s.Expression)}
		if next, err := schedule.Next(s.Expression, now); err == nil {
			v.NextRun = &next
		}
		out = append(out, v)
	}
	return out
}

func (r *Router) handleListSchedules(c *gin.Context) {
	if c.Query("refresh") != "" {
		if err := r.ctrl.RefreshSchedules(c.Request.Context()); err != nil {
			r.respond(c, err, nil)
			return
		}
	}
	writeJSON(c, http.StatusOK, r.scheduleViews(r.ctrl.Store().Snapshot().Schedules))
}

func (r *Router) handleCreateSchedule(c *gin.Context) {
	var req schedule.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Target == "" {
		req.Target = fleet.GlobalTarget
	}
	s, err := r.ctrl.CreateSchedule(c.Request.Context(), req)
	if err != nil {
		r.respond(c, err, nil)
		return
	}
	r.respond(c, nil, r.scheduleViews([]fleet.Schedule{s})[0])
}

type previewQuery struct {
	Target     string `form:"target"`
	Frequency  string `form:"frequency"`
	WeekDay    string `form:"week_day"`
	DayOfMonth int    `form:"day_of_month"`
	Hour       int    `form:"hour"`
	Minute     int    `form:"minute"`
}

func (r *Router) handlePreview(c *gin.Context) {
	q := previewQuery{Target: fleet.GlobalTarget}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	expr, err := schedule.Build(schedule.Request{
		Target:     q.Target,
		Frequency:  schedule.Frequency(q.Frequency),
		WeekDay:    q.WeekDay,
		DayOfMonth: q.DayOfMonth,
		Hour:       q.Hour,
		Minute:     q.Minute,
	})
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	next, _ := schedule.Next(expr, r.now())
	writeJSON(c, http.StatusOK, previewResp{Expression: expr, Text: schedule.Format(expr), NextRun: next})
}

func (r *Router) handleDeleteSchedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid schedule id"})
		return
	}
	ctx := c.Request.Context()
	if ok, _ := strconv.ParseBool(c.Query("confirm")); ok {
		ctx = controller.WithConfirmation(ctx)
	}
	err = r.ctrl.DeleteSchedule(ctx, id)
	r.respond(c, err, okResp{OK: true})
}

// handleEvents streams a "state" event now and after every store change.
// Bursts collapse into the latest snapshot.
func (r *Router) handleEvents(c *gin.Context) {
	changed := make(chan struct{}, 1)
	unsubscribe := r.ctrl.Store().Subscribe(func(fleet.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("state", r.state())
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case <-done:
			return false
		case <-changed:
			c.SSEvent("state", r.state())
			return !r.expired()
		}
	})
}
