package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/pullpilot/internal/controller"
	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/schedule"
	"github.com/loykin/pullpilot/internal/source"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"plex", "A1._-", "home-assistant_2"}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("update x: %w", fleet.ErrUnknownUnit), http.StatusNotFound},
		{fleet.ErrLocked, http.StatusConflict},
		{fleet.ErrOperationRunning, http.StatusConflict},
		{controller.ErrCancelled, http.StatusPreconditionRequired},
		{&schedule.ValidationError{Field: "hour", Reason: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("%w: create: %w", controller.ErrRejected, source.ErrOffline), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: update", controller.ErrRejected), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v)=%d want %d", c.err, got, c.want)
		}
	}
}
