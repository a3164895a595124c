package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/pullpilot/internal/controller"
	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/schedule"
	"github.com/loykin/pullpilot/internal/source"
	"github.com/loykin/pullpilot/pkg/client"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName validates unit names taken from the URL path.
// Allowed characters: A-Z a-z 0-9 . _ - and no consecutive dots forming "..".
func isSafeName(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// statusFor maps controller errors to HTTP status codes. Offline is
// checked before rejected since fallback writes carry both.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrUnknownUnit):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrExcluded),
		errors.Is(err, fleet.ErrLocked),
		errors.Is(err, fleet.ErrOperationRunning):
		return http.StatusConflict
	case errors.Is(err, controller.ErrCancelled):
		return http.StatusPreconditionRequired
	case errors.Is(err, schedule.ErrInvalid),
		errors.Is(err, controller.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrOffline),
		errors.Is(err, client.ErrUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
