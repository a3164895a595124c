package client

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/loykin/pullpilot/internal/fleet"
)

var (
	// ErrSessionExpired is returned for HTTP 401 responses. It is checked
	// before any other status handling.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnreachable wraps transport-level failures (connection refused,
	// DNS, timeouts) where no HTTP response was received.
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrRejected marks responses where the gateway answered but refused
	// the request.
	ErrRejected = errors.New("request rejected")
)

// APIError is a non-2xx, non-401 response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrRejected) match any APIError.
func (e *APIError) Is(target error) bool { return target == ErrRejected }

// ErrorResponse covers both error body shapes the gateway may send.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (r ErrorResponse) message() string {
	if r.Detail != "" {
		return r.Detail
	}
	return r.Error
}

// ScheduleRequest is the body of POST /schedules. The gateway derives the
// cron expression from these fields itself.
type ScheduleRequest struct {
	Target     string `json:"target"`
	TaskType   string `json:"task_type"`
	Frequency  string `json:"frequency"`
	WeekDay    string `json:"week_day"`
	DayOfMonth string `json:"day_of_month"`
	Hour       int    `json:"hour"`
	Minute     int    `json:"minute"`
}

// NewScheduleRequest fills the defaults the gateway expects for unused
// recurrence fields.
func NewScheduleRequest(target, frequency, weekDay string, dayOfMonth, hour, minute int) ScheduleRequest {
	req := ScheduleRequest{
		Target:     target,
		TaskType:   "cron",
		Frequency:  frequency,
		WeekDay:    weekDay,
		DayOfMonth: strconv.Itoa(dayOfMonth),
		Hour:       hour,
		Minute:     minute,
	}
	if req.WeekDay == "" {
		req.WeekDay = "*"
	}
	if dayOfMonth <= 0 {
		req.DayOfMonth = "1"
	}
	return req
}

// UpdateResult is returned by a per-unit update.
type UpdateResult struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs"`
}

// MessageResponse is the acknowledgement body of fire-and-observe calls.
type MessageResponse struct {
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

type (
	Unit          = fleet.Unit
	HistoryRecord = fleet.HistoryRecord
	Schedule      = fleet.Schedule
	Progress      = fleet.Progress
)
