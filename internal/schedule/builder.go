package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/pullpilot/pkg/client"
)

// Frequency selects which day field of the expression is used.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// MaxDayOfMonth keeps monthly schedules valid in every month.
const MaxDayOfMonth = 28

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("invalid schedule")

// ValidationError reports the first bad field of a Request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Request is the user input for a recurring update.
type Request struct {
	Target     string    `json:"target" mapstructure:"target"`
	Frequency  Frequency `json:"frequency" mapstructure:"frequency"`
	WeekDay    string    `json:"week_day,omitempty" mapstructure:"week_day"`
	DayOfMonth int       `json:"day_of_month,omitempty" mapstructure:"day_of_month"`
	Hour       int       `json:"hour" mapstructure:"hour"`
	Minute     int       `json:"minute" mapstructure:"minute"`
}

// the gateway accepts both 5 and 6 field forms; we only ever emit 5
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the numeric bounds and conditional day fields.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return &ValidationError{Field: "target", Reason: "is required"}
	}
	if r.Hour < 0 || r.Hour > 23 {
		return &ValidationError{Field: "hour", Reason: fmt.Sprintf("%d out of range 0-23", r.Hour)}
	}
	if r.Minute < 0 || r.Minute > 59 {
		return &ValidationError{Field: "minute", Reason: fmt.Sprintf("%d out of range 0-59", r.Minute)}
	}
	switch r.Frequency {
	case Daily:
	case Weekly:
		if _, ok := dayNames[strings.ToLower(r.WeekDay)]; !ok {
			return &ValidationError{Field: "week_day", Reason: fmt.Sprintf("%q must be one of mon..sun", r.WeekDay)}
		}
	case Monthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > MaxDayOfMonth {
			return &ValidationError{Field: "day_of_month", Reason: fmt.Sprintf("%d out of range 1-%d", r.DayOfMonth, MaxDayOfMonth)}
		}
	default:
		return &ValidationError{Field: "frequency", Reason: fmt.Sprintf("%q must be daily, weekly or monthly", r.Frequency)}
	}
	return nil
}

// Build returns the canonical "minute hour day-of-month * day-of-week"
// expression for r.
func Build(r Request) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	dom, dow := "*", "*"
	switch r.Frequency {
	case Weekly:
		dow = strings.ToLower(r.WeekDay)
	case Monthly:
		dom = strconv.Itoa(r.DayOfMonth)
	}
	expr := fmt.Sprintf("%d %d %s * %s", r.Minute, r.Hour, dom, dow)
	if _, err := parser.Parse(expr); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalid, expr, err)
	}
	return expr, nil
}

// ClientRequest converts r to the gateway body. Unused day fields carry
// the gateway defaults.
func (r Request) ClientRequest() client.ScheduleRequest {
	weekDay, dom := "*", 1
	switch r.Frequency {
	case Weekly:
		weekDay = strings.ToLower(r.WeekDay)
	case Monthly:
		dom = r.DayOfMonth
	}
	return client.NewScheduleRequest(r.Target, string(r.Frequency), weekDay, dom, r.Hour, r.Minute)
}

// Next returns the first activation of expr strictly after from.
func Next(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return sched.Next(from), nil
}
