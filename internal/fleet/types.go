package fleet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// UnitStatus is the runtime state reported for a managed unit.
type UnitStatus string

const (
	StatusRunning UnitStatus = "running"
	StatusStopped UnitStatus = "stopped"
	StatusPartial UnitStatus = "partial"
	StatusError   UnitStatus = "error"
)

// Setting names a per-unit boolean that can be toggled.
type Setting string

const (
	SettingExclude  Setting = "exclude"
	SettingFullStop Setting = "fullstop"
)

// Valid reports whether s is a known setting.
func (s Setting) Valid() bool {
	return s == SettingExclude || s == SettingFullStop
}

// GlobalTarget is the schedule target that runs a fleet-wide update.
const GlobalTarget = "GLOBAL"

// Unit is a managed deployment unit (a compose "project").
type Unit struct {
	Name       string     `json:"name"`
	Path       string     `json:"path,omitempty"`
	Status     UnitStatus `json:"status"`
	Containers int        `json:"containers"`
	Excluded   bool       `json:"excluded"`
	FullStop   bool       `json:"full_stop"`
}

// RecordStatus is the outcome of a recorded update run.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "SUCCESS"
	RecordError   RecordStatus = "ERROR"
)

// HistoryRecord is one entry of the backend's update log.
type HistoryRecord struct {
	ID        int64        `json:"id"`
	Status    RecordStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Summary   string       `json:"summary"`
	Details   Details      `json:"details"`
}

// timestampLayouts are tried in order; the backend writes naive local
// timestamps without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *HistoryRecord) UnmarshalJSON(b []byte) error {
	type plain HistoryRecord
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Timestamp == "" {
		r.Timestamp = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, aux.Timestamp); err == nil {
			r.Timestamp = ts
			return nil
		}
	}
	return fmt.Errorf("history record %d: invalid timestamp %q", r.ID, aux.Timestamp)
}

// Details is the opaque structured payload attached to a history record.
// The backend stores it as a JSON-encoded string; both that form and a
// plain JSON object are accepted.
type Details json.RawMessage

// UnmarshalJSON implements json.Unmarshaler.
func (d *Details) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*d = nil
			return nil
		}
		if !json.Valid([]byte(s)) {
			// keep the text as a JSON string so the payload stays valid
			*d = append((*d)[:0], b...)
			return nil
		}
		*d = append((*d)[:0], s...)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], b...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Details) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(d) {
		return nil, errors.New("details: invalid JSON payload")
	}
	return []byte(d), nil
}

// Map decodes the payload into a generic map. Non-object payloads yield nil.
func (d Details) Map() map[string]any {
	if len(d) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(d, &m); err != nil {
		return nil
	}
	return m
}

// Schedule is a recurring update rule stored by the backend.
type Schedule struct {
	ID         int64  `json:"id"`
	Target     string `json:"target"`
	TaskType   string `json:"task_type,omitempty"`
	Expression string `json:"expression"`
	Active     bool   `json:"active"`
}

// ProcessedUnit is the per-unit result of the running fleet-wide operation.
type ProcessedUnit struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Progress describes the single fleet-wide operation that may be in flight.
type Progress struct {
	IsRunning   bool            `json:"is_running"`
	Current     int             `json:"current"`
	Total       int             `json:"total"`
	CurrentUnit string          `json:"current_project"`
	Processed   []ProcessedUnit `json:"processed,omitempty"`
}

// Percent returns completion in whole percent; 0 when Total is 0.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(p.Current) / float64(p.Total) * 100))
}

// StartingProgress is the placeholder seeded right after a fleet-wide
// update has been requested, before the first poll answers.
func StartingProgress() Progress {
	return Progress{IsRunning: true, Current: 0, Total: 1, CurrentUnit: "starting"}
}

// Mode records which data source the latest reachability probe selected.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeFallback Mode = "fallback"
)
