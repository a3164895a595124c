package fleet

import (
	"errors"
	"sort"
	"sync"
)

// Precondition failures reported by TryLock.
var (
	ErrUnknownUnit      = errors.New("unknown unit")
	ErrExcluded         = errors.New("unit is excluded from updates")
	ErrLocked           = errors.New("unit update already in flight")
	ErrOperationRunning = errors.New("fleet-wide update in progress")
)

// Snapshot is a consistent copy of the store contents.
type Snapshot struct {
	Units          []Unit          `json:"units"`
	History        []HistoryRecord `json:"history"`
	Schedules      []Schedule      `json:"schedules"`
	Progress       Progress        `json:"progress"`
	Locks          []string        `json:"locks"`
	Mode           Mode            `json:"mode"`
	HistoryLoading bool            `json:"history_loading"`
	SessionExpired bool            `json:"session_expired"`
}

// Unit returns the unit with the given name.
func (s Snapshot) Unit(name string) (Unit, bool) {
	for _, u := range s.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// Locked reports whether name is in the lock list.
func (s Snapshot) Locked(name string) bool {
	for _, n := range s.Locks {
		if n == name {
			return true
		}
	}
	return false
}

// Store is the in-memory source of truth for the dashboard. Every slice is
// replaced wholesale; readers get deep copies through Snapshot. Observers
// registered with Subscribe are called after each mutation, outside the
// store lock.
type Store struct {
	mu             sync.RWMutex
	units          []Unit
	history        []HistoryRecord
	schedules      []Schedule
	progress       Progress
	locks          map[string]bool
	mode           Mode
	historyLoading bool
	sessionExpired bool
	fleetClaimed   bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

// NewStore returns an empty store in live mode.
func NewStore() *Store {
	return &Store{
		locks: make(map[string]bool),
		mode:  ModeLive,
		subs:  make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to receive a snapshot after every mutation.
// The returned func removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locks := make([]string, 0, len(s.locks))
	for n, held := range s.locks {
		if held {
			locks = append(locks, n)
		}
	}
	sort.Strings(locks)
	return Snapshot{
		Units:          append([]Unit(nil), s.units...),
		History:        append([]HistoryRecord(nil), s.history...),
		Schedules:      append([]Schedule(nil), s.schedules...),
		Progress:       copyProgress(s.progress),
		Locks:          locks,
		Mode:           s.mode,
		HistoryLoading: s.historyLoading,
		SessionExpired: s.sessionExpired,
	}
}

func copyProgress(p Progress) Progress {
	p.Processed = append([]ProcessedUnit(nil), p.Processed...)
	return p
}

// SetUnits replaces the unit list.
func (s *Store) SetUnits(units []Unit) {
	s.mu.Lock()
	s.units = append([]Unit(nil), units...)
	s.mu.Unlock()
	s.publish()
}

// SetHistory replaces the history list.
func (s *Store) SetHistory(records []HistoryRecord) {
	s.mu.Lock()
	s.history = append([]HistoryRecord(nil), records...)
	s.mu.Unlock()
	s.publish()
}

// SetHistoryLoading marks a history fetch as in flight.
func (s *Store) SetHistoryLoading(loading bool) {
	s.mu.Lock()
	s.historyLoading = loading
	s.mu.Unlock()
	s.publish()
}

// SetSchedules replaces the schedule list.
func (s *Store) SetSchedules(schedules []Schedule) {
	s.mu.Lock()
	s.schedules = append([]Schedule(nil), schedules...)
	s.mu.Unlock()
	s.publish()
}

// SetProgress overwrites the fleet-wide progress.
func (s *Store) SetProgress(p Progress) {
	s.mu.Lock()
	s.progress = copyProgress(p)
	s.mu.Unlock()
	s.publish()
}

// ResetProgress sets progress back to its zero value.
func (s *Store) ResetProgress() {
	s.SetProgress(Progress{})
}

// Progress returns the current fleet-wide progress.
func (s *Store) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyProgress(s.progress)
}

// SetMode records the outcome of the latest reachability probe.
func (s *Store) SetMode(m Mode) {
	s.mu.Lock()
	changed := s.mode != m
	s.mode = m
	s.mu.Unlock()
	if changed {
		s.publish()
	}
}

// Mode returns the data source mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// MarkSessionExpired flags that the backend rejected our credentials.
func (s *Store) MarkSessionExpired() {
	s.mu.Lock()
	s.sessionExpired = true
	s.mu.Unlock()
	s.publish()
}

// SessionExpired reports whether MarkSessionExpired has been called.
func (s *Store) SessionExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionExpired
}

// TryLock marks name as in flight. It fails if the unit is unknown,
// excluded or already locked, or if a fleet-wide operation is running.
// The check and the mutation happen under one lock.
func (s *Store) TryLock(name string) error {
	s.mu.Lock()
	err := s.tryLockLocked(name)
	s.mu.Unlock()
	if err == nil {
		s.publish()
	}
	return err
}

func (s *Store) tryLockLocked(name string) error {
	if s.progress.IsRunning || s.fleetClaimed {
		return ErrOperationRunning
	}
	var unit *Unit
	for i := range s.units {
		if s.units[i].Name == name {
			unit = &s.units[i]
			break
		}
	}
	if unit == nil {
		return ErrUnknownUnit
	}
	if unit.Excluded {
		return ErrExcluded
	}
	if s.locks[name] {
		return ErrLocked
	}
	s.locks[name] = true
	return nil
}

// ClaimFleet reserves the single fleet-wide operation slot before the
// request is sent. It fails while a run is in progress or another claim is
// held. The holder calls ReleaseFleet once the request has resolved.
func (s *Store) ClaimFleet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.IsRunning || s.fleetClaimed {
		return ErrOperationRunning
	}
	s.fleetClaimed = true
	return nil
}

// ReleaseFleet drops the claim taken by ClaimFleet.
func (s *Store) ReleaseFleet() {
	s.mu.Lock()
	s.fleetClaimed = false
	s.mu.Unlock()
}

// Unlock clears the in-flight marker for name. Unlocking an unlocked unit
// is a no-op.
func (s *Store) Unlock(name string) {
	s.mu.Lock()
	_, held := s.locks[name]
	delete(s.locks, name)
	s.mu.Unlock()
	if held {
		s.publish()
	}
}

// IsLocked reports whether a per-unit update for name is in flight.
func (s *Store) IsLocked(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[name]
}

// Toggle flips setting on the named unit and returns the new value.
func (s *Store) Toggle(name string, setting Setting) (bool, error) {
	s.mu.Lock()
	var (
		found bool
		value bool
	)
	for i := range s.units {
		if s.units[i].Name != name {
			continue
		}
		found = true
		switch setting {
		case SettingExclude:
			s.units[i].Excluded = !s.units[i].Excluded
			value = s.units[i].Excluded
		case SettingFullStop:
			s.units[i].FullStop = !s.units[i].FullStop
			value = s.units[i].FullStop
		}
		break
	}
	s.mu.Unlock()
	if !found {
		return false, ErrUnknownUnit
	}
	s.publish()
	return value, nil
}
