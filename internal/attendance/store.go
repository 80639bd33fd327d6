// Package attendance tracks each staff member's duty status and a per-department
// aggregate. The aggregate is recomputed by rescanning the department on every
// relevant update; departments are small, so the rescan beats incremental
// counter bookkeeping.
package attendance

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lodgetech/relay/internal/dedup"
	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
)

// Status is a staff member's duty state.
type Status string

const (
	StatusOnDuty  Status = "on_duty"
	StatusOnBreak Status = "on_break"
	StatusOffDuty Status = "off_duty"
)

// Event types routed to this store.
const (
	EventClockStatusChanged = "clock_status_changed"
)

// StaffStatus is the last-known duty snapshot for one staff member.
type StaffStatus struct {
	StaffID    string    `json:"staff_id"`
	Name       string    `json:"name,omitempty"`
	Department string    `json:"department"`
	Status     Status    `json:"status"`
	Since      time.Time `json:"since"`
}

// DepartmentSummary aggregates duty counts for one department.
type DepartmentSummary struct {
	Department string `json:"department"`
	OnDuty     int    `json:"on_duty"`
	OnBreak    int    `json:"on_break"`
	OffDuty    int    `json:"off_duty"`
}

type clockStatusPayload struct {
	StaffID    envelope.ID `json:"staff_id"`
	Name       string      `json:"name"`
	Department string      `json:"department"`
	Status     string      `json:"status"`
	Since      time.Time   `json:"since"`
}

// StoreConfig describes Store dependencies.
type StoreConfig struct {
	Logger *zap.Logger
	Clock  func() time.Time
	// Window overrides the default 5-second duplicate-suppression window.
	Window *dedup.Window
}

// Store owns attendance state. Clock events repeat in quick bursts when a
// badge terminal double-fires; a time-window suppressor absorbs them instead
// of a persistent ledger.
type Store struct {
	logger *zap.Logger
	window *dedup.Window

	mu          sync.Mutex
	staff       map[string]StaffStatus
	departments map[string]DepartmentSummary
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.Window
	if window == nil {
		window = dedup.NewWindow(dedup.WindowConfig{Clock: cfg.Clock})
	}
	return &Store{
		logger:      logger,
		window:      window,
		staff:       make(map[string]StaffStatus),
		departments: make(map[string]DepartmentSummary),
	}
}

// InitStaff replaces the staff map with a bulk load and rebuilds every
// department aggregate.
func (s *Store) InitStaff(staff []StaffStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff = make(map[string]StaffStatus, len(staff))
	departments := make(map[string]struct{})
	for _, member := range staff {
		s.staff[member.StaffID] = member
		departments[member.Department] = struct{}{}
	}
	s.departments = make(map[string]DepartmentSummary, len(departments))
	for department := range departments {
		s.recomputeDepartment(department)
	}
}

// HandleEvent applies one routed envelope.
func (s *Store) HandleEvent(env envelope.Envelope) {
	if env.Type != EventClockStatusChanged {
		s.logger.Debug("attendance event ignored", zap.String("type", env.Type))
		return
	}

	var payload clockStatusPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Warn("attendance payload malformed", zap.Error(err))
		return
	}
	staffID := payload.StaffID.String()
	status, ok := parseStatus(payload.Status)
	if !ok {
		s.logger.Warn("attendance status unknown",
			zap.String("staff_id", staffID),
			zap.String("status", payload.Status))
		return
	}

	if !s.window.ShouldProcess(staffID + ":" + string(status)) {
		s.logger.Debug("attendance event suppressed", zap.String("staff_id", staffID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, known := s.staff[staffID]
	previousDepartment := member.Department
	if !known {
		member = StaffStatus{StaffID: staffID}
	}
	if payload.Name != "" {
		member.Name = payload.Name
	}
	if payload.Department != "" {
		member.Department = payload.Department
	}
	member.Status = status
	member.Since = payload.Since
	s.staff[staffID] = member

	s.recomputeDepartment(member.Department)
	if previousDepartment != "" && previousDepartment != member.Department {
		s.recomputeDepartment(previousDepartment)
	}
}

// recomputeDepartment rescans all known staff in one department. Callers must
// hold the mutex.
func (s *Store) recomputeDepartment(department string) {
	if department == "" {
		return
	}
	summary := DepartmentSummary{Department: department}
	for _, member := range s.staff {
		if member.Department != department {
			continue
		}
		switch member.Status {
		case StatusOnDuty:
			summary.OnDuty++
		case StatusOnBreak:
			summary.OnBreak++
		case StatusOffDuty:
			summary.OffDuty++
		}
	}
	s.departments[department] = summary
}

// Staff returns the last-known status for one staff member.
func (s *Store) Staff(staffID string) (StaffStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.staff[staffID]
	return member, ok
}

// Department returns the aggregate for one department.
func (s *Store) Department(name string) (DepartmentSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.departments[name]
	return summary, ok
}

// Snapshot is a copy of the store state safe to hand across goroutines.
type Snapshot struct {
	Staff       map[string]StaffStatus       `json:"staff"`
	Departments map[string]DepartmentSummary `json:"departments"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Snapshot{
		Staff:       make(map[string]StaffStatus, len(s.staff)),
		Departments: make(map[string]DepartmentSummary, len(s.departments)),
	}
	for id, member := range s.staff {
		snapshot.Staff[id] = member
	}
	for name, summary := range s.departments {
		snapshot.Departments[name] = summary
	}
	return snapshot
}

func parseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusOnDuty, StatusOnBreak, StatusOffDuty:
		return Status(raw), true
	default:
		return "", false
	}
}
