// Package session defines the mutable per-encounter record and its owned
// value types. This package is PURE and must NOT import any infrastructure
// packages (network, storage, platform).
//
// OWNERSHIP RULE: a Session is exclusively owned by the engine for the
// duration of one request. Callers read saved snapshots or replace the
// record wholesale; interior slices and maps are never handed out for
// mutation elsewhere.
package session

import (
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Session is the full mutable state of one running case.
type Session struct {
	ID         string `json:"id"`
	ScenarioID string `json:"scenario_id"`
	Status     Status `json:"status"`

	// Clock bookkeeping. SimTime is simulated minutes since case start;
	// TimeScale is simulated seconds per real second.
	StartReal    time.Time `json:"start_real"`
	LastTickReal time.Time `json:"last_tick_real"`
	SimTime      int       `json:"sim_time"`
	TimeScale    int       `json:"time_scale"`

	Vitals           scenario.Vitals   `json:"vitals"`
	ConditionStates  map[string]string `json:"condition_states"`
	StateEnteredAt   map[string]int    `json:"state_entered_at"` // condition id -> sim-minute of entry
	ActiveTreatments []Treatment       `json:"active_treatments"`
	FiredEvents      []string          `json:"fired_events"`
	RevealedHistory  []string          `json:"revealed_history"`

	// Sim-minute of the last ambient message, for pacing.
	LastAmbientSim int `json:"last_ambient_sim"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates a fresh session for the given scenario with condition states
// seeded from each definition's initial state.
func New(id string, sc *scenario.Scenario, timeScale int, now time.Time) *Session {
	states := make(map[string]string, len(sc.Conditions))
	enteredAt := make(map[string]int, len(sc.Conditions))
	for _, cond := range sc.Conditions {
		states[cond.ID] = cond.InitialState
		enteredAt[cond.ID] = 0
	}

	return &Session{
		ID:               id,
		ScenarioID:       sc.ID,
		Status:           StatusActive,
		StartReal:        now,
		LastTickReal:     now,
		SimTime:          0,
		TimeScale:        timeScale,
		Vitals:           sc.Patient.InitialVitals,
		ConditionStates:  states,
		StateEnteredAt:   enteredAt,
		ActiveTreatments: []Treatment{},
		FiredEvents:      []string{},
		RevealedHistory:  []string{},
		CreatedAt:        now,
	}
}

// HasFired reports whether the event id is in the fired set.
func (s *Session) HasFired(eventID string) bool {
	for _, id := range s.FiredEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkFired adds the event id to the fired set if not already present.
func (s *Session) MarkFired(eventID string) {
	if !s.HasFired(eventID) {
		s.FiredEvents = append(s.FiredEvents, eventID)
	}
}

// HasRevealed reports whether a history item id has been disclosed.
func (s *Session) HasRevealed(itemID string) bool {
	for _, id := range s.RevealedHistory {
		if id == itemID {
			return true
		}
	}
	return false
}

// Reveal adds a history item id to the revealed set if not already present.
// Returns true if it was newly added.
func (s *Session) Reveal(itemID string) bool {
	if s.HasRevealed(itemID) {
		return false
	}
	s.RevealedHistory = append(s.RevealedHistory, itemID)
	return true
}

// Treatment returns the active treatment with the given key, or nil.
func (s *Session) Treatment(key string) *Treatment {
	for i := range s.ActiveTreatments {
		if s.ActiveTreatments[i].Key == key {
			return &s.ActiveTreatments[i]
		}
	}
	return nil
}

// StartTreatment appends a treatment record.
func (s *Session) StartTreatment(key string, details map[string]string) {
	s.ActiveTreatments = append(s.ActiveTreatments, Treatment{
		Key:          key,
		StartedAtSim: s.SimTime,
		Details:      details,
	})
}

// StopTreatment removes every treatment record with the given key.
// Returns true if at least one record was removed.
func (s *Session) StopTreatment(key string) bool {
	kept := s.ActiveTreatments[:0]
	removed := false
	for _, t := range s.ActiveTreatments {
		if t.Key == key {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	s.ActiveTreatments = kept
	return removed
}

// Treatment is one running therapy, owned exclusively by the session.
type Treatment struct {
	Key          string            `json:"key"`
	StartedAtSim int               `json:"started_at_sim"`
	Details      map[string]string `json:"details,omitempty"`
}
