package scenario

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed cases/*.yaml
var caseFiles embed.FS

// Library is the validated, in-memory catalog of scenarios. Built once
// at startup; reads only after that.
type Library struct {
	scenarios map[string]*Scenario
}

// Info is the listing form of a scenario.
type Info struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// LoadEmbedded parses and validates every scenario shipped with the binary.
// A malformed scenario fails the whole load; bad definitions are rejected
// here, never discovered mid-evaluation.
func LoadEmbedded() (*Library, error) {
	lib := &Library{scenarios: make(map[string]*Scenario)}

	entries, err := fs.ReadDir(caseFiles, "cases")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded cases: %w", err)
	}

	for _, entry := range entries {
		data, err := caseFiles.ReadFile("cases/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", entry.Name(), err)
		}
		if _, dup := lib.scenarios[sc.ID]; dup {
			return nil, fmt.Errorf("scenario %s: duplicate id %q", entry.Name(), sc.ID)
		}
		lib.scenarios[sc.ID] = sc
	}

	if len(lib.scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios found in embedded cases")
	}
	return lib, nil
}

// Parse decodes and validates a single scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("yaml decode failed: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Get returns the scenario with the given id, or nil.
func (l *Library) Get(id string) *Scenario {
	return l.scenarios[id]
}

// List returns id/title pairs for every loaded scenario, sorted by id.
func (l *Library) List() []Info {
	infos := make([]Info, 0, len(l.scenarios))
	for _, sc := range l.scenarios {
		infos = append(infos, Info{ID: sc.ID, Title: sc.Title})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Validate checks every structural invariant of the scenario. Trigger and
// criterion variants are closed sets: an unknown kind is a load error, so
// evaluation can switch exhaustively without a silent no-op branch.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	if s.Title == "" {
		return fmt.Errorf("scenario %s: title is required", s.ID)
	}
	if !s.Patient.InitialVitals.BP.Valid() {
		return fmt.Errorf("scenario %s: initial vitals blood pressure invalid", s.ID)
	}

	for key, lab := range s.Labs {
		if lab.TurnaroundMinutes <= 0 {
			return fmt.Errorf("scenario %s: lab %s: turnaround must be positive", s.ID, key)
		}
	}
	for key := range s.LabsOverTime {
		if _, ok := s.Labs[key]; !ok {
			return fmt.Errorf("scenario %s: labs_over_time references unknown lab %s", s.ID, key)
		}
	}
	for key, consult := range s.Consults {
		if consult.ResponseDelayMinutes <= 0 {
			return fmt.Errorf("scenario %s: consult %s: response delay must be positive", s.ID, key)
		}
	}
	for key, proc := range s.Procedures {
		if proc.DurationMinutes <= 0 {
			return fmt.Errorf("scenario %s: procedure %s: duration must be positive", s.ID, key)
		}
	}

	seen := make(map[string]bool)
	for i := range s.Conditions {
		cond := &s.Conditions[i]
		if cond.ID == "" {
			return fmt.Errorf("scenario %s: condition %d: id is required", s.ID, i)
		}
		if seen[cond.ID] {
			return fmt.Errorf("scenario %s: duplicate condition id %s", s.ID, cond.ID)
		}
		seen[cond.ID] = true

		if len(cond.States) == 0 {
			return fmt.Errorf("scenario %s: condition %s: state set is empty", s.ID, cond.ID)
		}
		if !cond.HasState(cond.InitialState) {
			return fmt.Errorf("scenario %s: condition %s: initial state %q not in state set", s.ID, cond.ID, cond.InitialState)
		}
		for j, tr := range cond.Transitions {
			if len(tr.From) == 0 {
				return fmt.Errorf("scenario %s: condition %s transition %d: from states required", s.ID, cond.ID, j)
			}
			for _, from := range tr.From {
				if !cond.HasState(from) {
					return fmt.Errorf("scenario %s: condition %s transition %d: unknown from state %q", s.ID, cond.ID, j, from)
				}
			}
			if !cond.HasState(tr.To) {
				return fmt.Errorf("scenario %s: condition %s transition %d: unknown to state %q", s.ID, cond.ID, j, tr.To)
			}
			if err := tr.Trigger.validate(); err != nil {
				return fmt.Errorf("scenario %s: condition %s transition %d: %w", s.ID, cond.ID, j, err)
			}
		}
		for j, crit := range cond.Scoring.Criteria {
			if err := crit.validate(); err != nil {
				return fmt.Errorf("scenario %s: condition %s criterion %d: %w", s.ID, cond.ID, j, err)
			}
			if crit.Kind == CriterionStateAvoided && !cond.HasState(crit.State) {
				return fmt.Errorf("scenario %s: condition %s criterion %d: unknown avoided state %q", s.ID, cond.ID, j, crit.State)
			}
		}
	}

	eventIDs := make(map[string]bool)
	for i := range s.Events {
		ev := &s.Events[i]
		if ev.ID == "" {
			return fmt.Errorf("scenario %s: event %d: id is required", s.ID, i)
		}
		if eventIDs[ev.ID] {
			return fmt.Errorf("scenario %s: duplicate event id %s", s.ID, ev.ID)
		}
		eventIDs[ev.ID] = true
		if err := s.validateEventTrigger(&ev.Trigger); err != nil {
			return fmt.Errorf("scenario %s: event %s: %w", s.ID, ev.ID, err)
		}
	}

	for i, item := range s.HistoryItems {
		if item.ID == "" {
			return fmt.Errorf("scenario %s: history item %d: id is required", s.ID, i)
		}
	}

	return nil
}

func (t *Trigger) validate() error {
	switch t.Kind {
	case TriggerTimeElapsed, TriggerTimeElapsedInState:
		if t.AfterMinutes <= 0 {
			return fmt.Errorf("trigger %s: after_minutes must be positive", t.Kind)
		}
	case TriggerAnyAction, TriggerActionTaken, TriggerAllActions:
		if len(t.Actions) == 0 {
			return fmt.Errorf("trigger %s: actions required", t.Kind)
		}
	case TriggerProcedureCompleted:
		if t.Procedure == "" {
			return fmt.Errorf("trigger %s: procedure required", t.Kind)
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

func (s *Scenario) validateEventTrigger(t *EventTrigger) error {
	switch t.Kind {
	case EventTriggerGameStart:
		// no fields
	case EventTriggerTimeElapsed:
		if t.AtMinute < 0 {
			return fmt.Errorf("trigger %s: at_minute must not be negative", t.Kind)
		}
	case EventTriggerConditionEntersState, EventTriggerConditionInState:
		cond := s.Condition(t.Condition)
		if cond == nil {
			return fmt.Errorf("trigger %s: unknown condition %q", t.Kind, t.Condition)
		}
		if !cond.HasState(t.State) {
			return fmt.Errorf("trigger %s: condition %s has no state %q", t.Kind, t.Condition, t.State)
		}
		if t.Kind == EventTriggerConditionInState && t.AfterMinutes <= 0 {
			return fmt.Errorf("trigger %s: after_minutes must be positive", t.Kind)
		}
	case EventTriggerConsultResponse:
		if _, ok := s.Consults[t.Consult]; !ok {
			return fmt.Errorf("trigger %s: unknown consult %q", t.Kind, t.Consult)
		}
	default:
		return fmt.Errorf("unknown event trigger kind %q", t.Kind)
	}
	return nil
}

func (c *Criterion) validate() error {
	if c.Points <= 0 {
		return fmt.Errorf("criterion points must be positive")
	}
	switch c.Kind {
	case CriterionActionTaken:
		if c.Action == "" {
			return fmt.Errorf("criterion %s: action required", c.Kind)
		}
	case CriterionActionTakenWithin:
		if c.Action == "" || c.WithinMinutes <= 0 {
			return fmt.Errorf("criterion %s: action and within_minutes required", c.Kind)
		}
	case CriterionStateAvoided:
		if c.State == "" {
			return fmt.Errorf("criterion %s: state required", c.Kind)
		}
	default:
		return fmt.Errorf("unknown criterion kind %q", c.Kind)
	}
	return nil
}
