// Package scenario defines the immutable case definitions for the simulator.
// This package is PURE and must NOT import any infrastructure packages (network, storage, platform).
//
// A Scenario is loaded and validated once at process start and never mutates
// at runtime. All runtime mutation happens on the session record.
package scenario

// TriggerKind discriminates the closed set of transition trigger variants.
type TriggerKind string

const (
	TriggerTimeElapsed        TriggerKind = "time_elapsed"
	TriggerTimeElapsedInState TriggerKind = "time_elapsed_in_state"
	TriggerAnyAction          TriggerKind = "any_action"
	TriggerActionTaken        TriggerKind = "action_taken"
	TriggerAllActions         TriggerKind = "all_actions"
	TriggerProcedureCompleted TriggerKind = "procedure_completed"
)

// EventTriggerKind discriminates the closed set of event trigger variants.
type EventTriggerKind string

const (
	EventTriggerGameStart            EventTriggerKind = "game_start"
	EventTriggerTimeElapsed          EventTriggerKind = "time_elapsed"
	EventTriggerConditionEntersState EventTriggerKind = "condition_enters_state"
	EventTriggerConditionInState     EventTriggerKind = "condition_in_state"
	EventTriggerConsultResponse      EventTriggerKind = "consult_response"
)

// CriterionKind discriminates the closed set of scoring criterion variants.
type CriterionKind string

const (
	CriterionActionTaken       CriterionKind = "action_taken"
	CriterionActionTakenWithin CriterionKind = "action_taken_within"
	CriterionStateAvoided      CriterionKind = "state_avoided"
)

// Scenario is the full immutable definition of one clinical case.
type Scenario struct {
	ID             string                         `yaml:"id"`
	Title          string                         `yaml:"title"`
	Patient        PatientFacts                   `yaml:"patient"`
	TreatmentNames map[string]string              `yaml:"treatment_names"`
	Labs           map[string]LabDefinition       `yaml:"labs"`
	LabsOverTime   map[string][]LabOverTime       `yaml:"labs_over_time"`
	Consults       map[string]ConsultDefinition   `yaml:"consults"`
	Procedures     map[string]ProcedureDefinition `yaml:"procedures"`
	Conditions     []ConditionDefinition          `yaml:"conditions"`
	Events         []GameEvent                    `yaml:"events"`
	HistoryItems   []ScoredHistoryItem            `yaml:"history_items"`
}

// PatientFacts is the static patient profile handed to the narrator.
type PatientFacts struct {
	Name                string            `yaml:"name"`
	Age                 int               `yaml:"age"`
	Sex                 string            `yaml:"sex"`
	Personality         string            `yaml:"personality"`
	ChiefComplaint      string            `yaml:"chief_complaint"`
	PresentingNarrative string            `yaml:"presenting_narrative"`
	History             map[string]string `yaml:"history"`
	ExamFindings        map[string]string `yaml:"exam_findings"`
	InitialVitals       Vitals            `yaml:"initial_vitals"`
}

// LabDefinition is one orderable diagnostic test.
type LabDefinition struct {
	Values            map[string]string `yaml:"values"`
	TurnaroundMinutes int               `yaml:"turnaround_minutes"`
}

// LabOverTime overrides lab values once enough sim-time has passed,
// split by whether the underlying condition is being treated.
type LabOverTime struct {
	AfterMinutes int               `yaml:"after_minutes"`
	IfTreated    bool              `yaml:"if_treated"`
	Values       map[string]string `yaml:"values"`
}

// ConsultDefinition is one specialist consult with a scripted outcome.
type ConsultDefinition struct {
	ResponseDelayMinutes int    `yaml:"response_delay_minutes"`
	Outcome              string `yaml:"outcome"`
}

// ProcedureDefinition is a bedside procedure with a synchronous time cost.
type ProcedureDefinition struct {
	DurationMinutes int      `yaml:"duration_minutes"`
	Requirements    []string `yaml:"requirements"`
	Outcome         string   `yaml:"outcome"`
}

// ConditionDefinition is one modeled disease process: a finite state
// machine plus the rubric that scores how the operator handled it.
type ConditionDefinition struct {
	ID           string       `yaml:"id"`
	Name         string       `yaml:"name"`
	InitialState string       `yaml:"initial_state"`
	States       []string     `yaml:"states"`
	Transitions  []Transition `yaml:"transitions"`
	Scoring      Rubric       `yaml:"scoring"`
}

// HasState reports whether s is a member of the condition's declared state set.
func (c *ConditionDefinition) HasState(s string) bool {
	for _, st := range c.States {
		if st == s {
			return true
		}
	}
	return false
}

// Transition moves a condition between states when its trigger matches.
// Transitions are evaluated in declaration order; the first match wins.
type Transition struct {
	From    []string `yaml:"from"`
	To      string   `yaml:"to"`
	Trigger Trigger  `yaml:"trigger"`
}

// FromState reports whether the transition applies from the given state.
func (t *Transition) FromState(s string) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// Trigger is the predicate that permits a transition to fire. The Kind
// field selects the variant; only the fields for that variant are set,
// enforced by validation at load time.
type Trigger struct {
	Kind TriggerKind `yaml:"type"`

	// time_elapsed: absolute sim-minute threshold.
	// time_elapsed_in_state: dwell minutes since entering the current state.
	AfterMinutes int `yaml:"after_minutes"`

	// any_action / action_taken / all_actions: action identifiers
	// ("type" or "type:key").
	Actions []string `yaml:"actions"`

	// procedure_completed: procedure catalog key.
	Procedure string `yaml:"procedure"`
}

// GameEvent is a one-shot scripted occurrence. An event fires at most
// once per session; membership in the session's fired set is checked
// before firing.
type GameEvent struct {
	ID               string            `yaml:"id"`
	Trigger          EventTrigger      `yaml:"trigger"`
	Facts            string            `yaml:"facts"`
	VitalsChange     *VitalsDelta      `yaml:"vitals_change"`
	RequiredResponse *RequiredResponse `yaml:"required_response"`
}

// EventTrigger is the predicate that permits an event to fire.
type EventTrigger struct {
	Kind EventTriggerKind `yaml:"type"`

	// time_elapsed
	AtMinute int `yaml:"at_minute"`

	// condition_enters_state / condition_in_state
	Condition string `yaml:"condition"`
	State     string `yaml:"state"`
	// condition_in_state additionally requires this much dwell time in the
	// state, measured from state entry.
	AfterMinutes int `yaml:"after_minutes"`

	// consult_response
	Consult string `yaml:"consult"`
}

// RequiredResponse marks an event that demands a timed operator reaction.
type RequiredResponse struct {
	Actions       []string `yaml:"actions"`
	WindowMinutes int      `yaml:"window_minutes"`
}

// Rubric scores one condition.
type Rubric struct {
	MaxPoints int         `yaml:"max_points"`
	Criteria  []Criterion `yaml:"criteria"`
}

// Criterion awards points for a specific action, timing, or avoided state.
type Criterion struct {
	Kind          CriterionKind `yaml:"type"`
	Label         string        `yaml:"label"`
	Points        int           `yaml:"points"`
	Action        string        `yaml:"action"`
	WithinMinutes int           `yaml:"within_minutes"`
	State         string        `yaml:"state"`
}

// ScoredHistoryItem is one history-taking fact worth points when revealed.
type ScoredHistoryItem struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
	Points   int      `yaml:"points"`
}

// Condition returns the condition definition with the given id, or nil.
func (s *Scenario) Condition(id string) *ConditionDefinition {
	for i := range s.Conditions {
		if s.Conditions[i].ID == id {
			return &s.Conditions[i]
		}
	}
	return nil
}
