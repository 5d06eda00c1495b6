package session

import "time"

// ActionType is the structured kind of an operator action.
type ActionType string

const (
	ActionOrderLab       ActionType = "order_lab"
	ActionStartTreatment ActionType = "start_treatment"
	ActionStopTreatment  ActionType = "stop_treatment"
	ActionConsult        ActionType = "consult"
	ActionCheckVitals    ActionType = "check_vitals"
	ActionPhysicalExam   ActionType = "physical_exam"
	ActionProcedure      ActionType = "procedure"
	ActionAskPatient     ActionType = "ask_patient"
	ActionWait           ActionType = "wait"
	ActionReviewOrders   ActionType = "review_orders"
	ActionEndGame        ActionType = "end_game"
)

// Action is one structured operator action, as produced by the command parser.
type Action struct {
	Type    ActionType        `json:"type"`
	Key     string            `json:"key,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Identifier returns the canonical action identifier used by transition
// triggers and scoring criteria: "type" or "type:key".
func (a Action) Identifier() string {
	if a.Key == "" {
		return string(a.Type)
	}
	return string(a.Type) + ":" + a.Key
}

// ActionRecord is one entry in the append-only action log.
type ActionRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	SimTime   int       `json:"sim_time"`
	Action    Action    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Identifier returns the canonical identifier of the logged action.
func (r ActionRecord) Identifier() string {
	return r.Action.Identifier()
}

// ResultType distinguishes scheduled result kinds.
type ResultType string

const (
	ResultLab     ResultType = "lab"
	ResultConsult ResultType = "consult_response"
)

// PendingResult is a scheduled lab or consult outcome. Created by the
// action executor, transitioned to delivered exactly once by the delivery
// sweep (a compare-and-set in the store).
type PendingResult struct {
	ID             int64             `json:"id"`
	SessionID      string            `json:"session_id"`
	Type           ResultType        `json:"type"`
	Key            string            `json:"key"`
	Data           map[string]string `json:"data"`
	OrderedAtSim   int               `json:"ordered_at_sim"`
	AvailableAtSim int               `json:"available_at_sim"`
	Delivered      bool              `json:"delivered"`
}

// DeliveredResult is the caller-facing form of a result that just arrived.
type DeliveredResult struct {
	Type ResultType        `json:"type"`
	Key  string            `json:"key"`
	Data map[string]string `json:"data"`
}

// LogRole tags encounter log entries by speaker.
type LogRole string

const (
	RoleUser     LogRole = "user"
	RoleNarrator LogRole = "narrator"
	RolePatient  LogRole = "patient"
	RoleNurse    LogRole = "nurse"
	RoleAlert    LogRole = "alert"
	RoleResult   LogRole = "result"
)

// LogEntry is one line of the append-only encounter log.
type LogEntry struct {
	SessionID string    `json:"session_id"`
	SimTime   int       `json:"sim_time"`
	Role      LogRole   `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
