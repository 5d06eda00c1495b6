package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
)

// DefaultWaitMinutes is applied when a wait action has no usable duration.
const DefaultWaitMinutes = 30

// ActionLog is the append-only record of operator actions.
type ActionLog interface {
	Append(ctx context.Context, rec session.ActionRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]session.ActionRecord, error)
}

// ResultScheduler stores pending lab and consult results for later delivery.
type ResultScheduler interface {
	Schedule(ctx context.Context, pr session.PendingResult) error
}

// Executor applies one structured operator action to the session, logging
// it and scheduling any delayed results. Validation failures (unknown
// catalog keys) produce a corrective message and no state mutation.
type Executor struct {
	actions ActionLog
	pending ResultScheduler
	logger  *logger.Logger
}

// NewExecutor creates an action executor.
func NewExecutor(actions ActionLog, pending ResultScheduler, log *logger.Logger) *Executor {
	return &Executor{actions: actions, pending: pending, logger: log}
}

// Execute performs the action against the pass context, appends it to the
// action log, and runs the action-based condition pass with the complete
// historical identifier list plus the action itself. The returned messages
// are narration-free templates; they precede any generated narrative.
func (e *Executor) Execute(ctx context.Context, act session.Action, pass *Pass) ([]string, error) {
	sc, sess := pass.Scenario, pass.Session
	var messages []string

	switch act.Type {
	case session.ActionOrderLab:
		messages = e.orderLab(ctx, act, sc, sess)

	case session.ActionStartTreatment:
		if act.Key == "" {
			messages = append(messages, "No treatment specified.")
			break
		}
		sess.StartTreatment(act.Key, act.Details)
		messages = append(messages, "Started: "+treatmentName(sc, act.Key))

	case session.ActionStopTreatment:
		if sess.StopTreatment(act.Key) {
			messages = append(messages, "Stopped: "+treatmentName(sc, act.Key))
		} else {
			messages = append(messages, "Not currently running: "+treatmentName(sc, act.Key))
		}

	case session.ActionConsult:
		messages = e.placeConsult(ctx, act, sc, sess)

	case session.ActionCheckVitals:
		messages = append(messages, "Vitals: "+sess.Vitals.Format())

	case session.ActionProcedure:
		proc, ok := sc.Procedures[act.Key]
		if !ok {
			messages = append(messages, "Unknown procedure: "+act.Key)
			break
		}
		// A procedure has an immediate, locally applied time cost, unlike
		// the passive wall-clock advancement.
		sess.SimTime += proc.DurationMinutes
		messages = append(messages, fmt.Sprintf("Performing %s... (%d min)", act.Key, proc.DurationMinutes))
		if proc.Outcome != "" {
			messages = append(messages, "Result: "+proc.Outcome)
		}

	case session.ActionWait:
		minutes := DefaultWaitMinutes
		if act.Key != "" {
			if parsed, err := strconv.Atoi(act.Key); err == nil && parsed > 0 {
				minutes = parsed
			}
		}
		sess.SimTime += minutes
		messages = append(messages, fmt.Sprintf("%d minutes pass...", minutes))

	case session.ActionReviewOrders:
		messages = append(messages, reviewOrders(sc, sess))

	case session.ActionEndGame:
		sess.Status = session.StatusCompleted
		messages = append(messages, "The simulation has ended.")

	case session.ActionAskPatient, session.ActionPhysicalExam:
		// Narration-only actions; the narrator handles the response.

	default:
		e.logger.Warn("Unknown action type: " + string(act.Type))
	}

	// Every action is logged for scoring, whatever its kind.
	rec := session.ActionRecord{
		SessionID: sess.ID,
		SimTime:   sess.SimTime,
		Action:    act,
		CreatedAt: time.Now(),
	}
	if err := e.actions.Append(ctx, rec); err != nil {
		return messages, fmt.Errorf("failed to log action: %w", err)
	}

	// Action-based condition pass against the full history plus this action.
	history, err := e.actions.ListBySession(ctx, sess.ID)
	if err != nil {
		return messages, fmt.Errorf("failed to load action history: %w", err)
	}
	identifiers := make([]string, len(history))
	for i, h := range history {
		identifiers[i] = h.Identifier()
	}

	transitions := EvaluateActionTransitions(sc, sess, act.Identifier(), identifiers)
	ApplyTransitions(sess, transitions)
	pass.Transitions = append(pass.Transitions, transitions...)

	for _, tr := range transitions {
		e.logger.Event("CONDITION_TRANSITION", sess.ID,
			fmt.Sprintf("%s: %s -> %s (action %s)", tr.ConditionID, tr.From, tr.To, act.Identifier()))
	}

	return messages, nil
}

// orderLab validates the lab key, selects result values (preferring the
// latest applicable over-time entry matching the treated heuristic), and
// schedules a pending result after the lab's turnaround.
func (e *Executor) orderLab(ctx context.Context, act session.Action, sc *scenario.Scenario, sess *session.Session) []string {
	lab, ok := sc.Labs[act.Key]
	if !ok {
		return []string{fmt.Sprintf("Unknown lab: %s. Available labs: %s",
			act.Key, strings.Join(catalogKeys(sc.Labs), ", "))}
	}

	values := lab.Values
	if entries := sc.LabsOverTime[act.Key]; len(entries) > 0 {
		treated := anyConditionTreated(sess)
		var best *scenario.LabOverTime
		for i := range entries {
			entry := &entries[i]
			if sess.SimTime >= entry.AfterMinutes && entry.IfTreated == treated {
				if best == nil || entry.AfterMinutes > best.AfterMinutes {
					best = entry
				}
			}
		}
		if best != nil {
			values = best.Values
		}
	}

	pr := session.PendingResult{
		SessionID:      sess.ID,
		Type:           session.ResultLab,
		Key:            act.Key,
		Data:           values,
		OrderedAtSim:   sess.SimTime,
		AvailableAtSim: sess.SimTime + lab.TurnaroundMinutes,
	}
	if err := e.pending.Schedule(ctx, pr); err != nil {
		e.logger.Error("Failed to schedule lab result: " + err.Error())
		return []string{"The lab system is down. Try again."}
	}

	return []string{fmt.Sprintf("%s ordered. Results expected in ~%d minutes.", act.Key, lab.TurnaroundMinutes)}
}

// placeConsult validates the consult key and schedules the scripted
// response after the service's delay.
func (e *Executor) placeConsult(ctx context.Context, act session.Action, sc *scenario.Scenario, sess *session.Session) []string {
	consult, ok := sc.Consults[act.Key]
	if !ok {
		return []string{fmt.Sprintf("Unknown consult: %s. Available: %s",
			act.Key, strings.Join(catalogKeys(sc.Consults), ", "))}
	}

	pr := session.PendingResult{
		SessionID:      sess.ID,
		Type:           session.ResultConsult,
		Key:            act.Key,
		Data:           map[string]string{"outcome": consult.Outcome},
		OrderedAtSim:   sess.SimTime,
		AvailableAtSim: sess.SimTime + consult.ResponseDelayMinutes,
	}
	if err := e.pending.Schedule(ctx, pr); err != nil {
		e.logger.Error("Failed to schedule consult response: " + err.Error())
		return []string{"Paging system is down. Try again."}
	}

	return []string{fmt.Sprintf("%s consult placed. Expected response in ~%d minutes.", act.Key, consult.ResponseDelayMinutes)}
}

// anyConditionTreated is the treated-flag heuristic for lab overrides:
// true when any condition sits in a treated/resolving state.
func anyConditionTreated(sess *session.Session) bool {
	for _, state := range sess.ConditionStates {
		switch state {
		case "treated", "resolved", "resolving", "responding":
			return true
		}
	}
	return false
}

func reviewOrders(sc *scenario.Scenario, sess *session.Session) string {
	if len(sess.ActiveTreatments) == 0 {
		return "Active treatments:\nNo active treatments."
	}
	lines := make([]string, 0, len(sess.ActiveTreatments)+1)
	lines = append(lines, "Active treatments:")
	for _, t := range sess.ActiveTreatments {
		lines = append(lines, fmt.Sprintf("- %s (started at min %d)", treatmentName(sc, t.Key), t.StartedAtSim))
	}
	return strings.Join(lines, "\n")
}

func treatmentName(sc *scenario.Scenario, key string) string {
	if name, ok := sc.TreatmentNames[key]; ok {
		return name
	}
	return key
}

func catalogKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
