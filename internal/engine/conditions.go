package engine

import (
	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

// TransitionResult records one applied condition state change.
type TransitionResult struct {
	ConditionID   string `json:"condition_id"`
	ConditionName string `json:"condition_name"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// EvaluateTimeTransitions runs the time-based pass over every condition.
// Transitions are checked in declaration order; the first whose source
// state and trigger match wins, so each condition moves at most one step
// per pass. Dwell triggers measure against the sim-minute the condition
// entered its current state.
func EvaluateTimeTransitions(sc *scenario.Scenario, sess *session.Session, simTime int) []TransitionResult {
	var results []TransitionResult

	for i := range sc.Conditions {
		cond := &sc.Conditions[i]
		current, ok := sess.ConditionStates[cond.ID]
		if !ok {
			continue
		}

		for j := range cond.Transitions {
			tr := &cond.Transitions[j]
			if !tr.FromState(current) {
				continue
			}

			fired := false
			switch tr.Trigger.Kind {
			case scenario.TriggerTimeElapsed:
				fired = simTime >= tr.Trigger.AfterMinutes
			case scenario.TriggerTimeElapsedInState:
				fired = simTime-sess.StateEnteredAt[cond.ID] >= tr.Trigger.AfterMinutes
			case scenario.TriggerAnyAction, scenario.TriggerActionTaken,
				scenario.TriggerAllActions, scenario.TriggerProcedureCompleted:
				// Action triggers belong to the action-based pass.
			}

			if fired {
				results = append(results, TransitionResult{
					ConditionID:   cond.ID,
					ConditionName: cond.Name,
					From:          current,
					To:            tr.To,
				})
				break
			}
		}
	}

	return results
}

// EvaluateActionTransitions runs the action-based pass immediately after an
// operator action executes. actionID is the identifier of the action just
// taken ("type" or "type:key"); history is every identifier logged for the
// session, which for all_actions triggers counts alongside actionID.
func EvaluateActionTransitions(sc *scenario.Scenario, sess *session.Session, actionID string, history []string) []TransitionResult {
	var results []TransitionResult

	for i := range sc.Conditions {
		cond := &sc.Conditions[i]
		current, ok := sess.ConditionStates[cond.ID]
		if !ok {
			continue
		}

		for j := range cond.Transitions {
			tr := &cond.Transitions[j]
			if !tr.FromState(current) {
				continue
			}

			fired := false
			switch tr.Trigger.Kind {
			case scenario.TriggerAnyAction, scenario.TriggerActionTaken:
				fired = containsString(tr.Trigger.Actions, actionID)
			case scenario.TriggerAllActions:
				fired = allPresent(tr.Trigger.Actions, history, actionID)
			case scenario.TriggerProcedureCompleted:
				fired = actionID == "procedure:"+tr.Trigger.Procedure
			case scenario.TriggerTimeElapsed, scenario.TriggerTimeElapsedInState:
				// Time triggers belong to the time-based pass.
			}

			if fired {
				results = append(results, TransitionResult{
					ConditionID:   cond.ID,
					ConditionName: cond.Name,
					From:          current,
					To:            tr.To,
				})
				break
			}
		}
	}

	return results
}

// ApplyTransitions writes the results into the session's state map and
// stamps each condition's state entry time with the current sim-time.
func ApplyTransitions(sess *session.Session, results []TransitionResult) {
	for _, r := range results {
		sess.ConditionStates[r.ConditionID] = r.To
		sess.StateEnteredAt[r.ConditionID] = sess.SimTime
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func allPresent(required, history []string, current string) bool {
	for _, req := range required {
		if req == current {
			continue
		}
		if !containsString(history, req) {
			return false
		}
	}
	return true
}
