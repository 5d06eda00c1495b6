package engine

import (
	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

// FiredEvent pairs a matched event with the vitals change it carries.
type FiredEvent struct {
	Event        *scenario.GameEvent
	VitalsChange *scenario.VitalsDelta
}

// EvaluateEvents is a pure function over the scenario's event catalog.
// Events already in the session's fired set are skipped, so an event fires
// at most once regardless of how many later passes match its trigger.
// consultResponses holds the consult keys whose delayed response was
// delivered in this pass. game_start triggers never match here; they are
// applied out of band at session creation.
func EvaluateEvents(sc *scenario.Scenario, sess *session.Session, simTime int, consultResponses []string) []FiredEvent {
	var fired []FiredEvent

	for i := range sc.Events {
		ev := &sc.Events[i]
		if sess.HasFired(ev.ID) {
			continue
		}

		match := false
		switch ev.Trigger.Kind {
		case scenario.EventTriggerGameStart:
			// Applied once at session creation, never during a pass.
		case scenario.EventTriggerTimeElapsed:
			match = simTime >= ev.Trigger.AtMinute
		case scenario.EventTriggerConditionEntersState:
			match = sess.ConditionStates[ev.Trigger.Condition] == ev.Trigger.State
		case scenario.EventTriggerConditionInState:
			// Dwell time: measured from entry into the state, not from case
			// start, the same way time_elapsed_in_state transitions work.
			match = sess.ConditionStates[ev.Trigger.Condition] == ev.Trigger.State &&
				simTime-sess.StateEnteredAt[ev.Trigger.Condition] >= ev.Trigger.AfterMinutes
		case scenario.EventTriggerConsultResponse:
			match = containsString(consultResponses, ev.Trigger.Consult)
		}

		if match {
			fired = append(fired, FiredEvent{Event: ev, VitalsChange: ev.VitalsChange})
		}
	}

	return fired
}

// ApplyFiredEvents marks each event fired, merges its vitals delta into the
// session, and returns critical-alert notices for events that demand a
// timed response. Marking and firing happen together so a concurrent pass
// over the same snapshot cannot double-fire.
func ApplyFiredEvents(sess *session.Session, fired []FiredEvent) []string {
	var alerts []string
	for _, f := range fired {
		sess.MarkFired(f.Event.ID)
		if f.VitalsChange != nil {
			sess.Vitals = f.VitalsChange.Apply(sess.Vitals)
		}
		if f.Event.RequiredResponse != nil {
			alerts = append(alerts, "CRITICAL: "+f.Event.Facts)
		}
	}
	return alerts
}
