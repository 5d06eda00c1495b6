package engine

import (
	"testing"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
)

func TestTimeTransitionFiresAtThreshold(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	// Below the threshold nothing moves.
	results := EvaluateTimeTransitions(sc, sess, 59)
	if len(results) != 0 {
		t.Fatalf("Expected no transitions at 59 min, got %d", len(results))
	}

	sess.SimTime = 61
	results = EvaluateTimeTransitions(sc, sess, 61)
	if len(results) != 1 {
		t.Fatalf("Expected exactly one transition at 61 min, got %d", len(results))
	}
	if results[0].ConditionID != "bleed" || results[0].From != "presenting" || results[0].To != "worsening" {
		t.Errorf("Unexpected transition: %+v", results[0])
	}

	ApplyTransitions(sess, results)
	if sess.ConditionStates["bleed"] != "worsening" {
		t.Errorf("Expected bleed to be worsening, got %s", sess.ConditionStates["bleed"])
	}
	if sess.StateEnteredAt["bleed"] != 61 {
		t.Errorf("Expected state entry time 61, got %d", sess.StateEnteredAt["bleed"])
	}
}

func TestConditionMovesAtMostOneStepPerPass(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	// Far past both thresholds in one pass: only the first hop applies.
	sess.SimTime = 300
	results := EvaluateTimeTransitions(sc, sess, 300)
	if len(results) != 1 {
		t.Fatalf("Expected one transition per condition per pass, got %d", len(results))
	}
	if results[0].To != "worsening" {
		t.Errorf("Expected first hop to worsening, got %s", results[0].To)
	}
}

func TestDwellTransitionMeasuresFromStateEntry(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	sess.SimTime = 61
	ApplyTransitions(sess, EvaluateTimeTransitions(sc, sess, 61))

	// 89 minutes in state: not yet.
	results := EvaluateTimeTransitions(sc, sess, 150)
	if len(results) != 0 {
		t.Fatalf("Expected no dwell transition after 89 min in state, got %d", len(results))
	}

	// 90 minutes in state: fires.
	results = EvaluateTimeTransitions(sc, sess, 151)
	if len(results) != 1 || results[0].To != "critical" {
		t.Fatalf("Expected dwell transition to critical at 151 min, got %+v", results)
	}
}

func TestActionTransitionAllActions(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	// First treatment alone does not satisfy the pair.
	results := EvaluateActionTransitions(sc, sess, "start_treatment:PPI", []string{"start_treatment:PPI"})
	if len(results) != 0 {
		t.Fatalf("Expected no transition with one of two required actions, got %d", len(results))
	}

	// Second treatment completes the set.
	history := []string{"start_treatment:PPI", "start_treatment:prbc"}
	results = EvaluateActionTransitions(sc, sess, "start_treatment:prbc", history)
	if len(results) != 1 || results[0].To != "responding" {
		t.Fatalf("Expected transition to responding, got %+v", results)
	}
}

func TestActionTransitionProcedureCompleted(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)
	sess.ConditionStates["bleed"] = "responding"

	results := EvaluateActionTransitions(sc, sess, "procedure:NG_lavage", []string{"procedure:NG_lavage"})
	if len(results) != 1 || results[0].To != "resolved" {
		t.Fatalf("Expected transition to resolved after lavage, got %+v", results)
	}

	// The wrong procedure does nothing.
	sess.ConditionStates["bleed"] = "responding"
	results = EvaluateActionTransitions(sc, sess, "procedure:intubation", []string{"procedure:intubation"})
	if len(results) != 0 {
		t.Errorf("Expected no transition for unrelated procedure, got %+v", results)
	}
}

func TestActionTransitionDeclarationOrderWins(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	// The all_actions transition is declared before time_elapsed for the
	// presenting state, so a completing action beats the passive decline.
	cond := sc.Condition("bleed")
	if cond.Transitions[0].Trigger.Kind != scenario.TriggerAllActions {
		t.Fatalf("Fixture changed: expected all_actions declared first")
	}

	history := []string{"start_treatment:PPI", "start_treatment:prbc"}
	results := EvaluateActionTransitions(sc, sess, "start_treatment:prbc", history)
	ApplyTransitions(sess, results)
	if sess.ConditionStates["bleed"] != "responding" {
		t.Errorf("Expected responding, got %s", sess.ConditionStates["bleed"])
	}
}
