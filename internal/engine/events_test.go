package engine

import "testing"

func TestEventFiresAtMostOnce(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)
	sess.SimTime = 95

	fired := EvaluateEvents(sc, sess, 95, nil)
	if len(fired) != 1 || fired[0].Event.ID != "melena" {
		t.Fatalf("Expected melena to fire at 95 min, got %+v", fired)
	}

	ApplyFiredEvents(sess, fired)
	if !sess.HasFired("melena") {
		t.Fatalf("Expected melena in fired set")
	}

	// A later pass past the same threshold must not re-fire.
	fired = EvaluateEvents(sc, sess, 120, nil)
	if len(fired) != 0 {
		t.Errorf("Expected no re-fire, got %+v", fired)
	}
}

func TestGameStartNeverMatchesDuringPass(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	fired := EvaluateEvents(sc, sess, 0, nil)
	for _, f := range fired {
		if f.Event.ID == "opening" {
			t.Errorf("game_start event fired during a pass")
		}
	}
}

func TestConditionInStateRequiresBothClauses(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)
	sess.MarkFired("melena")

	// Dwell long enough but in the wrong state.
	sess.ConditionStates["bleed"] = "worsening"
	sess.StateEnteredAt["bleed"] = 0
	fired := EvaluateEvents(sc, sess, 130, nil)
	if len(fired) != 0 {
		t.Fatalf("Expected no fire outside critical state, got %+v", fired)
	}

	// State matches but the dwell clock starts at entry, not at case start.
	sess.ConditionStates["bleed"] = "critical"
	sess.StateEnteredAt["bleed"] = 129
	fired = EvaluateEvents(sc, sess, 130, nil)
	if len(fired) != 0 {
		t.Fatalf("Expected no fire after 1 minute in critical, got %+v", fired)
	}

	// One minute short of the dwell threshold.
	fired = EvaluateEvents(sc, sess, 248, nil)
	if len(fired) != 0 {
		t.Fatalf("Expected no fire at 119 minutes in critical, got %+v", fired)
	}

	// 120 minutes in critical.
	fired = EvaluateEvents(sc, sess, 249, nil)
	if len(fired) != 1 || fired[0].Event.ID != "crash" {
		t.Fatalf("Expected crash to fire, got %+v", fired)
	}

	alerts := ApplyFiredEvents(sess, fired)
	if len(alerts) != 1 || alerts[0] != "CRITICAL: The patient becomes unresponsive." {
		t.Errorf("Expected critical alert, got %v", alerts)
	}
}

func TestConsultResponseEvent(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)
	sess.MarkFired("melena")

	fired := EvaluateEvents(sc, sess, 200, nil)
	if len(fired) != 0 {
		t.Fatalf("Expected no consult event without a response, got %+v", fired)
	}

	fired = EvaluateEvents(sc, sess, 200, []string{"GI"})
	if len(fired) != 1 || fired[0].Event.ID != "gi_callback" {
		t.Fatalf("Expected gi_callback to fire, got %+v", fired)
	}
}
