package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

func actionAt(sessID string, simTime int, actType session.ActionType, key string) session.ActionRecord {
	return session.ActionRecord{
		SessionID: sessID,
		SimTime:   simTime,
		Action:    session.Action{Type: actType, Key: key},
		CreatedAt: time.Now(),
	}
}

func TestScoreFullRubric(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)
	sess.ConditionStates["bleed"] = "responding"
	sess.Reveal("asked_about_alcohol")

	actions := []session.ActionRecord{
		actionAt(sess.ID, 45, session.ActionStartTreatment, "PPI"),
		actionAt(sess.ID, 45, session.ActionStartTreatment, "prbc"),
	}

	result := Score(sc, sess, actions)

	// PPI taken (10), prbc taken but at 45 > 30 deadline (0), critical
	// avoided (5), insulin never started (0), history revealed (5).
	if result.TotalScore != 20 {
		t.Errorf("Expected total 20, got %d", result.TotalScore)
	}
	if result.MaxScore != 40 {
		t.Errorf("Expected max 40, got %d", result.MaxScore)
	}
	if result.Percentage != 50 {
		t.Errorf("Expected 50%%, got %d%%", result.Percentage)
	}
}

func TestScoreWithinDeadline(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	early := []session.ActionRecord{actionAt(sess.ID, 25, session.ActionStartTreatment, "prbc")}
	late := []session.ActionRecord{actionAt(sess.ID, 45, session.ActionStartTreatment, "prbc")}

	earlyScore := Score(sc, sess, early)
	lateScore := Score(sc, sess, late)

	if earlyScore.TotalScore-lateScore.TotalScore != 10 {
		t.Errorf("Expected the 25-min transfusion to earn the 10 timing points over the 45-min one: %d vs %d",
			earlyScore.TotalScore, lateScore.TotalScore)
	}
}

func TestScoreStateAvoided(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	sess.ConditionStates["bleed"] = "critical"
	inCritical := Score(sc, sess, nil)

	sess.ConditionStates["bleed"] = "worsening"
	avoided := Score(sc, sess, nil)

	if avoided.TotalScore-inCritical.TotalScore != 5 {
		t.Errorf("Expected avoiding critical to be worth 5 points: %d vs %d",
			avoided.TotalScore, inCritical.TotalScore)
	}
}

func TestScoreEmptyRubricIsZeroPercent(t *testing.T) {
	sc := &scenario.Scenario{ID: "empty", Conditions: nil, HistoryItems: nil}
	sess := session.New("s", sc, 20, time.Now())

	result := Score(sc, sess, nil)
	if result.MaxScore != 0 || result.Percentage != 0 {
		t.Errorf("Expected 0/0 and 0%%, got %d/%d (%d%%)", result.TotalScore, result.MaxScore, result.Percentage)
	}
}

func TestScoreIsPure(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)
	sess.Reveal("asked_about_alcohol")
	actions := []session.ActionRecord{
		actionAt(sess.ID, 15, session.ActionStartTreatment, "PPI"),
		actionAt(sess.ID, 20, session.ActionStartTreatment, "prbc"),
	}

	first := Score(sc, sess, actions)
	second := Score(sc, sess, actions)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Identical inputs produced different results:\n%+v\n%+v", first, second)
	}
}
