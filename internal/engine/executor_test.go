package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
)

func newTestExecutor() (*Executor, *memActionLog, *memPending) {
	actions := &memActionLog{}
	pending := &memPending{}
	return NewExecutor(actions, pending, logger.NewLogger()), actions, pending
}

func TestOrderLabSchedulesResult(t *testing.T) {
	exec, actions, pending := newTestExecutor()
	sc := testScenario()
	sess := testSession(sc)
	sess.SimTime = 10
	pass := &Pass{Scenario: sc, Session: sess}

	msgs, err := exec.Execute(context.Background(), session.Action{Type: session.ActionOrderLab, Key: "CBC"}, pass)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "~30 minutes") {
		t.Errorf("Expected turnaround message, got %v", msgs)
	}

	if len(pending.rows) != 1 {
		t.Fatalf("Expected one scheduled result, got %d", len(pending.rows))
	}
	pr := pending.rows[0]
	if pr.AvailableAtSim != 40 {
		t.Errorf("Expected availability at sim 40, got %d", pr.AvailableAtSim)
	}
	if pr.Data["Hgb"] != "7.2" {
		t.Errorf("Expected baseline values before the over-time window, got %v", pr.Data)
	}

	if len(actions.recs) != 1 || actions.recs[0].Identifier() != "order_lab:CBC" {
		t.Errorf("Expected logged order_lab:CBC, got %+v", actions.recs)
	}
}

func TestOrderLabUnknownKeyListsCatalog(t *testing.T) {
	exec, _, pending := newTestExecutor()
	sc := testScenario()
	sess := testSession(sc)
	pass := &Pass{Scenario: sc, Session: sess}

	msgs, err := exec.Execute(context.Background(), session.Action{Type: session.ActionOrderLab, Key: "troponin"}, pass)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Unknown lab: troponin") {
		t.Fatalf("Expected unknown-lab message, got %v", msgs)
	}
	if !strings.Contains(msgs[0], "BMP, CBC") {
		t.Errorf("Expected sorted catalog keys in message, got %q", msgs[0])
	}
	if len(pending.rows) != 0 {
		t.Errorf("Unknown lab must not schedule a result")
	}
}

func TestOrderLabOverTimeTreatedHeuristic(t *testing.T) {
	exec, _, pending := newTestExecutor()
	sc := testScenario()

	// Untreated past the window: the worsening values.
	sess := testSession(sc)
	sess.SimTime = 70
	pass := &Pass{Scenario: sc, Session: sess}
	if _, err := exec.Execute(context.Background(), session.Action{Type: session.ActionOrderLab, Key: "CBC"}, pass); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if pending.rows[0].Data["Hgb"] != "6.1" {
		t.Errorf("Expected untreated over-time values, got %v", pending.rows[0].Data)
	}

	// Treated past the window: the recovering values.
	sess2 := testSession(sc)
	sess2.SimTime = 70
	sess2.ConditionStates["bleed"] = "responding"
	pass2 := &Pass{Scenario: sc, Session: sess2}
	if _, err := exec.Execute(context.Background(), session.Action{Type: session.ActionOrderLab, Key: "CBC"}, pass2); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if pending.rows[1].Data["Hgb"] != "8.0" {
		t.Errorf("Expected treated over-time values, got %v", pending.rows[1].Data)
	}
}

func TestStartAndStopTreatment(t *testing.T) {
	exec, _, _ := newTestExecutor()
	sc := testScenario()
	sess := testSession(sc)
	sess.SimTime = 5
	pass := &Pass{Scenario: sc, Session: sess}

	msgs, err := exec.Execute(context.Background(), session.Action{Type: session.ActionStartTreatment, Key: "PPI"}, pass)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "IV pantoprazole") {
		t.Errorf("Expected human-readable treatment name, got %v", msgs)
	}
	if tr := sess.Treatment("PPI"); tr == nil || tr.StartedAtSim != 5 {
		t.Fatalf("Expected PPI active from sim 5, got %+v", tr)
	}

	sess.SimTime = 20
	msgs, err = exec.Execute(context.Background(), session.Action{Type: session.ActionStopTreatment, Key: "PPI"}, pass)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "Stopped:") {
		t.Errorf("Expected stop confirmation, got %v", msgs)
	}
	if sess.Treatment("PPI") != nil {
		t.Errorf("Expected PPI removed from active treatments")
	}

	// Stopping again reports it was not running.
	msgs, _ = exec.Execute(context.Background(), session.Action{Type: session.ActionStopTreatment, Key: "PPI"}, pass)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Not currently running") {
		t.Errorf("Expected not-running message, got %v", msgs)
	}
}

func TestWaitDefaultsAndParses(t *testing.T) {
	exec, _, _ := newTestExecutor()
	sc := testScenario()
	sess := testSession(sc)
	pass := &Pass{Scenario: sc, Session: sess}

	if _, err := exec.Execute(context.Background(), session.Action{Type: session.ActionWait, Key: "45"}, pass); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if sess.SimTime != 45 {
		t.Errorf("Expected sim time 45 after explicit wait, got %d", sess.SimTime)
	}

	if _, err := exec.Execute(context.Background(), session.Action{Type: session.ActionWait, Key: "soon"}, pass); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if sess.SimTime != 75 {
		t.Errorf("Expected unparsable wait to default to 30, got %d", sess.SimTime)
	}
}

func TestProcedureAdvancesTimeAndTransitions(t *testing.T) {
	exec, _, _ := newTestExecutor()
	sc := testScenario()
	sess := testSession(sc)
	sess.ConditionStates["bleed"] = "responding"
	sess.SimTime = 100
	pass := &Pass{Scenario: sc, Session: sess}

	msgs, err := exec.Execute(context.Background(), session.Action{Type: session.ActionProcedure, Key: "NG_lavage"}, pass)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if sess.SimTime != 115 {
		t.Errorf("Expected procedure to cost 15 sim-minutes, got %d", sess.SimTime)
	}
	if sess.ConditionStates["bleed"] != "resolved" {
		t.Errorf("Expected procedure_completed transition to resolved, got %s", sess.ConditionStates["bleed"])
	}
	if len(msgs) != 2 || !strings.Contains(msgs[1], "Coffee-ground") {
		t.Errorf("Expected procedure outcome message, got %v", msgs)
	}
}

func TestReviewOrders(t *testing.T) {
	exec, _, _ := newTestExecutor()
	sc := testScenario()
	sess := testSession(sc)
	pass := &Pass{Scenario: sc, Session: sess}

	msgs, _ := exec.Execute(context.Background(), session.Action{Type: session.ActionReviewOrders}, pass)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "No active treatments") {
		t.Errorf("Expected empty order review, got %v", msgs)
	}

	sess.StartTreatment("PPI", nil)
	msgs, _ = exec.Execute(context.Background(), session.Action{Type: session.ActionReviewOrders}, pass)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "IV pantoprazole") {
		t.Errorf("Expected PPI listed in order review, got %v", msgs)
	}
}
