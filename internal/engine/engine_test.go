package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
)

func TestAdvanceDeliversResultsExactlyOnce(t *testing.T) {
	actions := &memActionLog{}
	pending := &memPending{}
	eng := New(actions, pending, logger.NewLogger())
	sc := testScenario()
	sess := testSession(sc)

	// A CBC ordered at sim 10 becomes available at sim 40.
	pending.Schedule(context.Background(), session.PendingResult{
		SessionID:      sess.ID,
		Type:           session.ResultLab,
		Key:            "CBC",
		Data:           map[string]string{"Hgb": "7.2"},
		OrderedAtSim:   10,
		AvailableAtSim: 40,
	})

	// Not due yet at sim 39. now == LastTickReal keeps the clock still.
	sess.SimTime = 39
	pass, err := eng.Advance(context.Background(), sc, sess, sess.LastTickReal)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(pass.Delivered) != 0 {
		t.Fatalf("Expected nothing delivered at sim 39, got %+v", pass.Delivered)
	}

	// Due at sim 40: delivered with a formatted message.
	sess.SimTime = 40
	pass, err = eng.Advance(context.Background(), sc, sess, sess.LastTickReal)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(pass.Delivered) != 1 || pass.Delivered[0].Key != "CBC" {
		t.Fatalf("Expected CBC delivered at sim 40, got %+v", pass.Delivered)
	}
	if len(pass.Messages) != 1 || !strings.Contains(pass.Messages[0], "Lab Results — CBC") {
		t.Errorf("Expected formatted lab message, got %v", pass.Messages)
	}

	// A later pass must not deliver the same row again.
	sess.SimTime = 50
	pass, err = eng.Advance(context.Background(), sc, sess, sess.LastTickReal)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(pass.Delivered) != 0 {
		t.Errorf("Expected no re-delivery at sim 50, got %+v", pass.Delivered)
	}
}

func TestAdvanceConsultDeliveryFiresCallbackEvent(t *testing.T) {
	actions := &memActionLog{}
	pending := &memPending{}
	eng := New(actions, pending, logger.NewLogger())
	sc := testScenario()
	sess := testSession(sc)
	sess.MarkFired("melena")

	pending.Schedule(context.Background(), session.PendingResult{
		SessionID:      sess.ID,
		Type:           session.ResultConsult,
		Key:            "GI",
		Data:           map[string]string{"outcome": "GI fellow recommends urgent endoscopy."},
		OrderedAtSim:   100,
		AvailableAtSim: 145,
	})

	sess.SimTime = 145
	pass, err := eng.Advance(context.Background(), sc, sess, sess.LastTickReal)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(pass.Delivered) != 1 || pass.Delivered[0].Type != session.ResultConsult {
		t.Fatalf("Expected consult delivery, got %+v", pass.Delivered)
	}

	// The scripted callback event keys off the delivered consult.
	found := false
	for _, f := range pass.FiredEvents {
		if f.Event.ID == "gi_callback" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected gi_callback to fire on consult delivery, fired: %+v", pass.FiredEvents)
	}
}

func TestAdvanceRunsTimeTransitions(t *testing.T) {
	actions := &memActionLog{}
	pending := &memPending{}
	eng := New(actions, pending, logger.NewLogger())
	sc := testScenario()
	sess := testSession(sc)

	sess.SimTime = 61
	pass, err := eng.Advance(context.Background(), sc, sess, sess.LastTickReal)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(pass.Transitions) != 1 || pass.Transitions[0].To != "worsening" {
		t.Fatalf("Expected time transition to worsening, got %+v", pass.Transitions)
	}
	if sess.ConditionStates["bleed"] != "worsening" {
		t.Errorf("Expected session state updated, got %s", sess.ConditionStates["bleed"])
	}
}

func TestRevealHistoryFromInput(t *testing.T) {
	sc := testScenario()
	sess := testSession(sc)

	revealed := RevealHistoryFromInput(sc, sess, "Do you drink much these days?")
	if len(revealed) != 1 || revealed[0] != "asked_about_alcohol" {
		t.Fatalf("Expected alcohol history revealed, got %v", revealed)
	}
	if !sess.HasRevealed("asked_about_alcohol") {
		t.Errorf("Expected item in revealed set")
	}

	// Asking again reveals nothing new.
	revealed = RevealHistoryFromInput(sc, sess, "Tell me about your alcohol use.")
	if len(revealed) != 0 {
		t.Errorf("Expected no duplicate reveal, got %v", revealed)
	}
}

func TestLockSessionSerializes(t *testing.T) {
	eng := New(&memActionLog{}, &memPending{}, logger.NewLogger())

	unlock := eng.LockSession("s1")
	acquired := make(chan struct{})
	go func() {
		u := eng.LockSession("s1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("Second lock acquired while first still held")
	default:
	}

	unlock()
	<-acquired
}
