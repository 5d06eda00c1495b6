package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/metrics"
)

// PendingResults is the store-side contract for scheduled results.
// MarkDelivered must be an atomic compare-and-set from not-delivered to
// delivered: it returns false when another request already claimed the row.
type PendingResults interface {
	ResultScheduler
	DueBy(ctx context.Context, sessionID string, simTime int) ([]session.PendingResult, error)
	MarkDelivered(ctx context.Context, id int64) (bool, error)
}

// Pass is the working context of one evaluation cycle over a session.
// The engine owns the session exclusively for the duration of the pass.
type Pass struct {
	Scenario *scenario.Scenario
	Session  *session.Session

	Transitions  []TransitionResult
	FiredEvents  []FiredEvent
	Delivered    []session.DeliveredResult
	Messages     []string
	Alerts       []string
	CappedByIdle bool
}

// Engine wires the evaluators to the stores. It performs no I/O retries
// and no internal cancellation: an invoked pass always runs to completion,
// and store failures propagate to the caller.
type Engine struct {
	pending  PendingResults
	executor *Executor
	noise    *NoiseGenerator
	locks    *sessionLocks
	logger   *logger.Logger
}

// New creates an engine around the given stores.
func New(actions ActionLog, pending PendingResults, log *logger.Logger) *Engine {
	return &Engine{
		pending:  pending,
		executor: NewExecutor(actions, pending, log),
		noise:    NewNoiseGenerator(rand.New(rand.NewSource(time.Now().UnixNano()))),
		locks:    newSessionLocks(),
		logger:   log,
	}
}

// LockSession serializes request handling per session. Callers must hold
// the lock across load, evaluation, and save; concurrent ticks on the
// same session would otherwise race on the read-modify-write.
func (e *Engine) LockSession(sessionID string) (unlock func()) {
	return e.locks.lock(sessionID)
}

// Advance brings the session's sim-time current and runs the full
// time-based pass: condition transitions, pending-result delivery, and
// event firing, in that order. It mutates the session in place; the
// caller persists the updated record and the new tick timestamp together.
func (e *Engine) Advance(ctx context.Context, sc *scenario.Scenario, sess *session.Session, now time.Time) (*Pass, error) {
	started := time.Now()
	pass := &Pass{Scenario: sc, Session: sess}

	clock := AdvanceClock(sess.LastTickReal, sess.SimTime, sess.TimeScale, now)
	sess.SimTime = clock.SimTime
	pass.CappedByIdle = clock.CappedByIdle

	// 1. Time-based condition transitions.
	transitions := EvaluateTimeTransitions(sc, sess, sess.SimTime)
	ApplyTransitions(sess, transitions)
	pass.Transitions = transitions
	for _, tr := range transitions {
		e.logger.Event("CONDITION_TRANSITION", sess.ID,
			fmt.Sprintf("%s: %s -> %s (time)", tr.ConditionID, tr.From, tr.To))
	}

	// 2. Deliver pending results that are now available. Delivery is a
	// compare-and-set per row; a row claimed by a concurrent sweep is
	// skipped, so no result is ever delivered twice.
	due, err := e.pending.DueBy(ctx, sess.ID, sess.SimTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending results: %w", err)
	}

	var consultResponses []string
	for _, pr := range due {
		claimed, err := e.pending.MarkDelivered(ctx, pr.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark result delivered: %w", err)
		}
		if !claimed {
			continue
		}

		switch pr.Type {
		case session.ResultLab:
			pass.Delivered = append(pass.Delivered, session.DeliveredResult{
				Type: session.ResultLab, Key: pr.Key, Data: pr.Data,
			})
			pass.Messages = append(pass.Messages, formatLabResult(pr.Key, pr.Data))
		case session.ResultConsult:
			pass.Delivered = append(pass.Delivered, session.DeliveredResult{
				Type: session.ResultConsult, Key: pr.Key, Data: pr.Data,
			})
			consultResponses = append(consultResponses, pr.Key)
		}
	}

	// 3. Scripted events against the updated state.
	fired := EvaluateEvents(sc, sess, sess.SimTime, consultResponses)
	pass.Alerts = ApplyFiredEvents(sess, fired)
	pass.FiredEvents = fired
	for _, f := range fired {
		e.logger.Event("EVENT_FIRED", sess.ID, f.Event.ID)
	}

	metrics.Get().RecordTick(time.Since(started))
	return pass, nil
}

// ExecuteAction applies one structured operator action to the pass.
func (e *Engine) ExecuteAction(ctx context.Context, act session.Action, pass *Pass) ([]string, error) {
	return e.executor.Execute(ctx, act, pass)
}

// Score computes the rubric result for a finished session.
func (e *Engine) Score(sc *scenario.Scenario, sess *session.Session, actions []session.ActionRecord) ScoreResult {
	return Score(sc, sess, actions)
}

// DisplayVitals returns the noise-adjusted vitals for presentation.
// Persisted vitals are never modified.
func (e *Engine) DisplayVitals(sess *session.Session) scenario.Vitals {
	return e.noise.Display(sess.Vitals, sess.ConditionStates)
}

// RevealHistoryFromInput matches operator free text against scenario
// history-item keywords and adds hits to the revealed set. Returns the
// newly revealed item ids.
func RevealHistoryFromInput(sc *scenario.Scenario, sess *session.Session, input string) []string {
	var revealed []string
	lower := strings.ToLower(input)
	for _, item := range sc.HistoryItems {
		if sess.HasRevealed(item.ID) {
			continue
		}
		for _, kw := range item.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				sess.Reveal(item.ID)
				revealed = append(revealed, item.ID)
				break
			}
		}
	}
	return revealed
}

func formatLabResult(key string, data map[string]string) string {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + data[n]
	}
	return fmt.Sprintf("Lab Results — %s: %s", key, strings.Join(parts, ", "))
}
