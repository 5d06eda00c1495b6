// Command case-runner plays one scripted encounter against the full engine
// stack in process: an embedded case, real SQLite stores, and the offline
// command parser. Each checkpoint validates a stage of the playthrough; any
// failure exits nonzero, so the runner can gate a build without a running
// server or an LLM key.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/storage"
	"github.com/MedSimWorks/attending-sim/server/internal/narrator"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
)

const caseID = "etoh-lgib-dka"

type checkpoint struct {
	Name   string
	Passed bool
	Reason string
}

type runner struct {
	sc       *scenario.Scenario
	sess     *session.Session
	eng      *engine.Engine
	parser   *narrator.Parser
	sessions *storage.SQLiteSessionRepository
	actions  *storage.SQLiteActionRepository
	logger   *logger.Logger
	checks   []checkpoint
}

func main() {
	log := logger.NewLogger()
	ctx := context.Background()

	fmt.Println("CASE RUNNER: scripted playthrough of " + caseID)
	fmt.Println(strings.Repeat("=", 60))

	dir, err := os.MkdirTemp("", "case-runner-*")
	if err != nil {
		log.Error("Failed to create temp dir: " + err.Error())
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	db, err := storage.InitSQLite(filepath.Join(dir, "run.db"))
	if err != nil {
		log.Error("Failed to init database: " + err.Error())
		os.Exit(1)
	}
	defer db.Close()

	lib, err := scenario.LoadEmbedded()
	if err != nil {
		log.Error("Failed to load scenarios: " + err.Error())
		os.Exit(1)
	}
	sc := lib.Get(caseID)
	if sc == nil {
		log.Error("Embedded case not found: " + caseID)
		os.Exit(1)
	}

	actionRepo := storage.NewSQLiteActionRepository(db)
	pendingRepo := storage.NewSQLitePendingResultRepository(db)

	r := &runner{
		sc:       sc,
		sess:     session.New(uuid.NewString(), sc, 20, time.Now()),
		eng:      engine.New(actionRepo, pendingRepo, log),
		parser:   narrator.NewParser(nil, log),
		sessions: storage.NewSQLiteSessionRepository(db),
		actions:  actionRepo,
		logger:   log,
		checks:   []checkpoint{},
	}

	r.run(ctx)
	r.summarize()
}

func (r *runner) run(ctx context.Context) {
	// Opening events fire once at creation, before any command.
	var opening []engine.FiredEvent
	for i := range r.sc.Events {
		if r.sc.Events[i].Trigger.Kind == scenario.EventTriggerGameStart {
			opening = append(opening, engine.FiredEvent{
				Event:        &r.sc.Events[i],
				VitalsChange: r.sc.Events[i].VitalsChange,
			})
		}
	}
	engine.ApplyFiredEvents(r.sess, opening)
	r.check("opening events applied", r.sess.HasFired("initial_presentation"),
		"initial_presentation not in fired set")

	if err := r.sessions.Create(ctx, r.sess); err != nil {
		r.check("session persisted", false, err.Error())
		return
	}

	// History taking, then the initial workup at minute 0.
	r.command(ctx, "how much does he drink a day")
	r.check("alcohol history revealed", r.sess.HasRevealed("asked_about_alcohol"),
		"keyword match did not reveal the item")
	r.command(ctx, "order a cbc")
	r.command(ctx, "order a vbg")

	// Results come back while the clock runs.
	pass := r.tick(ctx, 35)
	r.check("labs delivered after turnaround", hasDelivered(pass, "CBC") && hasDelivered(pass, "VBG"),
		fmt.Sprintf("delivered: %+v", pass.Delivered))

	// Treat all three problems.
	r.command(ctx, "start the ppi")
	r.command(ctx, "give a ns bolus")
	r.command(ctx, "start an insulin drip")
	r.check("dka responding to insulin and fluids", r.sess.ConditionStates["dka"] == "responding",
		"dka state: "+r.sess.ConditionStates["dka"])
	r.command(ctx, "give thiamine high dose")
	r.check("withdrawal supplemented", r.sess.ConditionStates["withdrawal_risk"] == "supplemented",
		"withdrawal_risk state: "+r.sess.ConditionStates["withdrawal_risk"])
	r.command(ctx, "transfuse prbc transfusion")
	r.check("bleed responding to ppi and blood", r.sess.ConditionStates["gi_bleed"] == "responding",
		"gi_bleed state: "+r.sess.ConditionStates["gi_bleed"])

	// Consult comes back at minute 80 and triggers its callback event.
	r.command(ctx, "consult gi")
	pass = r.tick(ctx, 85)
	callback := false
	for _, f := range pass.FiredEvents {
		if f.Event.ID == "gi_callback" {
			callback = true
		}
	}
	r.check("gi callback fired on consult response", callback,
		fmt.Sprintf("fired events: %d, delivered: %+v", len(pass.FiredEvents), pass.Delivered))

	// Lavage resolves the bleed and costs its procedure time.
	r.command(ctx, "ng lavage")
	r.check("bleed resolved after lavage", r.sess.ConditionStates["gi_bleed"] == "resolved",
		"gi_bleed state: "+r.sess.ConditionStates["gi_bleed"])
	r.check("procedure advanced the clock", r.sess.SimTime == 105,
		fmt.Sprintf("sim time: %d", r.sess.SimTime))

	// Sign out and score.
	r.sess.Status = session.StatusCompleted
	if err := r.sessions.Save(ctx, r.sess); err != nil {
		r.check("final state persisted", false, err.Error())
		return
	}
	recorded, err := r.actions.ListBySession(ctx, r.sess.ID)
	if err != nil {
		r.check("action log readable", false, err.Error())
		return
	}
	score := r.eng.Score(r.sc, r.sess, recorded)
	r.check("rubric fully evaluated", score.TotalScore == 100 && score.MaxScore == 105,
		fmt.Sprintf("score %d/%d", score.TotalScore, score.MaxScore))
	r.check("percentage rounded", score.Percentage == 95,
		fmt.Sprintf("percentage %d", score.Percentage))
}

// command runs one free-text operator input through parse and execute with
// no wall-clock movement, the way an immediate request arrives.
func (r *runner) command(ctx context.Context, input string) {
	pass, err := r.eng.Advance(ctx, r.sc, r.sess, r.sess.LastTickReal)
	if err != nil {
		r.check("command: "+input, false, err.Error())
		return
	}
	engine.RevealHistoryFromInput(r.sc, r.sess, input)

	parsed := r.parser.Parse(ctx, input, r.sc)
	for _, act := range parsed.Actions {
		if act.Type == session.ActionAskPatient || act.Type == session.ActionPhysicalExam {
			continue
		}
		msgs, err := r.eng.ExecuteAction(ctx, act, pass)
		if err != nil {
			r.check("command: "+input, false, err.Error())
			return
		}
		for _, m := range msgs {
			fmt.Println("  > " + m)
		}
	}
}

// tick moves the wall clock far enough to land on the target sim-minute.
func (r *runner) tick(ctx context.Context, toSim int) *engine.Pass {
	elapsed := toSim - r.sess.SimTime
	now := r.sess.LastTickReal.Add(time.Duration(elapsed*60/r.sess.TimeScale) * time.Second)
	pass, err := r.eng.Advance(ctx, r.sc, r.sess, now)
	if err != nil {
		r.check(fmt.Sprintf("tick to %d", toSim), false, err.Error())
		return &engine.Pass{Scenario: r.sc, Session: r.sess}
	}
	r.sess.LastTickReal = now
	r.check(fmt.Sprintf("tick to %d", toSim), r.sess.SimTime == toSim,
		fmt.Sprintf("sim time: %d", r.sess.SimTime))
	return pass
}

func (r *runner) check(name string, ok bool, reason string) {
	cp := checkpoint{Name: name, Passed: ok}
	if !ok {
		cp.Reason = reason
	}
	r.checks = append(r.checks, cp)
}

func (r *runner) summarize() {
	passed, failed := 0, 0
	fmt.Println(strings.Repeat("=", 60))
	for _, cp := range r.checks {
		if cp.Passed {
			passed++
			fmt.Println("  PASS  " + cp.Name)
		} else {
			failed++
			fmt.Printf("  FAIL  %s (%s)\n", cp.Name, cp.Reason)
		}
	}
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		os.Exit(1)
	}
}

func hasDelivered(pass *engine.Pass, key string) bool {
	for _, d := range pass.Delivered {
		if d.Key == key {
			return true
		}
	}
	return false
}
