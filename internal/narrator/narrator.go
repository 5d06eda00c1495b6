// Package narrator is the LLM-backed game-master layer: it parses
// free-text commands, voices the patient and staff, narrates events, and
// writes the end-of-case debrief. Every call degrades to a scripted
// fallback when no provider is configured, so the simulation itself never
// depends on LLM availability.
package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/ai"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/metrics"
)

// NarrationResult is one game-master response.
type NarrationResult struct {
	Narrative       string   `json:"narrative"`
	RevealedHistory []string `json:"revealed_history,omitempty"`
}

// Narrator wraps an LLM provider for in-character narration.
type Narrator struct {
	provider ai.LLMProvider
	logger   *logger.Logger
}

// New creates a narrator. The provider may be nil; all methods then use
// their scripted fallbacks.
func New(provider ai.LLMProvider, log *logger.Logger) *Narrator {
	return &Narrator{provider: provider, logger: log}
}

// Narrate produces the game-master response for one exchange: the
// operator's input (may be empty), plus any events and results that
// surfaced this pass. Returns the narrative and any scored history item
// ids the model says were revealed.
func (n *Narrator) Narrate(ctx context.Context, sc *scenario.Scenario, sess *session.Session, userInput string, inputType InputType, events []engine.FiredEvent, delivered []session.DeliveredResult) NarrationResult {
	if n.provider == nil || !n.provider.IsAvailable() {
		return fallbackNarration(sc, userInput, inputType, events)
	}

	system := buildSystemPrompt(sc, sess) + `

Respond ONLY with a JSON object: {"narrative": "...", "revealed_history": ["item_id", ...]}.
revealed_history lists the ids of scored history items the patient disclosed in this exchange; omit or leave empty when none.`

	req := ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: buildUserMessage(userInput, inputType, events, delivered)},
		},
		MaxTokens:   1024,
		Temperature: 0.7,
		ForceJSON:   true,
	}

	resp, err := n.provider.Complete(ctx, req)
	if err != nil {
		n.logger.Warn(fmt.Sprintf("Narration LLM failed, using fallback: %v", err))
		metrics.Get().RecordLLMFallback()
		return fallbackNarration(sc, userInput, inputType, events)
	}

	var result NarrationResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		// Not valid JSON; use the raw text as narrative rather than lose it.
		return NarrationResult{Narrative: strings.TrimSpace(resp.Content)}
	}
	if result.Narrative == "" {
		return fallbackNarration(sc, userInput, inputType, events)
	}
	return result
}

// OpeningNarration narrates the initial presentation at session start.
func (n *Narrator) OpeningNarration(ctx context.Context, sc *scenario.Scenario, sess *session.Session, opening []engine.FiredEvent) string {
	result := n.Narrate(ctx, sc, sess, "", InputEventNarration, opening, nil)
	return result.Narrative
}

// Debrief writes the end-of-case educational summary from the final state
// and the rubric result.
func (n *Narrator) Debrief(ctx context.Context, sc *scenario.Scenario, sess *session.Session, score engine.ScoreResult) string {
	if n.provider == nil || !n.provider.IsAvailable() {
		return fallbackDebrief(sc, score)
	}

	system := fmt.Sprintf(`You are generating an end-of-game debrief for a medical simulation.
The user played as an emergency department doctor managing a patient case.
Write a concise narrative summary (3-5 paragraphs) that:
1. Summarizes what happened during the case
2. Highlights what the doctor did well
3. Notes critical actions that were missed
4. Provides educational takeaways
Be direct and educational. Use a professional but encouraging tone.

SCENARIO: %s
PATIENT: %s, %d%s`,
		sc.Title, sc.Patient.Name, sc.Patient.Age, sc.Patient.Sex)

	treatments := make([]string, 0, len(sess.ActiveTreatments))
	for _, t := range sess.ActiveTreatments {
		treatments = append(treatments, t.Key)
	}
	treatmentList := "None"
	if len(treatments) > 0 {
		treatmentList = strings.Join(treatments, ", ")
	}
	revealed := "None"
	if len(sess.RevealedHistory) > 0 {
		revealed = strings.Join(sess.RevealedHistory, ", ")
	}

	user := fmt.Sprintf(`FINAL GAME STATE:
- Sim Time Elapsed: %d minutes
- Condition States: %s
- Active Treatments: %s
- History Items Explored: %s

SCORE: %d/%d (%d%%)

DETAILED BREAKDOWN:
%s

Generate the narrative debrief.`,
		sess.SimTime,
		conditionSummary(sc, sess),
		treatmentList,
		revealed,
		score.TotalScore, score.MaxScore, score.Percentage,
		formatBreakdown(score),
	)

	resp, err := n.provider.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   2048,
		Temperature: 0.7,
	})
	if err != nil {
		n.logger.Warn(fmt.Sprintf("Debrief LLM failed, using fallback: %v", err))
		metrics.Get().RecordLLMFallback()
		return fallbackDebrief(sc, score)
	}
	return strings.TrimSpace(resp.Content)
}

// formatBreakdown renders the rubric line by line for the debrief prompt
// and the scripted fallback.
func formatBreakdown(score engine.ScoreResult) string {
	var b strings.Builder
	for _, cs := range score.Conditions {
		fmt.Fprintf(&b, "%s: %d/%d\n", cs.ConditionName, cs.EarnedPoints, cs.MaxPoints)
		for _, cr := range cs.Criteria {
			mark := "MISSED"
			if cr.Earned {
				mark = "DONE"
			}
			fmt.Fprintf(&b, "  [%s] %s (%d pts)\n", mark, cr.Label, cr.MaxPoints)
		}
	}
	if score.History.MaxPoints > 0 {
		fmt.Fprintf(&b, "History taking: %d/%d\n", score.History.EarnedPoints, score.History.MaxPoints)
		for _, item := range score.History.Items {
			mark := "MISSED"
			if item.Earned {
				mark = "DONE"
			}
			fmt.Fprintf(&b, "  [%s] %s\n", mark, item.Label)
		}
	}
	return b.String()
}

func fallbackNarration(sc *scenario.Scenario, userInput string, inputType InputType, events []engine.FiredEvent) NarrationResult {
	if len(events) > 0 {
		lines := make([]string, len(events))
		for i, e := range events {
			lines[i] = e.Event.Facts
		}
		return NarrationResult{Narrative: strings.Join(lines, " ")}
	}

	switch inputType {
	case InputPatientQuestion, InputAmbiguous:
		return NarrationResult{Narrative: fmt.Sprintf("%s looks at you but doesn't offer much.", sc.Patient.Name)}
	case InputPhysicalExam:
		if finding, ok := sc.Patient.ExamFindings[strings.ToLower(userInput)]; ok {
			return NarrationResult{Narrative: finding}
		}
		return NarrationResult{Narrative: "Nothing remarkable on that exam."}
	}
	return NarrationResult{Narrative: "The nurse nods and notes your order."}
}

func fallbackDebrief(sc *scenario.Scenario, score engine.ScoreResult) string {
	return fmt.Sprintf("Case complete: %s.\n\nFinal score: %d/%d (%d%%).\n\n%s",
		sc.Title, score.TotalScore, score.MaxScore, score.Percentage, formatBreakdown(score))
}
