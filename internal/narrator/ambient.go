package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/ai"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
)

// AmbientCategory selects the voice of an ambient message.
type AmbientCategory string

const (
	AmbientPatient AmbientCategory = "patient"
	AmbientNurse   AmbientCategory = "nurse"
	AmbientRoom    AmbientCategory = "room"
)

// AmbientMessage is one piece of background atmosphere.
type AmbientMessage struct {
	Role    session.LogRole `json:"role"`
	Message string          `json:"message"`
}

// quietStates are the condition states in which ambient chatter is more
// likely, since nothing urgent is competing for attention.
var quietStates = []string{"treated", "resolved", "supplemented", "workup", "resolving", "responding"}

// minAmbientGapSimMinutes and minAmbientGapRealSeconds pace ambient
// messages so they never crowd the transcript.
const (
	minAmbientGapSimMinutes  = 5
	minAmbientGapRealSeconds = 20
)

// Ambient generates background atmosphere between meaningful passes.
type Ambient struct {
	provider ai.LLMProvider
	logger   *logger.Logger
	rng      *rand.Rand
	enabled  bool
}

// NewAmbient creates an ambient generator.
func NewAmbient(provider ai.LLMProvider, log *logger.Logger, rng *rand.Rand, enabled bool) *Ambient {
	return &Ambient{provider: provider, logger: log, rng: rng, enabled: enabled}
}

// ShouldGenerate gates ambient generation for one pass. Ambient never
// fires alongside events or results, requires five sim-minutes and twenty
// real seconds since the last one, then passes a probability check that
// is stricter while any condition is deteriorating.
func (a *Ambient) ShouldGenerate(sess *session.Session, now time.Time, hasEvents, hasResults bool) bool {
	if !a.enabled || hasEvents || hasResults {
		return false
	}
	if sess.SimTime-sess.LastAmbientSim < minAmbientGapSimMinutes {
		return false
	}
	if now.Sub(sess.LastTickReal).Seconds() < minAmbientGapRealSeconds {
		return false
	}

	quiet := true
	for _, state := range sess.ConditionStates {
		if !containsState(quietStates, state) {
			quiet = false
			break
		}
	}
	probability := 0.3
	if quiet {
		probability = 0.5
	}
	return a.rng.Float64() < probability
}

// PickCategory selects a weighted random voice:
// patient 40%, nurse 35%, room 25%.
func (a *Ambient) PickCategory() AmbientCategory {
	r := a.rng.Float64()
	switch {
	case r < 0.40:
		return AmbientPatient
	case r < 0.75:
		return AmbientNurse
	default:
		return AmbientRoom
	}
}

// Generate produces one short ambient message, or nil when the provider is
// unavailable or fails. Ambient is pure flavor, so errors are swallowed
// after logging.
func (a *Ambient) Generate(ctx context.Context, sc *scenario.Scenario, sess *session.Session, category AmbientCategory, recent []string) *AmbientMessage {
	if a.provider == nil || !a.provider.IsAvailable() {
		return nil
	}

	p := sc.Patient
	treatments := make([]string, 0, len(sess.ActiveTreatments))
	for _, t := range sess.ActiveTreatments {
		treatments = append(treatments, t.Key)
	}
	treatmentList := "None"
	if len(treatments) > 0 {
		treatmentList = strings.Join(treatments, ", ")
	}

	recentList := ""
	if len(recent) > 0 {
		lines := make([]string, len(recent))
		for i, m := range recent {
			lines[i] = fmt.Sprintf("- %q", m)
		}
		recentList = "\nRECENT AMBIENT MESSAGES (do NOT repeat these):\n" + strings.Join(lines, "\n")
	}

	system := fmt.Sprintf(`You generate brief ambient atmosphere for a medical simulation.
Patient: %s, %d%s, %q. Personality: %s
Conditions: %s
Vitals: %s
Active treatments: %s
Time: %s
%s
RULES: One sentence max. 15 words max. Never suggest diagnosis or treatment. Stay in character. Vary tone.
Respond ONLY with a JSON object: {"message": "..."}.`,
		p.Name, p.Age, p.Sex, p.ChiefComplaint, p.Personality,
		conditionSummary(sc, sess),
		sess.Vitals.Format(),
		treatmentList,
		engine.FormatSimTime(sess.SimTime),
		recentList,
	)

	userPrompts := map[AmbientCategory]string{
		AmbientPatient: "Generate a brief patient ambient action or utterance - groaning, shifting, mumbling, asking for water, dozing, etc.",
		AmbientNurse:   "Generate a brief nurse ambient action or remark - checking IV, adjusting monitor, charting, commenting.",
		AmbientRoom:    "Generate a brief ambient room observation - monitor beeps, hallway sounds, PA announcements, curtain movement.",
	}

	resp, err := a.provider.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userPrompts[category]},
		},
		MaxTokens: 100,
		ForceJSON: true,
	})
	if err != nil {
		a.logger.Warn("Ambient generation failed: " + err.Error())
		return nil
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &payload); err != nil || payload.Message == "" {
		return nil
	}

	role := session.RoleNarrator
	switch category {
	case AmbientPatient:
		role = session.RolePatient
	case AmbientNurse:
		role = session.RoleNurse
	}
	return &AmbientMessage{Role: role, Message: payload.Message}
}

func containsState(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
