package narrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
)

// buildSystemPrompt assembles the game-master system prompt. Static
// scenario content goes first, dynamic session state after.
func buildSystemPrompt(sc *scenario.Scenario, sess *session.Session) string {
	return buildStaticPrompt(sc) + "\n\n---\n\n" + buildDynamicPrompt(sc, sess)
}

func buildStaticPrompt(sc *scenario.Scenario) string {
	p := sc.Patient

	var b strings.Builder
	fmt.Fprintf(&b, `You are the GAME MASTER for a medical simulation. You narrate the scenario, voice the patient, describe physical exam findings, and announce events. You are NOT the doctor - the user is the doctor.

SCENARIO: %s

PATIENT PROFILE:
- Name: %s, %d%s, Chief Complaint: %q
- Personality: %s
- Presenting narrative: %s

PATIENT HISTORY (reveal ONLY when asked by the user):
%s

PHYSICAL EXAM FINDINGS (describe naturally when user examines):
%s

RULES:
1. Stay in character. You narrate in third person. Patient speaks in first person when addressed.
2. NEVER suggest diagnoses or treatments. The user must figure it out.
3. NEVER reveal information the user hasn't asked for. Don't volunteer history.
4. When the patient speaks, be realistic - he may be vague, uncomfortable, or guarded.
5. Physical exam findings should be described naturally, not as a bullet list.
6. For dramatic events (vitals crash, patient deteriorating), be vivid but concise.
7. Keep responses SHORT - 2-4 sentences for most interactions. Only longer for complex exams or dramatic moments.
8. If the user says something medically nonsensical, have the nurse or patient react realistically.`,
		sc.Title,
		p.Name, p.Age, p.Sex, p.ChiefComplaint,
		p.Personality,
		p.PresentingNarrative,
		formatPairs(p.History),
		formatPairs(p.ExamFindings),
	)
	return b.String()
}

func buildDynamicPrompt(sc *scenario.Scenario, sess *session.Session) string {
	treatments := make([]string, 0, len(sess.ActiveTreatments))
	for _, t := range sess.ActiveTreatments {
		treatments = append(treatments, fmt.Sprintf("%s (started at %s)", t.Key, engine.FormatSimTime(t.StartedAtSim)))
	}
	treatmentList := "None"
	if len(treatments) > 0 {
		treatmentList = strings.Join(treatments, ", ")
	}

	revealed := "None yet"
	if len(sess.RevealedHistory) > 0 {
		revealed = strings.Join(sess.RevealedHistory, ", ")
	}

	return fmt.Sprintf(`CURRENT GAME STATE:
- Sim Time: %s (%d min elapsed)
- Vitals: %s
- Active Treatments: %s
- Condition States: %s
- History Revealed: %s`,
		engine.FormatSimTime(sess.SimTime), sess.SimTime,
		sess.Vitals.Format(),
		treatmentList,
		conditionSummary(sc, sess),
		revealed,
	)
}

// buildUserMessage composes the game-master user turn from the events and
// results of the current pass plus the operator's input.
func buildUserMessage(userInput string, inputType InputType, events []engine.FiredEvent, delivered []session.DeliveredResult) string {
	var parts []string

	if len(events) > 0 {
		lines := []string{"EVENTS THAT JUST OCCURRED (narrate these):"}
		for _, e := range events {
			lines = append(lines, "- "+e.Event.Facts)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(delivered) > 0 {
		lines := []string{"RESULTS JUST DELIVERED:"}
		for _, r := range delivered {
			lines = append(lines, fmt.Sprintf("- %s: %s - %s", r.Type, r.Key, formatInline(r.Data)))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if userInput != "" {
		switch inputType {
		case InputPatientQuestion:
			parts = append(parts, fmt.Sprintf("THE DOCTOR ASKS THE PATIENT: %q\n\nRespond as the patient, in character. Only reveal what the patient would actually know and share.", userInput))
		case InputPhysicalExam:
			parts = append(parts, fmt.Sprintf("THE DOCTOR PERFORMS AN EXAMINATION: %q\n\nDescribe the findings naturally and concisely.", userInput))
		case InputEventNarration:
			parts = append(parts, "Narrate the events above dramatically but concisely.")
		default:
			parts = append(parts, fmt.Sprintf("THE DOCTOR SAYS: %q\n\nRespond appropriately in the context of this medical scenario.", userInput))
		}
	} else if len(events) > 0 {
		parts = append(parts, "Narrate these events concisely and dramatically.")
	}

	return strings.Join(parts, "\n\n")
}

// buildParseSystemPrompt builds the command-parser system prompt from the
// scenario's catalogs so the model only emits keys that exist.
func buildParseSystemPrompt(sc *scenario.Scenario) string {
	treatmentList := "NS_bolus (normal saline bolus)"
	if len(sc.TreatmentNames) > 0 {
		pairs := make([]string, 0, len(sc.TreatmentNames))
		for k, v := range sc.TreatmentNames {
			pairs = append(pairs, fmt.Sprintf("%s (%s)", k, v))
		}
		sort.Strings(pairs)
		treatmentList = strings.Join(pairs, ", ")
	}

	return fmt.Sprintf(`You are a medical command parser for a simulation game. Parse the doctor's free-text input into structured actions. Respond ONLY with a JSON object: {"actions": [{"type": "...", "key": "...", "details": {}}], "input_type": "...", "needs_narration": true/false}.

AVAILABLE ACTIONS:
- order_lab: Order a lab test. Keys: %s
- start_treatment: Start a treatment. Keys: %s
- stop_treatment: Stop a treatment.
- consult: Request a specialist consult. Keys: %s
- check_vitals: Check current vital signs.
- physical_exam: Perform a physical exam on a body system.
- procedure: Perform a procedure. Keys: %s
- ask_patient: Ask the patient a question.
- wait: Wait/skip time. Key is the number of minutes.
- review_orders: Review current active orders and treatments.
- end_game: End the simulation.

INPUT TYPES: patient_question, physical_exam, order, ambiguous.

RULES:
- A single input may map to MULTIPLE actions (e.g., "order CBC, BMP, and start antibiotics" = 3 actions)
- For ambiguous inputs, pick the most likely action
- "Talk to patient" or any direct question -> ask_patient
- "Examine the abdomen" -> physical_exam with the body system as key
- "Order labs" without specifics -> ask_patient (doctor needs to be specific)
- "Check on the patient" -> check_vitals + physical_exam:general
- needs_narration is true for patient questions, exams, and ambiguous inputs`,
		strings.Join(sortedKeys(sc.Labs), ", "),
		treatmentList,
		strings.Join(sortedKeys(sc.Consults), ", "),
		strings.Join(sortedKeys(sc.Procedures), ", "),
	)
}

func conditionSummary(sc *scenario.Scenario, sess *session.Session) string {
	parts := make([]string, 0, len(sc.Conditions))
	for i := range sc.Conditions {
		cond := &sc.Conditions[i]
		parts = append(parts, fmt.Sprintf("%s: %s", cond.Name, sess.ConditionStates[cond.ID]))
	}
	return strings.Join(parts, ", ")
}

func formatPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("- %s: %s", k, m[k])
	}
	return strings.Join(lines, "\n")
}

func formatInline(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + m[k]
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
