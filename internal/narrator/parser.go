package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/ai"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/metrics"
)

// InputType classifies an operator command for narration routing.
type InputType string

const (
	InputPatientQuestion InputType = "patient_question"
	InputPhysicalExam    InputType = "physical_exam"
	InputOrder           InputType = "order"
	InputEventNarration  InputType = "event_narration"
	InputAmbiguous       InputType = "ambiguous"
)

// ParseResult is the structured reading of one free-text command.
type ParseResult struct {
	Actions        []session.Action `json:"actions"`
	InputType      InputType        `json:"input_type"`
	NeedsNarration bool             `json:"needs_narration"`
}

// Parser turns free-text operator input into structured actions using a
// cheap LLM call, falling back to keyword rules when no provider is
// available or the response cannot be used.
type Parser struct {
	provider ai.LLMProvider
	logger   *logger.Logger
}

// NewParser creates a command parser.
func NewParser(provider ai.LLMProvider, log *logger.Logger) *Parser {
	return &Parser{provider: provider, logger: log}
}

// Parse interprets one command in the context of the scenario's catalogs.
func (p *Parser) Parse(ctx context.Context, input string, sc *scenario.Scenario) ParseResult {
	if p.provider == nil || !p.provider.IsAvailable() {
		return ruleParse(input, sc)
	}

	req := ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: buildParseSystemPrompt(sc)},
			{Role: "user", Content: input},
		},
		MaxTokens: 1024,
		ForceJSON: true,
	}

	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		p.logger.Warn(fmt.Sprintf("Command parse LLM failed, using rules: %v", err))
		metrics.Get().RecordLLMFallback()
		return ruleParse(input, sc)
	}

	var result ParseResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		p.logger.Warn("Failed to decode parser response: " + err.Error())
		metrics.Get().RecordLLMFallback()
		return ruleParse(input, sc)
	}
	if len(result.Actions) == 0 {
		return ambiguousResult(input)
	}
	if !validInputType(result.InputType) {
		result.InputType = InputAmbiguous
	}
	return result
}

func validInputType(t InputType) bool {
	switch t {
	case InputPatientQuestion, InputPhysicalExam, InputOrder, InputAmbiguous:
		return true
	}
	return false
}

// ambiguousResult is the universal fallback: route the raw text to the
// patient and let the narrator make sense of it.
func ambiguousResult(input string) ParseResult {
	return ParseResult{
		Actions:        []session.Action{{Type: session.ActionAskPatient, Key: input}},
		InputType:      InputAmbiguous,
		NeedsNarration: true,
	}
}

// ruleParse is the offline keyword parser. It handles the common
// single-action phrasings; anything it cannot place becomes ask_patient.
func ruleParse(input string, sc *scenario.Scenario) ParseResult {
	lower := strings.ToLower(strings.TrimSpace(input))

	switch {
	case lower == "check vitals" || lower == "vitals" || strings.Contains(lower, "vital signs"):
		return ParseResult{
			Actions:   []session.Action{{Type: session.ActionCheckVitals}},
			InputType: InputOrder,
		}
	case strings.HasPrefix(lower, "wait"):
		minutes := strings.TrimSpace(strings.TrimPrefix(lower, "wait"))
		minutes = strings.TrimSuffix(minutes, "minutes")
		minutes = strings.TrimSuffix(minutes, "min")
		return ParseResult{
			Actions:   []session.Action{{Type: session.ActionWait, Key: strings.TrimSpace(minutes)}},
			InputType: InputOrder,
		}
	case strings.Contains(lower, "review orders") || strings.Contains(lower, "my orders"):
		return ParseResult{
			Actions:   []session.Action{{Type: session.ActionReviewOrders}},
			InputType: InputOrder,
		}
	case strings.Contains(lower, "end game") || strings.Contains(lower, "end the case") || strings.Contains(lower, "sign out"):
		return ParseResult{
			Actions:   []session.Action{{Type: session.ActionEndGame}},
			InputType: InputOrder,
		}
	case strings.HasPrefix(lower, "examine") || strings.HasPrefix(lower, "exam "):
		system := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(lower, "examine"), "exam"))
		system = strings.TrimPrefix(system, "the ")
		if system == "" {
			system = "general"
		}
		return ParseResult{
			Actions:        []session.Action{{Type: session.ActionPhysicalExam, Key: system}},
			InputType:      InputPhysicalExam,
			NeedsNarration: true,
		}
	}

	// Catalog key mentions: labs, consults, procedures, known treatments.
	if act, ok := matchCatalog(lower, sc); ok {
		return ParseResult{Actions: []session.Action{act}, InputType: InputOrder}
	}

	return ambiguousResult(input)
}

func matchCatalog(lower string, sc *scenario.Scenario) (session.Action, bool) {
	for key := range sc.Labs {
		if strings.Contains(lower, strings.ToLower(key)) {
			return session.Action{Type: session.ActionOrderLab, Key: key}, true
		}
	}
	for key := range sc.Procedures {
		if strings.Contains(lower, strings.ToLower(strings.ReplaceAll(key, "_", " "))) {
			return session.Action{Type: session.ActionProcedure, Key: key}, true
		}
	}
	for key := range sc.Consults {
		if strings.Contains(lower, strings.ToLower(key)) && strings.Contains(lower, "consult") {
			return session.Action{Type: session.ActionConsult, Key: key}, true
		}
	}
	for key, name := range sc.TreatmentNames {
		if strings.Contains(lower, strings.ToLower(name)) || strings.Contains(lower, strings.ToLower(strings.ReplaceAll(key, "_", " "))) {
			if strings.Contains(lower, "stop") || strings.Contains(lower, "discontinue") || strings.Contains(lower, "hold") {
				return session.Action{Type: session.ActionStopTreatment, Key: key}, true
			}
			return session.Action{Type: session.ActionStartTreatment, Key: key}, true
		}
	}
	return session.Action{}, false
}

// extractJSON strips any prose the model wrapped around the JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
