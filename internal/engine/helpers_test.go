package engine

import (
	"context"
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

// testScenario builds a small two-condition case exercising every trigger
// kind.
func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:    "test-case",
		Title: "Test Case",
		Patient: scenario.PatientFacts{
			Name: "Pat Doe", Age: 58, Sex: "M",
			ChiefComplaint: "abdominal pain",
			InitialVitals: scenario.Vitals{
				HeartRate: 104,
				BP:        scenario.BloodPressure{Systolic: 118, Diastolic: 76},
				RespRate:  18,
				Temp:      37.2,
				SpO2:      97,
			},
		},
		TreatmentNames: map[string]string{
			"PPI":  "IV pantoprazole",
			"prbc": "pRBC transfusion",
		},
		Labs: map[string]scenario.LabDefinition{
			"CBC": {
				Values:            map[string]string{"Hgb": "7.2", "WBC": "12.4"},
				TurnaroundMinutes: 30,
			},
			"BMP": {
				Values:            map[string]string{"Na": "131", "K": "5.4"},
				TurnaroundMinutes: 25,
			},
		},
		LabsOverTime: map[string][]scenario.LabOverTime{
			"CBC": {
				{AfterMinutes: 60, IfTreated: false, Values: map[string]string{"Hgb": "6.1", "WBC": "13.0"}},
				{AfterMinutes: 60, IfTreated: true, Values: map[string]string{"Hgb": "8.0", "WBC": "11.2"}},
			},
		},
		Consults: map[string]scenario.ConsultDefinition{
			"GI": {ResponseDelayMinutes: 45, Outcome: "GI fellow recommends urgent endoscopy."},
		},
		Procedures: map[string]scenario.ProcedureDefinition{
			"NG_lavage": {DurationMinutes: 15, Outcome: "Coffee-ground material returns."},
		},
		Conditions: []scenario.ConditionDefinition{
			{
				ID: "bleed", Name: "GI Bleed", InitialState: "presenting",
				States: []string{"presenting", "worsening", "critical", "responding", "resolved"},
				Transitions: []scenario.Transition{
					{
						From: []string{"presenting"}, To: "responding",
						Trigger: scenario.Trigger{
							Kind:    scenario.TriggerAllActions,
							Actions: []string{"start_treatment:PPI", "start_treatment:prbc"},
						},
					},
					{
						From: []string{"presenting"}, To: "worsening",
						Trigger: scenario.Trigger{Kind: scenario.TriggerTimeElapsed, AfterMinutes: 60},
					},
					{
						From: []string{"worsening"}, To: "critical",
						Trigger: scenario.Trigger{Kind: scenario.TriggerTimeElapsedInState, AfterMinutes: 90},
					},
					{
						From: []string{"responding"}, To: "resolved",
						Trigger: scenario.Trigger{Kind: scenario.TriggerProcedureCompleted, Procedure: "NG_lavage"},
					},
				},
				Scoring: scenario.Rubric{
					MaxPoints: 25,
					Criteria: []scenario.Criterion{
						{Kind: scenario.CriterionActionTaken, Label: "Started PPI", Points: 10, Action: "start_treatment:PPI"},
						{Kind: scenario.CriterionActionTakenWithin, Label: "Transfused within 30 min", Points: 10, Action: "start_treatment:prbc", WithinMinutes: 30},
						{Kind: scenario.CriterionStateAvoided, Label: "Avoided decompensation", Points: 5, State: "critical"},
					},
				},
			},
			{
				ID: "dka", Name: "DKA", InitialState: "presenting",
				States: []string{"presenting", "treated"},
				Transitions: []scenario.Transition{
					{
						From: []string{"presenting"}, To: "treated",
						Trigger: scenario.Trigger{Kind: scenario.TriggerActionTaken, Actions: []string{"start_treatment:insulin"}},
					},
				},
				Scoring: scenario.Rubric{
					MaxPoints: 10,
					Criteria: []scenario.Criterion{
						{Kind: scenario.CriterionActionTaken, Label: "Started insulin", Points: 10, Action: "start_treatment:insulin"},
					},
				},
			},
		},
		Events: []scenario.GameEvent{
			{
				ID:      "opening",
				Trigger: scenario.EventTrigger{Kind: scenario.EventTriggerGameStart},
				Facts:   "The patient arrives pale and tachycardic.",
			},
			{
				ID:      "melena",
				Trigger: scenario.EventTrigger{Kind: scenario.EventTriggerTimeElapsed, AtMinute: 90},
				Facts:   "A large melanotic stool soaks the sheets.",
			},
			{
				ID: "crash",
				Trigger: scenario.EventTrigger{
					Kind: scenario.EventTriggerConditionInState, Condition: "bleed", State: "critical", AfterMinutes: 120,
				},
				Facts:            "The patient becomes unresponsive.",
				VitalsChange:     &scenario.VitalsDelta{},
				RequiredResponse: &scenario.RequiredResponse{Actions: []string{"start_treatment:prbc"}, WindowMinutes: 15},
			},
			{
				ID: "gi_callback",
				Trigger: scenario.EventTrigger{
					Kind: scenario.EventTriggerConsultResponse, Consult: "GI",
				},
				Facts: "The GI fellow calls back.",
			},
		},
		HistoryItems: []scenario.ScoredHistoryItem{
			{ID: "asked_about_alcohol", Label: "Asked about alcohol use", Keywords: []string{"alcohol", "drink"}, Points: 5},
		},
	}
}

func testSession(sc *scenario.Scenario) *session.Session {
	return session.New("sess-1", sc, 20, time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
}

// memActionLog is an in-memory ActionLog.
type memActionLog struct {
	recs []session.ActionRecord
}

func (m *memActionLog) Append(_ context.Context, rec session.ActionRecord) error {
	rec.ID = int64(len(m.recs) + 1)
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memActionLog) ListBySession(_ context.Context, sessionID string) ([]session.ActionRecord, error) {
	var out []session.ActionRecord
	for _, r := range m.recs {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// memPending is an in-memory PendingResults store with CAS delivery.
type memPending struct {
	rows []session.PendingResult
}

func (m *memPending) Schedule(_ context.Context, pr session.PendingResult) error {
	pr.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, pr)
	return nil
}

func (m *memPending) DueBy(_ context.Context, sessionID string, simTime int) ([]session.PendingResult, error) {
	var due []session.PendingResult
	for _, r := range m.rows {
		if r.SessionID == sessionID && !r.Delivered && r.AvailableAtSim <= simTime {
			due = append(due, r)
		}
	}
	return due, nil
}

func (m *memPending) MarkDelivered(_ context.Context, id int64) (bool, error) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			if m.rows[i].Delivered {
				return false, nil
			}
			m.rows[i].Delivered = true
			return true, nil
		}
	}
	return false, nil
}
