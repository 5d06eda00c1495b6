package scenario

import (
	"strings"
	"testing"
)

const baseCaseYAML = `
id: demo-case
title: Demo Case
patient:
  name: Pat Doe
  age: 58
  sex: M
  chief_complaint: abdominal pain
  initial_vitals:
    hr: 104
    bp: 118/76
    rr: 18
    temp: 37.2
    spo2: 97
labs:
  CBC:
    values:
      Hgb: "7.2"
    turnaround_minutes: 30
consults:
  GI:
    response_delay_minutes: 45
    outcome: Recommends endoscopy.
procedures:
  NG_lavage:
    duration_minutes: 15
    outcome: Coffee-ground return.
conditions:
  - id: bleed
    name: GI Bleed
    initial_state: presenting
    states: [presenting, worsening, resolved]
    transitions:
      - from: [presenting]
        to: worsening
        trigger:
          type: time_elapsed
          after_minutes: 60
    scoring:
      max_points: 10
      criteria:
        - type: action_taken
          label: Started PPI
          points: 10
          action: start_treatment:PPI
events:
  - id: melena
    trigger:
      type: time_elapsed
      at_minute: 90
    facts: Melanotic stool.
history_items:
  - id: asked_about_alcohol
    label: Asked about alcohol use
    keywords: [alcohol, drink]
    points: 5
`

func TestParseValidCase(t *testing.T) {
	sc, err := Parse([]byte(baseCaseYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sc.ID != "demo-case" {
		t.Errorf("Expected id demo-case, got %s", sc.ID)
	}
	if sc.Patient.InitialVitals.BP.Systolic != 118 || sc.Patient.InitialVitals.BP.Diastolic != 76 {
		t.Errorf("Expected BP 118/76, got %s", sc.Patient.InitialVitals.BP)
	}
	cond := sc.Condition("bleed")
	if cond == nil {
		t.Fatal("Expected bleed condition")
	}
	if cond.Transitions[0].Trigger.Kind != TriggerTimeElapsed {
		t.Errorf("Expected time_elapsed trigger, got %s", cond.Transitions[0].Trigger.Kind)
	}
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown trigger kind",
			mutate:  func(y string) string { return strings.Replace(y, "type: time_elapsed\n          after_minutes: 60", "type: gets_worse\n          after_minutes: 60", 1) },
			wantErr: "unknown trigger kind",
		},
		{
			name:    "unknown criterion kind",
			mutate:  func(y string) string { return strings.Replace(y, "type: action_taken", "type: good_vibes", 1) },
			wantErr: "unknown criterion kind",
		},
		{
			name:    "unknown to state",
			mutate:  func(y string) string { return strings.Replace(y, "to: worsening", "to: exploded", 1) },
			wantErr: "unknown to state",
		},
		{
			name:    "initial state outside set",
			mutate:  func(y string) string { return strings.Replace(y, "initial_state: presenting", "initial_state: stable", 1) },
			wantErr: "initial state",
		},
		{
			name:    "inverted blood pressure",
			mutate:  func(y string) string { return strings.Replace(y, "bp: 118/76", "bp: 76/118", 1) },
			wantErr: "blood pressure",
		},
		{
			name:    "missing title",
			mutate:  func(y string) string { return strings.Replace(y, "title: Demo Case", "title: \"\"", 1) },
			wantErr: "title is required",
		},
		{
			name:    "zero lab turnaround",
			mutate:  func(y string) string { return strings.Replace(y, "turnaround_minutes: 30", "turnaround_minutes: 0", 1) },
			wantErr: "turnaround must be positive",
		},
		{
			name: "dangling labs_over_time",
			mutate: func(y string) string {
				return y + `
labs_over_time:
  Lactate:
    - after_minutes: 60
      if_treated: false
      values:
        Lactate: "4.0"
`
			},
			wantErr: "unknown lab",
		},
		{
			name: "event references unknown consult",
			mutate: func(y string) string {
				return strings.Replace(y, "type: time_elapsed\n      at_minute: 90", "type: consult_response\n      consult: Cardiology", 1)
			},
			wantErr: "unknown consult",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.mutate(baseCaseYAML)))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadEmbeddedCases(t *testing.T) {
	lib, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded failed: %v", err)
	}
	infos := lib.List()
	if len(infos) < 2 {
		t.Fatalf("Expected at least 2 embedded cases, got %d", len(infos))
	}
	for _, info := range infos {
		sc := lib.Get(info.ID)
		if sc == nil {
			t.Errorf("Listed scenario %s not retrievable", info.ID)
			continue
		}
		if len(sc.Conditions) == 0 {
			t.Errorf("Scenario %s has no conditions", info.ID)
		}
	}
	if lib.Get("no-such-case") != nil {
		t.Error("Expected nil for unknown scenario id")
	}
}

func TestParseBP(t *testing.T) {
	bp, err := ParseBP("120/80")
	if err != nil {
		t.Fatalf("ParseBP failed: %v", err)
	}
	if bp.Systolic != 120 || bp.Diastolic != 80 {
		t.Errorf("Expected 120/80, got %s", bp)
	}

	if _, err := ParseBP("garbage"); err == nil {
		t.Error("Expected error for unparseable input")
	}
	if _, err := ParseBP("80/120"); err == nil {
		t.Error("Expected error for diastolic above systolic")
	}
}

func TestVitalsDeltaApply(t *testing.T) {
	hr := 130
	bp := "82/55"
	base := Vitals{HeartRate: 104, BP: BloodPressure{Systolic: 118, Diastolic: 76}, RespRate: 18, Temp: 37.2, SpO2: 97}

	out := (&VitalsDelta{HeartRate: &hr, BP: &bp}).Apply(base)
	if out.HeartRate != 130 || out.BP.Systolic != 82 || out.BP.Diastolic != 55 {
		t.Errorf("Delta not applied: %+v", out)
	}
	if out.RespRate != 18 || out.SpO2 != 97 {
		t.Errorf("Untouched vitals changed: %+v", out)
	}

	var nilDelta *VitalsDelta
	if got := nilDelta.Apply(base); got != base {
		t.Errorf("Nil delta mutated vitals: %+v", got)
	}
}
