package scenario

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vitals is one full set of patient vital signs.
type Vitals struct {
	HeartRate int           `yaml:"hr" json:"hr"`
	BP        BloodPressure `yaml:"bp" json:"bp"`
	RespRate  int           `yaml:"rr" json:"rr"`
	Temp      float64       `yaml:"temp" json:"temp"`
	SpO2      int           `yaml:"spo2" json:"spo2"`
}

// Format renders the vitals the way they appear on the monitor strip.
func (v Vitals) Format() string {
	return fmt.Sprintf("HR %d | BP %s | RR %d | Temp %.1f°C | SpO2 %d%%",
		v.HeartRate, v.BP, v.RespRate, v.Temp, v.SpO2)
}

// BloodPressure is the systolic/diastolic pair. Invariant: Diastolic < Systolic.
type BloodPressure struct {
	Systolic  int
	Diastolic int
}

func (bp BloodPressure) String() string {
	return fmt.Sprintf("%d/%d", bp.Systolic, bp.Diastolic)
}

// Valid reports whether the pair satisfies the diastolic < systolic invariant.
func (bp BloodPressure) Valid() bool {
	return bp.Diastolic < bp.Systolic && bp.Systolic > 0
}

// ParseBP parses a "120/80" pair.
func ParseBP(s string) (BloodPressure, error) {
	var bp BloodPressure
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d/%d", &bp.Systolic, &bp.Diastolic); err != nil {
		return bp, fmt.Errorf("invalid blood pressure %q: %w", s, err)
	}
	if !bp.Valid() {
		return bp, fmt.Errorf("invalid blood pressure %q: diastolic must be below systolic", s)
	}
	return bp, nil
}

// UnmarshalYAML accepts the conventional "sys/dia" string form.
func (bp *BloodPressure) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseBP(raw)
	if err != nil {
		return err
	}
	*bp = parsed
	return nil
}

// MarshalYAML emits the "sys/dia" string form.
func (bp BloodPressure) MarshalYAML() (interface{}, error) {
	return bp.String(), nil
}

// MarshalJSON emits the "sys/dia" string form for API responses.
func (bp BloodPressure) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", bp.String())), nil
}

// UnmarshalJSON accepts the "sys/dia" string form.
func (bp *BloodPressure) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseBP(raw)
	if err != nil {
		return err
	}
	*bp = parsed
	return nil
}

// VitalsDelta is a partial vitals update carried by an event. Nil fields
// leave the corresponding vital untouched.
type VitalsDelta struct {
	HeartRate *int     `yaml:"hr" json:"hr,omitempty"`
	BP        *string  `yaml:"bp" json:"bp,omitempty"`
	RespRate  *int     `yaml:"rr" json:"rr,omitempty"`
	Temp      *float64 `yaml:"temp" json:"temp,omitempty"`
	SpO2      *int     `yaml:"spo2" json:"spo2,omitempty"`
}

// Apply merges the delta into v and returns the result.
func (d *VitalsDelta) Apply(v Vitals) Vitals {
	if d == nil {
		return v
	}
	if d.HeartRate != nil {
		v.HeartRate = *d.HeartRate
	}
	if d.BP != nil {
		if bp, err := ParseBP(*d.BP); err == nil {
			v.BP = bp
		}
	}
	if d.RespRate != nil {
		v.RespRate = *d.RespRate
	}
	if d.Temp != nil {
		v.Temp = *d.Temp
	}
	if d.SpO2 != nil {
		v.SpO2 = *d.SpO2
	}
	return v
}
