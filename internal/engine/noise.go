package engine

import (
	"math"
	"math/rand"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
)

// Clamp bounds for display vitals. Values outside these ranges are not
// survivable readings and never reach the monitor.
const (
	minHR, maxHR     = 30, 200
	minRR, maxRR     = 4, 40
	minSpO2, maxSpO2 = 70, 100
	minSys, maxSys   = 60, 250
	minDia, maxDia   = 30, 150
)

const (
	minTemp, maxTemp = 34.0, 42.0
)

// volatileStates mark a condition whose vitals should fluctuate harder.
var volatileStates = []string{"worsening", "critical", "presenting"}

// NoiseGenerator produces display-only jittered copies of vitals. The
// persisted vitals are never touched; noise is applied at response time.
type NoiseGenerator struct {
	rng *rand.Rand
}

// NewNoiseGenerator creates a generator around the given random source.
func NewNoiseGenerator(rng *rand.Rand) *NoiseGenerator {
	return &NoiseGenerator{rng: rng}
}

// Display returns a jittered copy of v. Conditions in a volatile state
// raise the perturbation multiplier from 1.0 to 1.5. Every output is
// clamped to its declared bound, and diastolic is forced at least 5 below
// systolic if the draw would violate the pair invariant.
func (g *NoiseGenerator) Display(v scenario.Vitals, conditionStates map[string]string) scenario.Vitals {
	m := 1.0
	for _, state := range conditionStates {
		if containsString(volatileStates, state) {
			m = 1.5
			break
		}
	}

	out := v
	out.HeartRate = clampInt(v.HeartRate+g.jitterInt(3*m), minHR, maxHR)
	out.RespRate = clampInt(v.RespRate+g.jitterInt(1*m), minRR, maxRR)
	out.SpO2 = clampInt(v.SpO2+g.jitterInt(1*m), minSpO2, maxSpO2)
	out.Temp = clampFloat(round1(v.Temp+g.jitterFloat(0.1*m)), minTemp, maxTemp)

	sys := clampInt(v.BP.Systolic+g.jitterInt(4*m), minSys, maxSys)
	dia := clampInt(v.BP.Diastolic+g.jitterInt(3*m), minDia, maxDia)
	if dia >= sys {
		dia = sys - 5
	}
	out.BP = scenario.BloodPressure{Systolic: sys, Diastolic: dia}

	return out
}

// jitterInt draws uniformly from [-magnitude, +magnitude].
func (g *NoiseGenerator) jitterInt(magnitude float64) int {
	span := int(magnitude)
	if span <= 0 {
		return 0
	}
	return g.rng.Intn(2*span+1) - span
}

// jitterFloat draws uniformly from [-magnitude, +magnitude).
func (g *NoiseGenerator) jitterFloat(magnitude float64) float64 {
	return (g.rng.Float64()*2 - 1) * magnitude
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
