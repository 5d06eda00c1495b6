package engine

import (
	"fmt"
	"time"
)

// MaxIdleRealSeconds caps how much unattended real time converts into
// sim-time. Without it a patient could die while the operator is AFK.
const MaxIdleRealSeconds = 300

// Case clock starts at 14:00 on Day 1.
const (
	clockStartHour   = 14
	clockStartMinute = 0
)

// ClockResult is the output of one time advancement.
type ClockResult struct {
	SimTime      int
	CappedByIdle bool
}

// AdvanceClock converts wall-clock time elapsed since the last tick into
// simulated minutes. Elapsed real seconds are capped at MaxIdleRealSeconds,
// scaled (timeScale simulated seconds per real second), floored to whole
// minutes, and added to the previous sim-time. The result never goes
// backwards: a clock skew that yields negative elapsed time advances by zero.
func AdvanceClock(lastTickReal time.Time, previousSimTime int, timeScale int, now time.Time) ClockResult {
	realSeconds := now.Sub(lastTickReal).Seconds()
	if realSeconds < 0 {
		realSeconds = 0
	}

	capped := realSeconds > MaxIdleRealSeconds
	if capped {
		realSeconds = MaxIdleRealSeconds
	}

	simMinutes := int(realSeconds * float64(timeScale) / 60)

	return ClockResult{
		SimTime:      previousSimTime + simMinutes,
		CappedByIdle: capped,
	}
}

// FormatSimTime renders sim-minutes as "Day X — HH:MM".
func FormatSimTime(simMinutes int) string {
	total := clockStartHour*60 + clockStartMinute + simMinutes
	day := total/(24*60) + 1
	hour := (total % (24 * 60)) / 60
	minute := total % 60
	return fmt.Sprintf("Day %d — %02d:%02d", day, hour, minute)
}
