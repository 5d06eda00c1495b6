package engine

import (
	"math"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

// ScoreResult is the full rubric outcome for one finished case.
// Derived from final state and the action log; never persisted back.
type ScoreResult struct {
	TotalScore int              `json:"total_score"`
	MaxScore   int              `json:"max_score"`
	Percentage int              `json:"percentage"`
	Conditions []ConditionScore `json:"conditions"`
	History    HistoryScore     `json:"history"`
}

// ConditionScore is the per-condition breakdown.
type ConditionScore struct {
	ConditionID   string            `json:"condition_id"`
	ConditionName string            `json:"condition_name"`
	MaxPoints     int               `json:"max_points"`
	EarnedPoints  int               `json:"earned_points"`
	Criteria      []CriterionResult `json:"criteria"`
}

// CriterionResult is one rubric line.
type CriterionResult struct {
	Label     string `json:"label"`
	MaxPoints int    `json:"max_points"`
	Earned    bool   `json:"earned"`
	Points    int    `json:"points"`
}

// HistoryScore is the history-taking sub-score.
type HistoryScore struct {
	MaxPoints    int                 `json:"max_points"`
	EarnedPoints int                 `json:"earned_points"`
	Items        []HistoryItemResult `json:"items"`
}

// HistoryItemResult is one scored history item.
type HistoryItemResult struct {
	Label  string `json:"label"`
	Earned bool   `json:"earned"`
	Points int    `json:"points"`
}

// Score is a pure function of the final session state and the complete
// action log. Identical inputs always yield identical results. The
// percentage is round(earned/max*100), defined as 0 when max is 0.
func Score(sc *scenario.Scenario, sess *session.Session, actions []session.ActionRecord) ScoreResult {
	identifiers := make([]string, len(actions))
	for i, a := range actions {
		identifiers[i] = a.Identifier()
	}

	var result ScoreResult

	for i := range sc.Conditions {
		cond := &sc.Conditions[i]
		cs := ConditionScore{
			ConditionID:   cond.ID,
			ConditionName: cond.Name,
			MaxPoints:     cond.Scoring.MaxPoints,
		}

		for _, crit := range cond.Scoring.Criteria {
			earned := evaluateCriterion(&crit, identifiers, actions, sess, cond.ID)
			cr := CriterionResult{Label: crit.Label, MaxPoints: crit.Points, Earned: earned}
			if earned {
				cr.Points = crit.Points
				cs.EarnedPoints += crit.Points
			}
			cs.Criteria = append(cs.Criteria, cr)
		}

		result.Conditions = append(result.Conditions, cs)
		result.TotalScore += cs.EarnedPoints
		result.MaxScore += cs.MaxPoints
	}

	for _, item := range sc.HistoryItems {
		earned := sess.HasRevealed(item.ID)
		hr := HistoryItemResult{Label: item.Label, Earned: earned}
		if earned {
			hr.Points = item.Points
		}
		result.History.Items = append(result.History.Items, hr)
		result.History.MaxPoints += item.Points
		result.History.EarnedPoints += hr.Points
	}

	result.TotalScore += result.History.EarnedPoints
	result.MaxScore += result.History.MaxPoints

	if result.MaxScore > 0 {
		result.Percentage = int(math.Round(float64(result.TotalScore) / float64(result.MaxScore) * 100))
	}

	return result
}

func evaluateCriterion(crit *scenario.Criterion, identifiers []string, actions []session.ActionRecord, sess *session.Session, conditionID string) bool {
	switch crit.Kind {
	case scenario.CriterionActionTaken:
		return containsString(identifiers, crit.Action)

	case scenario.CriterionActionTakenWithin:
		for _, a := range actions {
			if a.Identifier() == crit.Action && a.SimTime <= crit.WithinMinutes {
				return true
			}
		}
		return false

	case scenario.CriterionStateAvoided:
		return sess.ConditionStates[conditionID] != crit.State
	}
	return false
}
