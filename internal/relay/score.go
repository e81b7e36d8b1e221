package relay

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// EvaluationNode is the pipeline stage whose payload carries scoring data.
const EvaluationNode = "PromptEvaluationNode"

// ScoreSummary is the UI-facing digest of an evaluation payload.
type ScoreSummary struct {
	Score           int    `json:"score"`
	ScoreRationale  string `json:"scoreRationale"`
	ImprovementTips string `json:"improvementTips"`
}

// evaluationPayload matches the evaluation node's node_data shape.
type evaluationPayload struct {
	OverallScore     float64            `json:"overall_score"`
	Scores           map[string]float64 `json:"scores"`
	SuggestionsCount int                `json:"suggestions_count"`
}

// ScoreFromEvaluation digests an evaluation-node payload into a summary:
// the overall score scaled to 0-100, a per-dimension rationale, and the
// suggestion count. Returns false when the payload carries no overall score.
func ScoreFromEvaluation(data json.RawMessage) (ScoreSummary, bool) {
	var p evaluationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ScoreSummary{}, false
	}
	if p.OverallScore == 0 {
		return ScoreSummary{}, false
	}

	rationale := "Evaluation complete"
	if len(p.Scores) > 0 {
		dims := make([]string, 0, len(p.Scores))
		for dim := range p.Scores {
			dims = append(dims, dim)
		}
		sort.Strings(dims)

		parts := make([]string, 0, len(dims))
		for _, dim := range dims {
			parts = append(parts, fmt.Sprintf("%s: %g/10", dim, p.Scores[dim]))
		}
		rationale = "Scores: " + strings.Join(parts, ", ")
	}

	return ScoreSummary{
		Score:           int(math.Round(p.OverallScore * 10)),
		ScoreRationale:  rationale,
		ImprovementTips: fmt.Sprintf("%d improvement suggestions available.", p.SuggestionsCount),
	}, true
}
