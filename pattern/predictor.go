package pattern

import (
	"context"
	"sort"
	"time"
)

// Predictor is the pluggable prediction strategy spec.md's Non-goals
// call for: concrete ML models are out of scope, but the store must
// accept one. Store.Predict is the shipped default (frequency-weighted
// heuristic over matching patterns, invoked inline for lock efficiency);
// HeuristicPredictor below is the same algorithm exposed as a standalone
// Predictor for callers that already fetched candidates via
// Store.Recommendations and want to score them without re-entering the
// store.
type Predictor interface {
	Predict(ctx context.Context, kind Kind, candidates []*Pattern, candidateOptions []string) Prediction
}

// HeuristicPredictor scores pre-fetched candidates by confidence ×
// recencyWeight, matching Store.Predict's inline aggregation.
type HeuristicPredictor struct {
	HalfLife time.Duration
	Now      func() time.Time
}

// NewHeuristicPredictor returns a HeuristicPredictor using the real
// clock and the default half-life.
func NewHeuristicPredictor() *HeuristicPredictor {
	return &HeuristicPredictor{HalfLife: defaultHalfLife, Now: time.Now}
}

// Predict implements Predictor.
func (h *HeuristicPredictor) Predict(ctx context.Context, kind Kind, candidates []*Pattern, candidateOptions []string) Prediction {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	halfLife := h.HalfLife
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}

	scores := make(map[string]float64, len(candidateOptions))
	for _, opt := range candidateOptions {
		scores[opt] = 0
	}

	for _, p := range candidates {
		if p.Kind != kind {
			continue
		}
		weight := p.Confidence * recencyWeight(p.LastSeen, now, halfLife)
		for _, o := range p.Outcomes {
			if _, tracked := scores[o.Recommendation]; !tracked || !o.Success {
				continue
			}
			scores[o.Recommendation] += weight
		}
	}

	best := ""
	bestScore := -1.0
	var alternatives []ScoredOption
	for opt, score := range scores {
		alternatives = append(alternatives, ScoredOption{Option: opt, Score: score})
		if score > bestScore {
			best, bestScore = opt, score
		}
	}
	sort.Slice(alternatives, func(i, j int) bool { return alternatives[i].Score > alternatives[j].Score })

	confidence := 0.0
	if bestScore > 0 {
		confidence = bestScore / (bestScore + 1.0)
	}

	return Prediction{
		Prediction:   best,
		Confidence:   confidence,
		Alternatives: alternatives,
	}
}
