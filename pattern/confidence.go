package pattern

import (
	"math"
	"time"
)

// Confidence weighting coefficients. spec.md §9 leaves the exact
// weights to the implementer within the §8 invariant bounds
// (confidence ∈ [0,1], monotone in successes/occurrences/recency);
// decided in DESIGN.md's Open Question log: α weights success ratio
// most heavily, β rewards accumulated evidence with diminishing
// returns, γ decays with staleness.
const (
	confidenceAlpha = 0.5 // success ratio
	confidenceBeta  = 0.2 // occurrence pressure (evidence volume)
	confidenceGamma = 0.3 // recency

	// defaultHalfLife is τ in the recencyWeight = exp(-Δt/τ) formula,
	// spec.md §4.4's default 30-day half-life.
	defaultHalfLife = 30 * 24 * time.Hour
)

// occurrencePressure saturates evidence volume toward 1 so a pattern
// observed many times doesn't need unbounded occurrences to approach
// full weight on this term.
func occurrencePressure(occurrences int) float64 {
	return math.Min(float64(occurrences)/20.0, 1.0)
}

// recencyWeight implements recencyWeight = exp(-Δt/τ).
func recencyWeight(lastSeen, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	delta := now.Sub(lastSeen)
	if delta < 0 {
		delta = 0
	}
	return math.Exp(-float64(delta) / float64(halfLife))
}

// recomputeConfidence implements
// confidence = min(1.0, α·successRatio + β·occurrencePressure + γ·recencyWeight)
// per spec.md §4.4, evaluated against "now" so callers (tests, the
// pruner) can hold time fixed.
func recomputeConfidence(p *Pattern, now time.Time, halfLife time.Duration) float64 {
	successRatio := p.successRatio()
	pressure := occurrencePressure(p.Occurrences)
	recency := recencyWeight(p.LastSeen, now, halfLife)

	c := confidenceAlpha*successRatio + confidenceBeta*pressure + confidenceGamma*recency
	if c > 1.0 {
		c = 1.0
	}
	if c < 0 {
		c = 0
	}
	return c
}
