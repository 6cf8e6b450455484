package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/events"
	"github.com/hiveforge/swarmcore/persistence"
)

// Config carries the pattern-store knobs from the configuration
// surface in spec.md §6.
type Config struct {
	SimilarityThreshold float64
	HalfLife            time.Duration
	PruneConfidenceFloor float64
	PruneTTL            time.Duration
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:  0.7,
		HalfLife:             defaultHalfLife,
		PruneConfidenceFloor: 0.1,
		PruneTTL:             90 * 24 * time.Hour,
	}
}

// Store is the process-wide pattern memory: a single logical writer per
// signature, concurrent readers over snapshots (spec.md §5). The
// in-memory map is authoritative; kv (if non-nil) receives a durable
// copy of every write so an external restart can rehydrate it, mirroring
// core/memory_store.go's Memory-backed persistence pattern.
type Store struct {
	mu       sync.RWMutex
	patterns map[Signature]*Pattern

	cfg    Config
	kv     persistence.KVStore
	logger core.Logger
	sink   events.Sink
	clock  func() time.Time
}

// Option configures a Store at construction.
type Option func(*Store)

// WithKVStore durably persists every observed pattern.
func WithKVStore(kv persistence.KVStore) Option {
	return func(s *Store) { s.kv = kv }
}

// WithLogger attaches a component-scoped logger.
func WithLogger(l core.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSink attaches an observability event sink.
func WithSink(sink events.Sink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithClock overrides the time source; used by tests that need
// deterministic recency weighting.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates an empty Store.
func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		patterns: make(map[Signature]*Pattern),
		cfg:      cfg,
		logger:   &core.NoOpLogger{},
		sink:     events.NoOpSink{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe locates or creates the pattern matching decision's normalized
// signature, appends outcome, increments occurrences, and recomputes
// confidence per spec.md §4.4.
func (s *Store) Observe(ctx context.Context, decision Decision, success bool, metrics map[string]float64) (*Pattern, error) {
	sig := ComputeSignature(decision.Context, decision.Actions, decision.Conditions)
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.patterns[sig]
	if !exists {
		p = &Pattern{
			Signature:     sig,
			Kind:          decision.Kind,
			ContextVector: similarityVector(decision.Context, decision.Actions, decision.Conditions),
		}
		s.patterns[sig] = p
	}

	p.Outcomes = append(p.Outcomes, Outcome{
		Success:        success,
		Recommendation: decision.Recommendation,
		Metrics:        metrics,
		Timestamp:      now,
	})
	p.Occurrences++
	p.LastSeen = now
	p.Confidence = recomputeConfidence(p, now, s.cfg.HalfLife)

	if s.kv != nil {
		if data, err := json.Marshal(p); err == nil {
			_ = s.kv.Set(ctx, string("pattern:"+sig), data, 0)
		}
	}

	s.logger.Debug("pattern observed", map[string]interface{}{
		"signature":   string(sig),
		"occurrences": p.Occurrences,
		"confidence":  p.Confidence,
	})
	s.sink.Publish(ctx, "pattern:observed", map[string]interface{}{
		"signature":  string(sig),
		"confidence": p.Confidence,
	})

	cp := *p
	return &cp, nil
}

// Predict scans patterns of the matching kind whose signature cosine
// similarity to the candidate context/actions/conditions meets the
// configured threshold, and scores each candidate option by the
// confidence × recencyWeight of matching patterns that recommended it.
func (s *Store) Predict(ctx context.Context, kind Kind, context_ map[string]interface{}, candidateActions, candidateConditions []string, candidateOptions []string) Prediction {
	now := s.clock()
	targetVec := similarityVector(context_, candidateActions, candidateConditions)

	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make(map[string]float64, len(candidateOptions))
	for _, opt := range candidateOptions {
		scores[opt] = 0
	}
	var reasoning []string

	for _, p := range s.patterns {
		if p.Kind != kind {
			continue
		}
		sim := CosineSimilarity(targetVec, p.ContextVector)
		if sim < s.cfg.SimilarityThreshold {
			continue
		}

		weight := p.Confidence * recencyWeight(p.LastSeen, now, s.cfg.HalfLife)
		for _, o := range p.Outcomes {
			if _, tracked := scores[o.Recommendation]; !tracked {
				continue
			}
			if o.Success {
				scores[o.Recommendation] += weight
			}
		}
		reasoning = append(reasoning, fmt.Sprintf("pattern %s matched with similarity %.2f", p.Signature, sim))
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
		confidence = bestScore / (bestScore + 1.0) // squashed into (0,1)
	}

	s.sink.Publish(ctx, "pattern:predicted", map[string]interface{}{
		"kind":       string(kind),
		"prediction": best,
		"confidence": confidence,
	})

	return Prediction{
		Prediction:   best,
		Confidence:   confidence,
		Alternatives: alternatives,
		Reasoning:    reasoning,
	}
}

// Recommendations returns every pattern of the given kind whose context
// matches the given context above the similarity threshold, sorted by
// confidence descending.
func (s *Store) Recommendations(kind Kind, context_ map[string]interface{}) []*Pattern {
	targetVec := similarityVector(context_, nil, nil)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Pattern
	for _, p := range s.patterns {
		if p.Kind != kind {
			continue
		}
		if CosineSimilarity(targetVec, p.ContextVector) < s.cfg.SimilarityThreshold {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Insights is a read-only projection: total patterns, per-kind counts,
// and average confidence, used by dashboards per spec.md §1 (external
// collaborator), exposed here as the contract surface those dashboards
// consume.
type Insights struct {
	TotalPatterns    int
	ByKind           map[Kind]int
	AverageConfidence float64
}

// Insights computes the current aggregate projection.
func (s *Store) Insights() Insights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ins := Insights{ByKind: make(map[Kind]int)}
	var sumConfidence float64
	for _, p := range s.patterns {
		ins.TotalPatterns++
		ins.ByKind[p.Kind]++
		sumConfidence += p.Confidence
	}
	if ins.TotalPatterns > 0 {
		ins.AverageConfidence = sumConfidence / float64(ins.TotalPatterns)
	}
	return ins
}

// Progress reports occurrence and confidence trend for a specific
// signature, or ok=false if unknown.
func (s *Store) Progress(sig Signature) (*Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[sig]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Prune removes patterns with confidence below the configured floor
// whose lastSeen is older than the configured TTL, per spec.md §4.4.
// Intended to be invoked periodically by a background goroutine (see
// StartPruner), mirroring core/redis_registry.go's ticker-driven
// maintenance loop.
func (s *Store) Prune(ctx context.Context) int {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for sig, p := range s.patterns {
		if p.Confidence < s.cfg.PruneConfidenceFloor && now.Sub(p.LastSeen) > s.cfg.PruneTTL {
			delete(s.patterns, sig)
			pruned++
			if s.kv != nil {
				_ = s.kv.Delete(ctx, "pattern:"+string(sig))
			}
		}
	}
	if pruned > 0 {
		s.sink.Publish(ctx, "pattern:pruned", map[string]interface{}{"count": pruned})
	}
	return pruned
}

// StartPruner runs Prune on interval until ctx is cancelled, returning
// immediately; the caller owns the goroutine's lifetime via ctx.
func (s *Store) StartPruner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Prune(ctx)
			}
		}
	}()
}
