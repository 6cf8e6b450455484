package voting

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/events"
	"github.com/hiveforge/swarmcore/telemetry"
)

// Metrics is a read-only projection over the engine's lifetime counters.
type Metrics struct {
	Opened  int
	Closed  int
	Timeouts int
	TiedOutcomes int
	NoQuorumOutcomes int
}

// Engine is the process-wide voting engine. A single logical writer per
// voting id (guarded by that voting's own mutex) allows concurrent
// rounds to progress independently, matching spec.md §5's "Cast calls
// are serialized per topic" ordering guarantee without serializing
// unrelated topics against each other.
type Engine struct {
	cfg Config

	mu       sync.RWMutex
	votings  map[string]*votingState
	history  []*MajorityResult
	weights  map[string]float64 // per-agent default weight, fallback 1

	logger core.Logger
	sink   events.Sink
	clock  func() time.Time
	rand   func() float64

	metrics Metrics
}

type votingState struct {
	mu     sync.Mutex
	active *ActiveVoting
	result *MajorityResult
	timer  *time.Timer
}

// Option configures an Engine at construction.
type EngineOption func(*Engine)

func WithLogger(l core.Logger) EngineOption { return func(e *Engine) { e.logger = l } }
func WithSink(s events.Sink) EngineOption   { return func(e *Engine) { e.sink = s } }
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}
func WithWeightTable(weights map[string]float64) EngineOption {
	return func(e *Engine) { e.weights = weights }
}
func WithRandSource(r func() float64) EngineOption { return func(e *Engine) { e.rand = r } }

// NewEngine creates a voting Engine.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:     cfg,
		votings: make(map[string]*votingState),
		weights: make(map[string]float64),
		logger:  &core.NoOpLogger{},
		sink:    events.NoOpSink{},
		clock:   time.Now,
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open starts a new voting round. Fails with core.ErrInvalidConfiguration
// if options is empty, or core.ErrVotingAlreadyOpen if id collides with a
// live voting.
func (e *Engine) Open(ctx context.Context, topic Topic, eligibleVoters []string) (string, error) {
	if len(topic.Options) == 0 {
		return "", fmt.Errorf("voting %s: empty options: %w", topic.ID, core.ErrInvalidConfiguration)
	}

	e.mu.Lock()
	if _, exists := e.votings[topic.ID]; exists {
		e.mu.Unlock()
		return "", fmt.Errorf("voting %s: %w", topic.ID, core.ErrVotingAlreadyOpen)
	}

	eligible := make(map[string]bool, len(eligibleVoters))
	for _, v := range eligibleVoters {
		eligible[v] = true
	}

	state := &votingState{
		active: &ActiveVoting{
			Topic:          topic,
			EligibleVoters: eligible,
			Votes:          make(map[string]Vote),
			StartTime:      e.clock(),
			Status:         StatusOpen,
		},
	}
	e.votings[topic.ID] = state
	e.metrics.Opened++
	e.mu.Unlock()

	deadline := topic.Deadline
	timeout := e.cfg.Timeout
	if deadline == nil && timeout > 0 {
		d := e.clock().Add(timeout)
		deadline = &d
	}
	if deadline != nil {
		delay := deadline.Sub(e.clock())
		if delay < 0 {
			delay = 0
		}
		state.timer = time.AfterFunc(delay, func() {
			e.closeVoting(context.Background(), topic.ID, true)
		})
	}

	e.logger.Info("voting opened", map[string]interface{}{"topic_id": topic.ID, "options": len(topic.Options)})
	e.sink.Publish(ctx, "majority:initialized", map[string]interface{}{"topic_id": topic.ID})
	e.sink.Publish(ctx, "majority:voting-started", map[string]interface{}{"topic_id": topic.ID, "eligible": len(eligible)})
	telemetry.Counter("voting_round_opened_total", "topic_id", topic.ID)

	return topic.ID, nil
}

// Cast records one vote. Votes after close are rejected; a voter votes
// at most once; the chosen option must belong to the topic.
func (e *Engine) Cast(ctx context.Context, votingID string, vote Vote) error {
	e.mu.RLock()
	state, exists := e.votings[votingID]
	e.mu.RUnlock()
	if !exists {
		return fmt.Errorf("voting %s: %w", votingID, core.ErrVotingNotFound)
	}

	state.mu.Lock()
	if state.active.Status != StatusOpen {
		state.mu.Unlock()
		return fmt.Errorf("voting %s: %w", votingID, core.ErrVotingClosed)
	}
	if !state.active.EligibleVoters[vote.VoterID] {
		state.mu.Unlock()
		return fmt.Errorf("voting %s: voter %s: %w", votingID, vote.VoterID, core.ErrVoterNotEligible)
	}
	if _, already := state.active.Votes[vote.VoterID]; already {
		state.mu.Unlock()
		return fmt.Errorf("voting %s: voter %s: %w", votingID, vote.VoterID, core.ErrAlreadyVoted)
	}
	validOption := false
	for _, opt := range state.active.Topic.Options {
		if opt.ID == vote.OptionID {
			validOption = true
			break
		}
	}
	if !validOption {
		state.mu.Unlock()
		return fmt.Errorf("voting %s: option %s: %w", votingID, vote.OptionID, core.ErrInvalidConfiguration)
	}

	if vote.Timestamp.IsZero() {
		vote.Timestamp = e.clock()
	}
	state.active.Votes[vote.VoterID] = vote
	state.active.VoteOrder = append(state.active.VoteOrder, vote.VoterID)

	allVoted := len(state.active.Votes) >= len(state.active.EligibleVoters)
	state.mu.Unlock()

	e.sink.Publish(ctx, "majority:vote-cast", map[string]interface{}{
		"topic_id": votingID, "voter_id": vote.VoterID, "option_id": vote.OptionID,
	})

	if allVoted {
		_, err := e.Close(ctx, votingID)
		return err
	}
	return nil
}

// Close tallies and finalizes a voting round. Idempotent after the
// first call: a second Close returns the already-computed result
// together with core.ErrVotingClosed so callers can distinguish "already
// closed" from "just closed" while still observing a stable result
// value (spec.md §8's idempotence property). Closing an unknown id
// returns a synthetic no-quorum fallback rather than an error — decided
// in DESIGN.md's Open Question log as "observed behavior, not a bug".
func (e *Engine) Close(ctx context.Context, votingID string) (*MajorityResult, error) {
	e.mu.RLock()
	state, exists := e.votings[votingID]
	e.mu.RUnlock()
	if !exists {
		return e.syntheticNoQuorumResult(votingID), nil
	}
	return e.closeVoting(ctx, votingID, false)
}

func (e *Engine) syntheticNoQuorumResult(votingID string) *MajorityResult {
	return &MajorityResult{
		TopicID:    votingID,
		Legitimacy: LegitimacyNoQuorum,
		Timestamp:  e.clock(),
	}
}

func (e *Engine) closeVoting(ctx context.Context, votingID string, dueToTimeout bool) (*MajorityResult, error) {
	e.mu.RLock()
	state, exists := e.votings[votingID]
	e.mu.RUnlock()
	if !exists {
		return e.syntheticNoQuorumResult(votingID), nil
	}

	state.mu.Lock()
	if state.active.Status != StatusOpen {
		result := state.result
		state.mu.Unlock()
		return result, fmt.Errorf("voting %s: %w", votingID, core.ErrVotingClosed)
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	if dueToTimeout {
		state.active.Status = StatusTimeout
	} else {
		state.active.Status = StatusClosed
	}

	result := e.tally(state.active, dueToTimeout)
	state.result = result
	state.mu.Unlock()

	e.mu.Lock()
	e.history = append(e.history, result)
	e.metrics.Closed++
	if dueToTimeout {
		e.metrics.Timeouts++
	}
	if result.Legitimacy == LegitimacyTied {
		e.metrics.TiedOutcomes++
	}
	if result.Legitimacy == LegitimacyNoQuorum {
		e.metrics.NoQuorumOutcomes++
	}
	e.mu.Unlock()

	e.sink.Publish(ctx, "majority:voting-closed", map[string]interface{}{
		"topic_id":   votingID,
		"legitimacy": string(result.Legitimacy),
		"winner":     result.Winner,
	})
	telemetry.Counter("voting_round_closed_total", "topic_id", votingID, "legitimacy", string(result.Legitimacy))
	telemetry.Histogram("voting_round_duration_ms", float64(result.DurationMs), "topic_id", votingID)

	return result, nil
}

// Status returns a read-only snapshot of a voting round's current state.
func (e *Engine) Status(votingID string) (*ActiveVoting, error) {
	e.mu.RLock()
	state, exists := e.votings[votingID]
	e.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("voting %s: %w", votingID, core.ErrVotingNotFound)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	cp := *state.active
	return &cp, nil
}

// History returns up to limit of the most recent closed results,
// most-recent first. limit<=0 returns the full history.
func (e *Engine) History(limit int) []*MajorityResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*MajorityResult, limit)
	for i := 0; i < limit; i++ {
		out[i] = e.history[n-1-i]
	}
	return out
}

// Metrics returns a snapshot of the engine's lifetime counters.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

func (e *Engine) weightFor(vote Vote) float64 {
	if vote.Weight != nil {
		return *vote.Weight
	}
	if w, ok := e.weights[vote.VoterID]; ok {
		return w
	}
	return 1
}

func (e *Engine) tally(av *ActiveVoting, dueToTimeout bool) *MajorityResult {
	statsByOption := make(map[string]*OptionStats, len(av.Topic.Options))
	for _, opt := range av.Topic.Options {
		statsByOption[opt.ID] = &OptionStats{OptionID: opt.ID}
	}

	var totalRaw int
	var totalWeighted float64
	for _, voterID := range av.VoteOrder {
		vote, ok := av.Votes[voterID]
		if !ok {
			continue
		}
		s, ok := statsByOption[vote.OptionID]
		if !ok {
			continue
		}
		s.RawCount++
		totalRaw++
		w := e.weightFor(vote)
		s.WeightedTotal += w
		totalWeighted += w
	}

	denom := float64(totalRaw)
	if e.cfg.WeightedVoting {
		denom = totalWeighted
	}
	for _, opt := range av.Topic.Options {
		s := statsByOption[opt.ID]
		if denom > 0 {
			if e.cfg.WeightedVoting {
				s.Percentage = s.WeightedTotal / denom
			} else {
				s.Percentage = float64(s.RawCount) / denom
			}
		}
	}

	// tied is built by walking av.Topic.Options in declaration order,
	// not the percentage-sorted stats below, so the first option wins
	// ties deterministically regardless of sort stability.
	var topPercentage float64
	var tied []string
	for _, opt := range av.Topic.Options {
		s := statsByOption[opt.ID]
		if s.Percentage > topPercentage {
			topPercentage = s.Percentage
			tied = []string{s.OptionID}
		} else if s.Percentage == topPercentage && topPercentage > 0 {
			tied = append(tied, s.OptionID)
		}
	}

	stats := make([]OptionStats, 0, len(av.Topic.Options))
	for _, opt := range av.Topic.Options {
		stats = append(stats, *statsByOption[opt.ID])
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Percentage > stats[j].Percentage
	})

	eligible := len(av.EligibleVoters)
	actual := len(av.Votes)
	rate := 0.0
	if eligible > 0 {
		rate = float64(actual) / float64(eligible)
	}
	quorumMet := eligible > 0 && rate >= e.cfg.Quorum

	participation := Participation{
		Eligible:    eligible,
		Actual:      actual,
		Rate:        rate,
		QuorumMet:   quorumMet,
		Abstentions: eligible - actual,
	}

	result := &MajorityResult{
		TopicID:          av.Topic.ID,
		Stats:            stats,
		MajorityAchieved: topPercentage > e.cfg.Threshold,
		Participation:    participation,
		Timestamp:        e.clock(),
		DurationMs:       e.clock().Sub(av.StartTime).Milliseconds(),
	}

	switch {
	case !quorumMet:
		result.Legitimacy = LegitimacyNoQuorum
		if len(tied) > 0 {
			w := tied[0]
			result.Winner = &w
		}
	case len(tied) > 1:
		winner := e.applyTieBreak(av, tied)
		result.TieBreakUsed = true
		result.Winner = &winner
		if e.cfg.TieBreaker == TieBreakDefer {
			result.Legitimacy = LegitimacyTied
		} else {
			result.Legitimacy = LegitimacyValid
		}
	case dueToTimeout:
		result.Legitimacy = LegitimacyTimeout
		if len(tied) > 0 {
			w := tied[0]
			result.Winner = &w
		}
	default:
		result.Legitimacy = LegitimacyValid
		if len(tied) > 0 {
			w := tied[0]
			result.Winner = &w
		}
	}

	return result
}

// applyTieBreak resolves a tie per the configured policy. tied is in
// topic-declaration order (tally preserves it via av.Topic.Options
// iteration order above). The "queen" and "defer" policies also publish
// majority:tie-break-needed and majority:decision-deferred respectively
// on e.sink here, before returning the first tied option.
func (e *Engine) applyTieBreak(av *ActiveVoting, tied []string) string {
	switch e.cfg.TieBreaker {
	case TieBreakRandom:
		idx := int(e.rand() * float64(len(tied)))
		if idx >= len(tied) {
			idx = len(tied) - 1
		}
		return tied[idx]
	case TieBreakQueen:
		e.sink.Publish(context.Background(), "majority:tie-break-needed", map[string]interface{}{
			"topic_id": av.Topic.ID, "tied": tied,
		})
		return tied[0]
	case TieBreakDefer:
		e.sink.Publish(context.Background(), "majority:decision-deferred", map[string]interface{}{
			"topic_id": av.Topic.ID, "tied": tied,
		})
		return tied[0]
	case TieBreakStatusQuo:
		fallthrough
	default:
		return tied[0]
	}
}
