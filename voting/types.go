// Package voting implements the time-bounded, weighted voting engine
// described in spec.md §4.1: Open/Cast/Close/Status/History/Metrics over
// an ActiveVoting, producing a MajorityResult with quorum, tie-break and
// legitimacy semantics. Grounded on orchestration/synthesizer.go's
// multi-strategy aggregation shape and orchestration/hitl_policy.go's
// decision-struct pattern, with deadline timers modeled the way
// core/redis_discovery.go times out heartbeats.
package voting

import "time"

// Option is one choice on a VotingTopic.
type Option struct {
	ID          string
	Value       string
	Description string
}

// Topic is the subject of a vote. Options is immutable after Open.
type Topic struct {
	ID       string
	Options  []Option
	Context  map[string]interface{}
	Deadline *time.Time
}

// Vote is one voter's ballot.
type Vote struct {
	VoterID    string
	OptionID   string
	Weight     *float64
	Confidence *float64
	Timestamp  time.Time
}

// Status is an ActiveVoting's lifecycle state.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusTimeout Status = "timeout"
)

// Legitimacy labels the validity of a closed voting's result.
type Legitimacy string

const (
	LegitimacyValid     Legitimacy = "valid"
	LegitimacyNoQuorum  Legitimacy = "no-quorum"
	LegitimacyTied      Legitimacy = "tied"
	LegitimacyTimeout   Legitimacy = "timeout"
)

// TieBreakPolicy is the closed set of tie-break strategies.
type TieBreakPolicy string

const (
	TieBreakQueen     TieBreakPolicy = "queen"
	TieBreakRandom    TieBreakPolicy = "random"
	TieBreakStatusQuo TieBreakPolicy = "status-quo"
	TieBreakDefer     TieBreakPolicy = "defer"
)

// ActiveVoting is the in-flight state of one voting round.
type ActiveVoting struct {
	Topic           Topic
	EligibleVoters  map[string]bool
	Votes           map[string]Vote
	VoteOrder       []string // insertion order, for deterministic tallying/tie-break
	StartTime       time.Time
	Status          Status
}

// OptionStats is the per-option tally.
type OptionStats struct {
	OptionID        string
	RawCount        int
	WeightedTotal   float64
	Percentage      float64
}

// Participation summarizes voter turnout.
type Participation struct {
	Eligible    int
	Actual      int
	Rate        float64
	QuorumMet   bool
	Abstentions int
}

// MajorityResult is the outcome of a closed (or timed-out) voting round.
type MajorityResult struct {
	TopicID          string
	Winner           *string
	Stats            []OptionStats
	MajorityAchieved bool
	Participation    Participation
	Legitimacy       Legitimacy
	TieBreakUsed     bool
	Timestamp        time.Time
	DurationMs       int64
}

// Config carries the voting-engine knobs from spec.md §6.
type Config struct {
	Threshold      float64
	Quorum         float64
	TieBreaker     TieBreakPolicy
	Timeout        time.Duration
	WeightedVoting bool
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.5,
		Quorum:         0.5,
		TieBreaker:     TieBreakQueen,
		Timeout:        30 * time.Second,
		WeightedVoting: false,
	}
}
