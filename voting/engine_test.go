package voting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge/swarmcore/core"
)

func optID(id string) Option { return Option{ID: id, Value: id} }

func TestSimpleMajorityScenario(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultConfig())

	topic := Topic{ID: "t1", Options: []Option{optID("A"), optID("B"), optID("C")}}
	_, err := engine.Open(ctx, topic, []string{"a1", "a2", "a3"})
	require.NoError(t, err)

	require.NoError(t, engine.Cast(ctx, "t1", Vote{VoterID: "a1", OptionID: "A"}))
	require.NoError(t, engine.Cast(ctx, "t1", Vote{VoterID: "a2", OptionID: "A"}))
	require.NoError(t, engine.Cast(ctx, "t1", Vote{VoterID: "a3", OptionID: "B"}))

	// The last eligible vote already closed the round, so Close reports
	// ErrVotingClosed together with the stored result.
	result, err := engine.Close(ctx, "t1")
	require.ErrorIs(t, err, core.ErrVotingClosed)

	require.NotNil(t, result.Winner)
	assert.Equal(t, "A", *result.Winner)
	assert.Equal(t, LegitimacyValid, result.Legitimacy)
	assert.False(t, result.TieBreakUsed)

	for _, s := range result.Stats {
		switch s.OptionID {
		case "A":
			assert.InDelta(t, 0.6666, s.Percentage, 0.001)
		case "B":
			assert.InDelta(t, 0.3333, s.Percentage, 0.001)
		case "C":
			assert.Equal(t, 0.0, s.Percentage)
		}
	}
}

func TestWeightedTieBreakQueenScenario(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(Config{
		Threshold:      0.5,
		Quorum:         0.5,
		TieBreaker:     TieBreakQueen,
		Timeout:        time.Second,
		WeightedVoting: true,
	})

	topic := Topic{ID: "t2", Options: []Option{optID("X"), optID("Y")}}
	_, err := engine.Open(ctx, topic, []string{"a1", "a2"})
	require.NoError(t, err)

	w := 1.0
	require.NoError(t, engine.Cast(ctx, "t2", Vote{VoterID: "a1", OptionID: "X", Weight: &w}))
	require.NoError(t, engine.Cast(ctx, "t2", Vote{VoterID: "a2", OptionID: "Y", Weight: &w}))

	// The last eligible vote already closed the round, so Close reports
	// ErrVotingClosed together with the stored result.
	result, err := engine.Close(ctx, "t2")
	require.ErrorIs(t, err, core.ErrVotingClosed)

	require.NotNil(t, result.Winner)
	assert.Equal(t, "X", *result.Winner)
	assert.True(t, result.TieBreakUsed)
	assert.Equal(t, LegitimacyValid, result.Legitimacy)
}

func TestNoQuorumScenario(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(Config{
		Threshold:  0.5,
		Quorum:     0.5,
		TieBreaker: TieBreakQueen,
		Timeout:    10 * time.Millisecond,
	})

	topic := Topic{ID: "t3", Options: []Option{optID("A"), optID("B")}}
	_, err := engine.Open(ctx, topic, []string{"a1", "a2", "a3", "a4"})
	require.NoError(t, err)

	require.NoError(t, engine.Cast(ctx, "t3", Vote{VoterID: "a1", OptionID: "A"}))

	time.Sleep(50 * time.Millisecond)

	status, err := engine.Status("t3")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, status.Status)

	history := engine.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, LegitimacyNoQuorum, history[0].Legitimacy)
	assert.False(t, history[0].TieBreakUsed)
}

func TestCloseIsIdempotentAfterFirstCall(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultConfig())

	topic := Topic{ID: "t4", Options: []Option{optID("A"), optID("B")}}
	// Two eligible voters and one vote keep the round open until Close.
	_, err := engine.Open(ctx, topic, []string{"a1", "a2"})
	require.NoError(t, err)
	require.NoError(t, engine.Cast(ctx, "t4", Vote{VoterID: "a1", OptionID: "A"}))

	first, err := engine.Close(ctx, "t4")
	require.NoError(t, err)

	second, err := engine.Close(ctx, "t4")
	require.Error(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.Winner, second.Winner)
	assert.Equal(t, first.Legitimacy, second.Legitimacy)
}

func TestCloseUnknownVotingReturnsSyntheticNoQuorum(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	result, err := engine.Close(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, LegitimacyNoQuorum, result.Legitimacy)
	assert.Nil(t, result.Winner)
}

func TestCastRejectsDuplicateVote(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultConfig())
	topic := Topic{ID: "t5", Options: []Option{optID("A"), optID("B")}}
	_, err := engine.Open(ctx, topic, []string{"a1", "a2"})
	require.NoError(t, err)

	require.NoError(t, engine.Cast(ctx, "t5", Vote{VoterID: "a1", OptionID: "A"}))
	err = engine.Cast(ctx, "t5", Vote{VoterID: "a1", OptionID: "B"})
	assert.Error(t, err)
}

func TestCastRejectsIneligibleVoter(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultConfig())
	topic := Topic{ID: "t6", Options: []Option{optID("A")}}
	_, err := engine.Open(ctx, topic, []string{"a1"})
	require.NoError(t, err)

	err = engine.Cast(ctx, "t6", Vote{VoterID: "intruder", OptionID: "A"})
	assert.Error(t, err)
}

func TestEmptyEligibleVoterSetIsNoQuorum(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(Config{Threshold: 0.5, Quorum: 0.5, TieBreaker: TieBreakQueen, Timeout: time.Millisecond})
	topic := Topic{ID: "t7", Options: []Option{optID("A"), optID("B")}}
	_, err := engine.Open(ctx, topic, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	history := engine.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, LegitimacyNoQuorum, history[0].Legitimacy)
}
