package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSinkPublishAndDrain(t *testing.T) {
	sink := NewChannelSink(4)
	ctx := context.Background()

	sink.Publish(ctx, "voting:opened", map[string]interface{}{"topic_id": "t1"})
	sink.Publish(ctx, "voting:closed", map[string]interface{}{"topic_id": "t1"})

	drained := sink.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "voting:opened", drained[0].Name)
	assert.Equal(t, "voting:closed", drained[1].Name)
	assert.Empty(t, sink.Drain())
}

func TestChannelSinkDropsOldestWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	ctx := context.Background()

	sink.Publish(ctx, "first", nil)
	sink.Publish(ctx, "second", nil)

	drained := sink.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "second", drained[0].Name)
}

func TestNoOpSinkDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NoOpSink{}.Publish(context.Background(), "anything", map[string]interface{}{"k": "v"})
	})
}
