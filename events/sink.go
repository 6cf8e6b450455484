// Package events defines the observability event contract shared by the
// voting, pattern, agent, queen, workflow and scheduler packages. Rather
// than emitting through a global process-wide bus, every component is
// constructed with an explicit Sink so tests and embedders can observe
// (or discard) the event stream without a package-level singleton.
package events

import (
	"context"
	"sync"
	"time"
)

// Event is a single observability event. Payload is intentionally
// loosely typed (map[string]interface{}) to mirror core.Logger's field
// bag convention, so the same value can be forwarded straight into a
// Logger call or serialized for an external subscriber.
type Event struct {
	Name      string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Sink receives events published by swarm and workflow components. Name
// follows a "<component>:<occurrence>" convention, e.g.
// "majority:voting-started", "queen:approval-required", "step:error".
type Sink interface {
	Publish(ctx context.Context, name string, payload map[string]interface{})
}

// NoOpSink discards every event. It is the default for components that
// are not given an explicit Sink.
type NoOpSink struct{}

func (NoOpSink) Publish(ctx context.Context, name string, payload map[string]interface{}) {}

// ChannelSink buffers published events onto a channel, for tests and for
// wiring a single external subscriber. Publish never blocks: once the
// buffer is full, the oldest unread event is dropped rather than stalling
// the publishing component.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	nowFn  func() time.Time
}

// NewChannelSink creates a ChannelSink with the given buffer depth.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		ch:    make(chan Event, buffer),
		nowFn: time.Now,
	}
}

// Events returns the channel events are delivered on.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Publish implements Sink.
func (s *ChannelSink) Publish(ctx context.Context, name string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt := Event{Name: name, Payload: payload, Timestamp: s.nowFn()}
	select {
	case s.ch <- evt:
	default:
		// drop oldest, then retry once
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Drain collects every currently-buffered event without blocking. Useful
// in tests that want to assert on the full sequence emitted so far.
func (s *ChannelSink) Drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-s.ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}
