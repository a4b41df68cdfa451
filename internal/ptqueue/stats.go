package ptqueue

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Statistics exposes the four broker-facing instruments named by the
// spec — enqueues, dequeues, messages (depth), consumers — each wired as an
// OpenTelemetry instrument with an optional parent for hierarchical rollup
// (a destination's stats roll up into its namespace, which rolls up into the
// broker).
type Statistics struct {
	name   string
	parent *Statistics

	enqueues  metric.Int64Counter
	dequeues  metric.Int64Counter
	messages  metric.Int64UpDownCounter
	consumers metric.Int64UpDownCounter
}

// NewStatistics builds the four instruments under meter, tagged with name.
// parent may be nil for a root (broker-level) Statistics.
func NewStatistics(meter metric.Meter, name string, parent *Statistics) (*Statistics, error) {
	enqueues, err := meter.Int64Counter(
		"ptqueue.enqueues",
		metric.WithDescription("messages accepted by send()"),
	)
	if err != nil {
		return nil, err
	}
	dequeues, err := meter.Int64Counter(
		"ptqueue.dequeues",
		metric.WithDescription("messages successfully dispatched"),
	)
	if err != nil {
		return nil, err
	}
	messages, err := meter.Int64UpDownCounter(
		"ptqueue.messages",
		metric.WithDescription("current queue depth"),
	)
	if err != nil {
		return nil, err
	}
	consumers, err := meter.Int64UpDownCounter(
		"ptqueue.consumers",
		metric.WithDescription("active subscriptions"),
	)
	if err != nil {
		return nil, err
	}
	return &Statistics{
		name:      name,
		parent:    parent,
		enqueues:  enqueues,
		dequeues:  dequeues,
		messages:  messages,
		consumers: consumers,
	}, nil
}

// Enqueue records one accepted send, bumping depth, and rolls up to parent.
func (s *Statistics) Enqueue(ctx context.Context) {
	if s == nil {
		return
	}
	s.enqueues.Add(ctx, 1)
	s.messages.Add(ctx, 1)
	if s.parent != nil {
		s.parent.Enqueue(ctx)
	}
}

// Dequeue records one successful dispatch and rolls up to parent. It does
// not itself adjust depth: depth tracks paged-in/pending presence, which is
// only cleared by DepthDecrement when a message is dropped (acknowledged,
// expired, or administratively removed), matching the spec's
// note that dequeue and ack-driven depth changes are distinct events.
func (s *Statistics) Dequeue(ctx context.Context) {
	if s == nil {
		return
	}
	s.dequeues.Add(ctx, 1)
	if s.parent != nil {
		s.parent.Dequeue(ctx)
	}
}

// DepthDecrement records a drop (ack, expiration, or administrative removal),
// rolling up to parent.
func (s *Statistics) DepthDecrement(ctx context.Context) {
	if s == nil {
		return
	}
	s.messages.Add(ctx, -1)
	if s.parent != nil {
		s.parent.DepthDecrement(ctx)
	}
}

// ConsumerAdded records a subscription joining, rolling up to parent.
func (s *Statistics) ConsumerAdded(ctx context.Context) {
	if s == nil {
		return
	}
	s.consumers.Add(ctx, 1)
	if s.parent != nil {
		s.parent.ConsumerAdded(ctx)
	}
}

// ConsumerRemoved records a subscription departing, rolling up to parent.
func (s *Statistics) ConsumerRemoved(ctx context.Context) {
	if s == nil {
		return
	}
	s.consumers.Add(ctx, -1)
	if s.parent != nil {
		s.parent.ConsumerRemoved(ctx)
	}
}
