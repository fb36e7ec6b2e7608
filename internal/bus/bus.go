// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus fans job events out to live subscribers.
package bus

import "context"

// Message is an opaque payload.
type Message any

// Bus publishes messages on topics.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
	// CloseTopic ends every subscription on topic.
	CloseTopic(topic string)
}

// Subscriber receives messages for one topic. C is never closed; Done is
// closed when the subscription ends, after which C holds at most the
// messages already buffered.
type Subscriber interface {
	C() <-chan Message
	Done() <-chan struct{}
	Close() error
}
