// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// MemoryBus is an in-process pub/sub. A subscriber that cannot keep up with a
// publish context is evicted rather than stalling the publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	buffer int
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub), buffer: DefaultBuffer}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish delivers msg to every subscriber of topic. It blocks per subscriber
// until the message is buffered, the subscriber ends, or ctx is done; in the
// last case the subscriber is evicted and the error returned.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.RecordBusDrop(reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 1 {
				log.L().Warn().
					Str("event", "bus.subscriber_evicted").
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("evicting slow subscriber")
			}
			_ = s.Close()
			if firstErr == nil {
				firstErr = fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
			}
		}
	}
	return firstErr
}

// Subscribe registers a subscriber on topic. It ends when ctx is done,
// Close is called, or the topic is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	s := &memSub{
		b:     b,
		topic: topic,
		ch:    make(chan Message, b.buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = s.Close()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

// CloseTopic ends all subscriptions on topic.
func (b *MemoryBus) CloseTopic(topic string) {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, s := range subs {
		s.end()
	}
}

// Subscribers returns the number of live subscribers on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *memSub) C() <-chan Message     { return s.ch }
func (s *memSub) Done() <-chan struct{} { return s.done }
func (s *memSub) end()                  { s.once.Do(func() { close(s.done) }) }

// Close unregisters the subscriber. The message channel stays open so a
// concurrent Publish can never send on a closed channel.
func (s *memSub) Close() error {
	s.b.mu.Lock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	s.b.mu.Unlock()

	s.end()
	return nil
}

// Ensure compliance
var _ Bus = (*MemoryBus)(nil)
