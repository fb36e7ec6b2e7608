// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/vidlint/internal/bus"
	"github.com/ManuGH/vidlint/internal/protocol"
)

// DefaultPublishTimeout bounds how long one slow follower can hold up a job.
const DefaultPublishTimeout = 2 * time.Second

// Journal records every event of one job in order and fans it out on the
// bus. Followers replay the journal and then switch to live delivery, so a
// reattaching client sees the whole stream exactly once.
type Journal struct {
	topic          string
	bus            bus.Bus
	publishTimeout time.Duration

	// pubMu keeps bus delivery in sequence order.
	pubMu sync.Mutex

	mu     sync.Mutex
	events []protocol.Event
	closed bool
}

// NewJournal returns an open journal publishing on topic.
func NewJournal(topic string, b bus.Bus, publishTimeout time.Duration) *Journal {
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Journal{topic: topic, bus: b, publishTimeout: publishTimeout}
}

// Append stamps ev with the next sequence number, records it and publishes
// it. Events appended after Close are dropped.
func (j *Journal) Append(ev protocol.Event) (protocol.Event, bool) {
	j.pubMu.Lock()
	defer j.pubMu.Unlock()

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ev, false
	}
	ev.Seq = int64(len(j.events) + 1)
	j.events = append(j.events, ev)
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), j.publishTimeout)
	// A follower that cannot keep up is evicted and catches up from the journal.
	_ = j.bus.Publish(ctx, j.topic, ev)
	cancel()
	return ev, true
}

// Snapshot returns a copy of the recorded events.
func (j *Journal) Snapshot() []protocol.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]protocol.Event(nil), j.events...)
}

// Len returns the number of recorded events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// Closed reports whether the stream has ended.
func (j *Journal) Closed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// Close ends the stream and every live subscription.
func (j *Journal) Close() {
	j.pubMu.Lock()
	defer j.pubMu.Unlock()

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.mu.Unlock()
	j.bus.CloseTopic(j.topic)
}

// Follow calls fn for every event, recorded ones first, until the journal is
// closed, ctx is done or fn fails. Each event is delivered once, in order.
func (j *Journal) Follow(ctx context.Context, fn func(protocol.Event) error) error {
	var last int64
	deliver := func(ev protocol.Event) error {
		if ev.Seq <= last {
			return nil
		}
		last = ev.Seq
		return fn(ev)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		j.mu.Lock()
		backlog := append([]protocol.Event(nil), j.events[min(int(last), len(j.events)):]...)
		closed := j.closed
		var sub bus.Subscriber
		if !closed {
			s, err := j.bus.Subscribe(ctx, j.topic)
			if err != nil {
				j.mu.Unlock()
				return err
			}
			sub = s
		}
		j.mu.Unlock()

		for _, ev := range backlog {
			if err := deliver(ev); err != nil {
				closeSub(sub)
				return err
			}
		}
		if sub == nil {
			return nil
		}

		if err := j.consume(ctx, sub, deliver); err != nil {
			return err
		}
		// The subscription ended: topic closed or follower evicted. Either
		// way the journal holds what was missed.
	}
}

func (j *Journal) consume(ctx context.Context, sub bus.Subscriber, deliver func(protocol.Event) error) error {
	defer closeSub(sub)
	for {
		select {
		case msg := <-sub.C():
			if ev, ok := msg.(protocol.Event); ok {
				if err := deliver(ev); err != nil {
					return err
				}
			}
		case <-sub.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func closeSub(sub bus.Subscriber) {
	if sub != nil {
		_ = sub.Close()
	}
}
