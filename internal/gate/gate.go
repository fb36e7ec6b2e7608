// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate bounds the number of concurrently running jobs and queues the
// rest in FIFO order.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/vidlint/internal/metrics"
)

var (
	// ErrQueueFull is returned when the waiting queue is at its cap.
	ErrQueueFull = errors.New("job queue is full")
	// ErrClosed is returned once the gate stops accepting jobs.
	ErrClosed = errors.New("gate closed")
)

// Stats is a point-in-time view of the gate.
type Stats struct {
	Active   int `json:"active"`
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
	MaxQueue int `json:"maxQueue"`
}

// Gate admits up to capacity holders at a time. Waiting tickets are admitted
// strictly in arrival order; there is no priority and no preemption.
type Gate struct {
	mu       sync.Mutex
	capacity int
	maxQueue int
	active   int
	queue    []*Ticket
	closed   bool
	idle     chan struct{}
	onChange func()
}

// New returns a gate admitting capacity concurrent holders. maxQueue bounds
// the number of waiting tickets; zero or less means unbounded.
func New(capacity, maxQueue int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{capacity: capacity, maxQueue: maxQueue}
	g.publishLocked()
	return g
}

// OnChange registers fn to run after every admission or queue movement.
// fn runs without the gate's lock held.
func (g *Gate) OnChange(fn func()) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Enqueue registers a job. The returned ticket is either admitted already
// (Position 0) or waiting at a 1-based position.
func (g *Gate) Enqueue(id string) (*Ticket, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	free := g.active < g.capacity && len(g.queue) == 0
	if !free && g.maxQueue > 0 && len(g.queue) >= g.maxQueue {
		g.mu.Unlock()
		metrics.RecordQueueRejection()
		return nil, ErrQueueFull
	}

	t := &Ticket{g: g, id: id, ready: make(chan struct{}), enqueued: time.Now()}
	g.queue = append(g.queue, t)
	changed := g.admitLocked()
	fn := g.onChange
	g.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
	return t, nil
}

// Position returns the 1-based queue position of id, or 0 when id is not
// waiting.
func (g *Gate) Position(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range g.queue {
		if t.id == id {
			return i + 1
		}
	}
	return 0
}

// Stats returns the current counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Active: g.active, Queued: len(g.queue), Capacity: g.capacity, MaxQueue: g.maxQueue}
}

// SetCapacity changes the number of concurrent holders. Raising it admits
// waiting tickets immediately; lowering it takes effect as holders release.
func (g *Gate) SetCapacity(n int) {
	if n < 1 {
		n = 1
	}
	g.mu.Lock()
	g.capacity = n
	changed := g.admitLocked()
	g.publishLocked()
	fn := g.onChange
	g.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// SetMaxQueue changes the queue cap. Tickets already waiting are kept.
func (g *Gate) SetMaxQueue(n int) {
	g.mu.Lock()
	g.maxQueue = n
	g.mu.Unlock()
}

// Close stops accepting jobs and fails every waiting ticket with ErrClosed.
// Admitted holders keep running; Drain waits for them.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.idle = make(chan struct{})
	waiting := g.queue
	g.queue = nil
	for _, t := range waiting {
		t.err = ErrClosed
		close(t.ready)
	}
	if g.active == 0 {
		close(g.idle)
	}
	g.publishLocked()
	fn := g.onChange
	g.mu.Unlock()

	if len(waiting) > 0 && fn != nil {
		fn()
	}
}

// Drain waits until a closed gate has no active holders.
func (g *Gate) Drain(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()
	if idle == nil {
		return errors.New("gate not closed")
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admitLocked starts waiting tickets while capacity allows and reports
// whether anything changed.
func (g *Gate) admitLocked() bool {
	changed := false
	for g.active < g.capacity && len(g.queue) > 0 {
		t := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]
		g.active++
		t.admitted = true
		metrics.ObserveGateWait(time.Since(t.enqueued).Seconds())
		close(t.ready)
		changed = true
	}
	g.publishLocked()
	return changed
}

func (g *Gate) release() {
	g.mu.Lock()
	g.active--
	changed := g.admitLocked()
	if g.closed && g.active == 0 {
		select {
		case <-g.idle:
		default:
			close(g.idle)
		}
	}
	fn := g.onChange
	g.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

func (g *Gate) abandon(t *Ticket) bool {
	g.mu.Lock()
	removed := false
	for i, q := range g.queue {
		if q == t {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			removed = true
			break
		}
	}
	g.publishLocked()
	fn := g.onChange
	g.mu.Unlock()

	if removed && fn != nil {
		fn()
	}
	return removed
}

func (g *Gate) publishLocked() {
	metrics.SetGateState(g.active, len(g.queue), g.capacity)
}

// Ticket is one job's claim on the gate.
type Ticket struct {
	g        *Gate
	id       string
	ready    chan struct{}
	enqueued time.Time
	admitted bool
	err      error
	once     sync.Once
}

// ID returns the job id the ticket was issued for.
func (t *Ticket) ID() string { return t.id }

// Position returns the current 1-based queue position, or 0 once admitted.
func (t *Ticket) Position() int {
	return t.g.Position(t.id)
}

// Wait blocks until the ticket is admitted. If ctx ends first the ticket
// leaves the queue and ctx's error is returned.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.ready:
		return t.err
	case <-ctx.Done():
	}
	if t.g.abandon(t) {
		return ctx.Err()
	}
	// Admitted concurrently with cancellation.
	<-t.ready
	if t.err != nil {
		return t.err
	}
	t.Release()
	return ctx.Err()
}

// Release frees the slot of an admitted ticket and admits the next waiter.
// It is idempotent and a no-op for tickets that were never admitted.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.g.mu.Lock()
		admitted := t.admitted
		t.g.mu.Unlock()
		if admitted {
			t.g.release()
		}
	})
}
