// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/vidlint/internal/bus"
	"github.com/ManuGH/vidlint/internal/fetch"
	"github.com/ManuGH/vidlint/internal/gate"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/ManuGH/vidlint/internal/protocol"
	"github.com/ManuGH/vidlint/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultLinger keeps finished jobs attachable so late followers can replay
// the complete stream.
const DefaultLinger = 2 * time.Minute

const msgShuttingDown = "Server is shutting down; the job was not started."

// Options configures a Manager.
type Options struct {
	Runner   *Runner
	Gate     *gate.Gate
	Sessions session.Store
	Bus      bus.Bus
	Logger   zerolog.Logger

	// Linger is how long a finished job stays in memory. Zero means
	// DefaultLinger; negative forgets jobs immediately.
	Linger         time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Manager admits jobs through the gate, runs them and keeps them reachable
// by job and session id while they are live.
type Manager struct {
	runner         *Runner
	gate           *gate.Gate
	sessions       session.Store
	bus            bus.Bus
	logger         zerolog.Logger
	linger         time.Duration
	publishTimeout time.Duration
	now            func() time.Time

	// ctx is the parent of every job run; cancelled when draining times out.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*Job
	bySession map[string]*Job

	announceMu sync.Mutex
	announced  map[string]int
}

// NewManager wires a manager and registers it for gate movement.
func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:         opts.Runner,
		gate:           opts.Gate,
		sessions:       opts.Sessions,
		bus:            opts.Bus,
		logger:         opts.Logger,
		linger:         opts.Linger,
		publishTimeout: opts.PublishTimeout,
		now:            opts.Now,
		ctx:            ctx,
		cancel:         cancel,
		jobs:           make(map[string]*Job),
		bySession:      make(map[string]*Job),
		announced:      make(map[string]int),
	}
	if m.linger == 0 {
		m.linger = DefaultLinger
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.bus == nil {
		m.bus = bus.NewMemoryBus()
	}
	if m.runner != nil && m.runner.InUse == nil {
		m.runner.InUse = m.busy
	}
	m.gate.OnChange(m.announcePositions)
	return m
}

// Submit validates req, records its session and queues the job. The returned
// job is either running or waiting in the gate. On error the caller keeps
// ownership of req.Source.FilePath.
func (m *Manager) Submit(ctx context.Context, req Request) (*Job, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, ErrMissingPrompt
	}
	if err := req.Source.Validate(); err != nil {
		return nil, err
	}
	if req.Source.URL != "" {
		if _, err := fetch.ValidateYouTubeURL(req.Source.URL); err != nil {
			return nil, err
		}
	}

	now := m.now()
	jobID := history.NewID(now)
	sessionID, err := m.createSession(ctx, req.SessionID, jobID, now)
	if err != nil {
		return nil, err
	}

	j := newJob(jobID, sessionID, req, now, NewJournal(jobID, m.bus, m.publishTimeout))
	j.events.Append(protocol.IDs(sessionID, jobID))
	logger := m.logger.With().
		Str(log.FieldJobID, jobID).
		Str(log.FieldSessionID, sessionID).
		Logger()

	m.mu.Lock()
	m.jobs[jobID] = j
	m.bySession[sessionID] = j
	m.mu.Unlock()

	ticket, err := m.gate.Enqueue(jobID)
	if err != nil {
		m.forget(j)
		if _, serr := m.sessions.Advance(context.WithoutCancel(ctx), sessionID, session.StatusFailed, err.Error()); serr != nil {
			logger.Warn().Err(serr).Str(log.FieldEvent, "session.advance_failed").Msg("failed to record rejected job")
		}
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "job.rejected").
			Msg("job rejected by gate")
		return nil, err
	}
	m.announce(j)

	if pos := ticket.Position(); pos > 0 {
		logger.Info().
			Str(log.FieldEvent, "job.queued").
			Int(log.FieldQueuePosition, pos).
			Msg("job queued")
	}

	m.wg.Add(1)
	go m.execute(j, ticket, logger)
	return j, nil
}

func (m *Manager) createSession(ctx context.Context, requested, jobID string, now time.Time) (string, error) {
	id := requested
	if id == "" || !history.ValidID(id) {
		id = uuid.NewString()
	}
	for attempt := 0; attempt < 2; attempt++ {
		err := m.sessions.Create(ctx, session.New(id, jobID, now))
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, session.ErrExists) {
			return "", fmt.Errorf("create session: %w", err)
		}
		// The client reused a handle; issue a fresh one.
		id = uuid.NewString()
	}
	return "", fmt.Errorf("create session: %w", session.ErrExists)
}

func (m *Manager) execute(j *Job, ticket *gate.Ticket, logger zerolog.Logger) {
	defer m.wg.Done()
	defer m.finish(j)

	if err := ticket.Wait(m.ctx); err != nil {
		m.abort(j, logger)
		return
	}
	defer ticket.Release()

	logger.Info().
		Str(log.FieldEvent, "job.admitted").
		Int(log.FieldActiveJobs, m.gate.Stats().Active).
		Msg("job admitted")
	m.runner.Run(m.ctx, j)

	// Mirroring runs outside the gate slot.
	ticket.Release()
	m.runner.Mirror(m.ctx, j.ID)
}

// abort ends a job that never got a slot.
func (m *Manager) abort(j *Job, logger zerolog.Logger) {
	j.fail(msgShuttingDown)
	j.events.Append(protocol.JobError(msgShuttingDown))
	if j.Source.FilePath != "" {
		if err := removeFile(j.Source.FilePath); err != nil {
			metrics.RecordCleanupFailure("source")
		}
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.sessions.Advance(sctx, j.SessionID, session.StatusFailed, msgShuttingDown); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "session.advance_failed").Msg("failed to record aborted job")
	}
	metrics.RecordJob(string(session.StatusFailed), 0)
	j.events.Append(protocol.Done(string(session.StatusFailed)))
	logger.Warn().Str(log.FieldEvent, "job.aborted").Msg("queued job aborted")
}

func (m *Manager) finish(j *Job) {
	j.events.Close()
	close(j.done)

	m.announceMu.Lock()
	delete(m.announced, j.ID)
	m.announceMu.Unlock()

	if m.linger < 0 {
		m.forget(j)
		return
	}
	time.AfterFunc(m.linger, func() { m.forget(j) })
}

func (m *Manager) forget(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[j.ID] == j {
		delete(m.jobs, j.ID)
	}
	if m.bySession[j.SessionID] == j {
		delete(m.bySession, j.SessionID)
	}
}

// announcePositions emits a queue event for every waiting job whose
// position changed.
func (m *Manager) announcePositions() {
	m.mu.Lock()
	waiting := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State() == StateQueued {
			waiting = append(waiting, j)
		}
	}
	m.mu.Unlock()

	for _, j := range waiting {
		m.announce(j)
	}
}

func (m *Manager) announce(j *Job) {
	m.announceMu.Lock()
	defer m.announceMu.Unlock()

	pos := m.gate.Position(j.ID)
	if pos == 0 || pos == m.announced[j.ID] {
		return
	}
	m.announced[j.ID] = pos
	j.events.Append(protocol.Queue(pos))
}

// Job returns a live or lingering job by id.
func (m *Manager) Job(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// BySession returns a live or lingering job by session id.
func (m *Manager) BySession(sessionID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.bySession[sessionID]
	return j, ok
}

// Running reports whether job id has not yet reached a terminal state.
func (m *Manager) Running(id string) bool {
	j, ok := m.Job(id)
	return ok && !j.State().Terminal()
}

// busy reports whether job id is still held by this manager, including the
// archive mirror that follows its terminal state.
func (m *Manager) busy(id string) bool {
	j, ok := m.Job(id)
	if !ok {
		return false
	}
	select {
	case <-j.Done():
		return false
	default:
		return true
	}
}

// QueuePosition returns the 1-based queue position of job id, or 0.
func (m *Manager) QueuePosition(id string) int {
	return m.gate.Position(id)
}

// Stats returns the gate counters.
func (m *Manager) Stats() gate.Stats {
	return m.gate.Stats()
}

// Shutdown stops admitting jobs and waits for running ones. When ctx ends
// first, running jobs are cancelled and their cleanup awaited.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.gate.Close()
	err := m.gate.Drain(ctx)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "jobs.drain_timeout").
			Msg("drain timed out; cancelling running jobs")
	}
	m.cancel()
	m.wg.Wait()
	return err
}
