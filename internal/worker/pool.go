/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package worker dispatches uploaded archives to the processor with bounded
// concurrency, retry backoff and single-flight per file id.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/events"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/telemetry"
)

// ErrPoolStopped is returned by Start on a pool that has already been stopped.
var ErrPoolStopped = errors.New("worker pool stopped")

// State is the in-memory lifecycle of a file inside the pool.
type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateRetryWait  State = "retry_wait"
)

// Config tunes the pool.
type Config struct {
	Workers        int
	MaxAttempts    uint
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
	// RescanInterval re-reads pending files from the store; zero disables it.
	RescanInterval time.Duration
	ScratchRoot    string
	Extensions     []string
	ThumbnailSizes []int
}

// Deps are the collaborators the pool drives. Chapters and Locker are optional.
type Deps struct {
	Storage   FileStorage
	Store     MetadataStore
	Processor Processor
	Chapters  ChapterBridge
	Locker    Locker
	Events    events.Publisher
}

// Status is a read-only snapshot of a file's processing state.
type Status struct {
	FileID        string            `json:"file_id" yaml:"file_id"`
	Status        models.FileStatus `json:"status" yaml:"status"`
	State         State             `json:"state,omitempty" yaml:"state,omitempty"`
	Attempts      uint              `json:"attempts" yaml:"attempts"`
	ErrorMessage  string            `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty" yaml:"next_attempt_at,omitempty"`
}

type item struct {
	state     State
	attempts  uint
	lastError string
	notBefore time.Time
}

type enqueueRequest struct {
	fileID string
	reply  chan bool
}

type statusRequest struct {
	fileID string
	reply  chan *item
}

// Pool owns the work queue. Queue, delayed set and in-flight set are only
// touched by the controlling loop; workers report back over results.
type Pool struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	enqueueCh chan enqueueRequest
	statusCh  chan statusRequest
	results   chan attemptResult
	jobs      chan string

	attemptCtx context.Context
	abort      context.CancelFunc

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a pool. Call Start before enqueueing.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Pool{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With().Str("component", "worker_pool").Logger(),
		enqueueCh: make(chan enqueueRequest),
		statusCh:  make(chan statusRequest),
		results:   make(chan attemptResult),
		jobs:      make(chan string),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start seeds the queue from the store and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	select {
	case <-p.stop:
		return ErrPoolStopped
	default:
	}
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("worker pool already started")
	}

	pending, err := p.deps.Store.GetPendingFiles(ctx)
	if err != nil {
		p.started.Store(false)
		return fmt.Errorf("seed queue: %w", err)
	}

	p.attemptCtx, p.abort = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.loop(pending)
	if p.cfg.RescanInterval > 0 {
		go p.rescan()
	}

	p.logger.Info().
		Int("workers", p.cfg.Workers).
		Int("seeded", len(pending)).
		Uint("max_attempts", p.cfg.MaxAttempts).
		Msg("worker pool started")
	return nil
}

// Stop ends dispatch and waits for in-flight attempts. When ctx expires
// first, in-flight attempts are cancelled and stop at their next page
// checkpoint; their files return to the queue for the next start.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.started.Load() {
		return nil
	}
	p.stopOnce.Do(func() { close(p.stop) })

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn().Msg("drain deadline reached, interrupting in-flight attempts")
		p.abort()
		<-p.done
		err = fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
	p.abort()
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
	return err
}

// Enqueue schedules a file. It reports false when the file is already
// queued, waiting for a retry, in flight, or the pool is not running.
func (p *Pool) Enqueue(fileID string) bool {
	if !p.started.Load() || fileID == "" {
		return false
	}
	req := enqueueRequest{fileID: fileID, reply: make(chan bool, 1)}
	select {
	case p.enqueueCh <- req:
		return <-req.reply
	case <-p.done:
		return false
	}
}

// Status returns the persisted state of a file overlaid with the pool's
// in-memory view when the file is still queued or running.
func (p *Pool) Status(ctx context.Context, fileID string) (Status, error) {
	file, err := p.deps.Store.GetFile(ctx, fileID)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		FileID:   file.ID,
		Status:   file.Status,
		Attempts: file.ProcessingAttempts,
	}
	if file.ErrorMessage != nil {
		st.ErrorMessage = *file.ErrorMessage
	}

	it := p.snapshot(ctx, fileID)
	if it == nil {
		return st, nil
	}
	st.State = it.state
	switch it.state {
	case StateInProgress:
		st.Status = models.FileProcessing
	default:
		st.Status = models.FileUploaded
	}
	if it.attempts > st.Attempts {
		st.Attempts = it.attempts
	}
	if it.lastError != "" {
		st.ErrorMessage = it.lastError
	}
	if !it.notBefore.IsZero() {
		next := it.notBefore
		st.NextAttemptAt = &next
	}
	return st, nil
}

func (p *Pool) snapshot(ctx context.Context, fileID string) *item {
	if !p.started.Load() {
		return nil
	}
	req := statusRequest{fileID: fileID, reply: make(chan *item, 1)}
	select {
	case p.statusCh <- req:
	case <-p.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	return <-req.reply
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fileID := range p.jobs {
		p.results <- p.attempt(p.attemptCtx, fileID)
	}
}

func (p *Pool) rescan() {
	ticker := time.NewTicker(p.cfg.RescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ids, err := p.deps.Store.GetPendingFiles(p.attemptCtx)
			if err != nil {
				p.logger.Warn().Err(err).Msg("rescan pending files failed")
				continue
			}
			added := 0
			for _, id := range ids {
				if p.Enqueue(id) {
					added++
				}
			}
			if added > 0 {
				p.logger.Debug().Int("added", added).Msg("rescan enqueued files")
			}
		}
	}
}

// loop is the controlling goroutine.
func (p *Pool) loop(seed []string) {
	defer close(p.done)

	items := make(map[string]*item)
	var queue []string
	inFlight := 0
	stopping := false

	admit := func(id string) bool {
		if stopping {
			return false
		}
		if _, busy := items[id]; busy {
			return false
		}
		items[id] = &item{state: StateQueued}
		queue = append(queue, id)
		return true
	}
	for _, id := range seed {
		admit(id)
	}

	stopCh := p.stop
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		delayed := 0
		var wake time.Time
		for _, it := range items {
			if it.state != StateRetryWait {
				continue
			}
			delayed++
			if wake.IsZero() || it.notBefore.Before(wake) {
				wake = it.notBefore
			}
		}
		telemetry.WorkerQueueDepth.Set(float64(len(queue) + delayed))

		if stopping && inFlight == 0 {
			return
		}

		var jobs chan<- string
		var next string
		if !stopping && len(queue) > 0 {
			jobs = p.jobs
			next = queue[0]
		}
		var timerC <-chan time.Time
		if !stopping && !wake.IsZero() {
			timer.Reset(time.Until(wake))
			timerC = timer.C
		}

		select {
		case req := <-p.enqueueCh:
			req.reply <- admit(req.fileID)

		case req := <-p.statusCh:
			if it, ok := items[req.fileID]; ok {
				cp := *it
				req.reply <- &cp
			} else {
				req.reply <- nil
			}

		case jobs <- next:
			queue = queue[1:]
			items[next].state = StateInProgress
			items[next].notBefore = time.Time{}
			inFlight++

		case res := <-p.results:
			inFlight--
			p.settle(items, res)

		case now := <-timerC:
			for id, it := range items {
				if it.state == StateRetryWait && !it.notBefore.After(now) {
					it.state = StateQueued
					queue = append(queue, id)
				}
			}

		case <-stopCh:
			stopCh = nil
			stopping = true
			close(p.jobs)
			p.logger.Info().
				Int("in_flight", inFlight).
				Int("abandoned", len(queue)+delayed).
				Msg("worker pool draining")
		}

		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// settle applies an attempt result to the in-memory state.
func (p *Pool) settle(items map[string]*item, res attemptResult) {
	it, ok := items[res.fileID]
	if !ok {
		return
	}
	switch res.outcome {
	case outcomeRetry:
		it.state = StateRetryWait
		it.attempts = res.attempts
		it.lastError = res.message
		it.notBefore = time.Now().Add(Backoff(p.cfg.BackoffBase, p.cfg.BackoffCap, res.attempts))
	case outcomeDeferred:
		it.state = StateRetryWait
		it.lastError = res.message
		it.notBefore = time.Now().Add(Backoff(p.cfg.BackoffBase, p.cfg.BackoffCap, 1))
	default:
		delete(items, res.fileID)
	}
}
