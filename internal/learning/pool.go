// Package learning runs post-turn processing off the request path: fact
// extraction and profile learning.
package learning

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rev4nchist/agent-arch/internal/memory"
)

// Outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
	OutcomeCancelled = "cancelled"
)

// Job is the work captured after a turn has been stored.
type Job struct {
	ID              string
	UserID          string
	SessionID       string
	SegmentID       string
	TopicLabel      string
	Query           string
	ResponseSummary string
	Entities        []memory.KnownEntity
	SubmittedAt     time.Time
}

// Processor handles one job.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

type Observer interface {
	ObserveBackgroundTask(outcome string)
}

type PoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, QueueSize: 256, JobTimeout: 30 * time.Second}
}

// Pool is a bounded worker pool. Submit never blocks.
type Pool struct {
	cfg       PoolConfig
	processor Processor
	observer  Observer
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan Job
	wg      sync.WaitGroup
}

func NewPool(cfg PoolConfig, processor Processor, observer Observer, logger *slog.Logger) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:       cfg,
		processor: processor,
		observer:  observer,
		logger:    logger,
		queue:     make(chan Job, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit enqueues a job and reports whether it was accepted. A full queue
// or a closed pool drops the job.
func (p *Pool) Submit(job Job) bool {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(job, "closed")
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		p.drop(job, "queue_full")
		return false
	}
}

// Close stops accepting jobs, drains the queue and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		for job := range p.queue {
			p.run(job)
		}
		return
	}
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	err := p.processor.Process(ctx, job)
	switch {
	case err == nil:
		p.observe(OutcomeCompleted)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.observe(OutcomeCancelled)
		p.logger.Warn("background job cancelled", "job_id", job.ID, "user_id", job.UserID, "err", err)
	default:
		p.observe(OutcomeFailed)
		p.logger.Warn("background job failed", "job_id", job.ID, "user_id", job.UserID, "err", err)
	}
}

func (p *Pool) drop(job Job, reason string) {
	p.observe(OutcomeDropped)
	p.logger.Warn("background job dropped", "job_id", job.ID, "user_id", job.UserID, "reason", reason)
}

func (p *Pool) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObserveBackgroundTask(outcome)
	}
}
