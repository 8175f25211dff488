package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// permanenter is implemented by errors that must not be retried.
type permanenter interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p permanenter
	return errors.As(err, &p) && p.Permanent()
}

// Pool runs jobs from one queue with a fixed number of workers. Each
// worker claims at most one job at a time, so a long fetch never holds
// work hostage in a local prefetch buffer.
type Pool struct {
	queueName string
	workers   int
	store     *Store
	registry  *Registry
	opts      Options
	log       zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool creates a worker pool for one queue.
func NewPool(queueName string, workers int, store *Store, registry *Registry, opts Options, log zerolog.Logger) *Pool {
	return &Pool{
		queueName: queueName,
		workers:   workers,
		store:     store,
		registry:  registry,
		opts:      opts,
		log:       log.With().Str("component", "worker_pool").Str("queue", queueName).Logger(),
		stop:      make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.log.Warn().Msg("worker pool already started, ignoring")
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workLoop(i)
	}
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")
}

// Stop signals the workers and waits for in-flight handlers to return
// or hit their hard time limit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

func (p *Pool) workLoop(worker int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", worker).Logger()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		job, err := p.store.Claim(p.queueName)
		if err != nil {
			if !errors.Is(err, ErrNoJob) {
				log.Error().Err(err).Msg("failed to claim job")
			}
			select {
			case <-p.stop:
				return
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}

		p.runJob(log, job)
	}
}

// runJob executes one job under the soft and hard time limits. The
// soft limit cancels the handler context; the hard limit abandons the
// handler goroutine and records the failure without waiting.
func (p *Pool) runJob(log zerolog.Logger, job *Job) {
	handler, ok := p.registry.Get(job.Kind)
	if !ok {
		log.Error().Str("job_id", job.ID).Str("kind", job.Kind).Msg("no handler registered")
		if err := p.store.Nack(job.ID, fmt.Errorf("no handler for kind %q", job.Kind), true); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to nack job")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SoftTimeLimit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- handler(ctx, job)
	}()

	hardTimer := time.NewTimer(p.opts.HardTimeLimit)
	defer hardTimer.Stop()

	var result error
	select {
	case result = <-done:
	case <-hardTimer.C:
		cancel()
		result = fmt.Errorf("hard time limit %s exceeded", p.opts.HardTimeLimit)
		log.Error().Str("job_id", job.ID).Str("kind", job.Kind).
			Msg("hard time limit exceeded, abandoning handler")
	}

	p.settle(log, job, result)
}

func (p *Pool) settle(log zerolog.Logger, job *Job, result error) {
	if result == nil {
		if err := p.store.Ack(job.ID); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to ack job")
		}
		log.Debug().Str("job_id", job.ID).Str("kind", job.Kind).
			Str("security", job.SecurityID).Msg("job completed")
		return
	}

	permanent := isPermanent(result)
	if err := p.store.Nack(job.ID, result, permanent); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to nack job")
	}
}
