// Package worker runs background jobs on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/54b3r/rfpai-go/internal/logging"
)

const (
	// DefaultWorkers is the number of goroutines started when Config.Workers is 0.
	DefaultWorkers = 4
	// DefaultQueueSize is the queue capacity used when Config.QueueSize is 0.
	DefaultQueueSize = 64
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrClosed is returned by Submit after Shutdown has begun.
	ErrClosed = errors.New("worker: pool closed")
)

// Job is a unit of background work. The context is cancelled when the pool is
// forced down.
type Job func(ctx context.Context)

// Config sizes a Pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Pool is a fixed goroutine pool. Jobs never block Submit: when the queue is
// full the caller gets ErrQueueFull and decides what to do.
type Pool struct {
	jobs   chan Job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	log    *slog.Logger
}

// New starts the pool's workers. Jobs run with a context derived from ctx
// that keeps its values (logger included).
func New(ctx context.Context, cfg *Config) *Pool {
	if cfg == nil {
		cfg = &Config{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Pool{
		jobs:   make(chan Job, size),
		cancel: cancel,
		log:    logging.FromContext(ctx),
	}
	for i := range workers {
		p.wg.Add(1)
		go p.loop(runCtx, i)
	}
	p.log.Info("worker pool started", slog.Int("workers", workers), slog.Int("queue_size", size))
	return p
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, id, job)
	}
}

// run isolates a panicking job so the worker survives it.
func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker: job panicked", slog.Int("worker", id), slog.Any("panic", r))
		}
	}()
	job(ctx)
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int { return len(p.jobs) }

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx ends first, running jobs are cancelled and ctx.Err() is
// returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker: shutdown: %w", ctx.Err())
	}
}
