// Package worker runs background jobs keyed by user. Jobs with the same key
// always land on the same shard and run one after another in submission
// order; different keys run in parallel across shards.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/tahcohcat/studyquest/internal/logger"
)

// ErrClosed is returned by Submit after Close was called.
var ErrClosed = errors.New("dispatcher is closed")

// Job is a unit of background work.
type Job func(ctx context.Context)

type task struct {
	key string
	job Job
}

// Pool is a sharded dispatcher with one goroutine per shard.
type Pool struct {
	shards []chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Log

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers shards, each with a queue of queueSize jobs.
// Submit blocks while the target shard's queue is full.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		shards: make([]chan task, workers),
		ctx:    ctx,
		cancel: cancel,
		log:    logger.New().With("component", "worker"),
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, queueSize)
		p.wg.Add(1)
		go p.run(p.shards[i])
	}
	return p
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Submit queues job behind every earlier job with the same key.
func (p *Pool) Submit(key string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.shards[p.shardFor(key)] <- task{key: key, job: job}
	return nil
}

func (p *Pool) run(queue <-chan task) {
	defer p.wg.Done()
	for t := range queue {
		p.exec(t)
	}
}

func (p *Pool) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.With("key", t.key).WithError(fmt.Errorf("%v", r)).Error("background job panicked")
		}
	}()
	t.job(p.ctx)
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx
// ends first the running jobs see their context cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, shard := range p.shards {
		close(shard)
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
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool did not drain in time: %w", ctx.Err())
	}
}

// Inline runs every job immediately on the caller's goroutine.
type Inline struct{}

func (Inline) Submit(_ string, job Job) error {
	job(context.Background())
	return nil
}
