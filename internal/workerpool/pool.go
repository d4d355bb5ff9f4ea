// Package workerpool provides the bounded pool used for CPU-bound
// simulation work: a fixed core of workers, a fixed-size queue, growth up to
// a maximum under pressure, and caller-runs overflow beyond that.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrShutdown is returned by Submit after Shutdown has begun
var ErrShutdown = errors.New("workerpool: pool is shut down")

// idleTimeout is how long a surge worker waits for work before retiring
const idleTimeout = 30 * time.Second

// Pool is a bounded worker pool
type Pool struct {
	tasks chan func()
	core  int
	max   int

	workers atomic.Int32
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a pool with core resident workers, growth to max, and a task
// queue of the given size.
func New(core, max, queue int) *Pool {
	if core < 1 {
		core = 1
	}
	if max < core {
		max = core
	}
	p := &Pool{
		tasks: make(chan func(), queue),
		core:  core,
		max:   max,
	}
	for i := 0; i < core; i++ {
		p.spawn(true)
	}
	return p
}

func (p *Pool) spawn(resident bool) {
	p.workers.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.workers.Add(-1)
		if resident {
			for task := range p.tasks {
				task()
			}
			return
		}
		// Surge workers retire after an idle period
		idle := time.NewTimer(idleTimeout)
		defer idle.Stop()
		for {
			select {
			case task, ok := <-p.tasks:
				if !ok {
					return
				}
				task()
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(idleTimeout)
			case <-idle.C:
				return
			}
		}
	}()
}

// Submit runs the task on the pool. When the queue is full the pool grows up
// to max workers; past that the task runs on the calling goroutine, applying
// backpressure to the producer.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}

	select {
	case p.tasks <- task:
		p.mu.Unlock()
		return nil
	default:
	}

	if int(p.workers.Load()) < p.max {
		p.spawn(false)
		select {
		case p.tasks <- task:
			p.mu.Unlock()
			return nil
		default:
		}
	}
	p.mu.Unlock()

	// Caller-runs overflow
	task()
	return nil
}

// Workers returns the current worker count
func (p *Pool) Workers() int { return int(p.workers.Load()) }

// Shutdown stops intake and waits for queued work to drain, up to the
// context deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
