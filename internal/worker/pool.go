// Package worker provides the fixed goroutine pool and cancellable delayed
// tasks that the daemon uses instead of spawning goroutines per event.
package worker

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned when submitting to a pool that has been closed.
var ErrClosed = errors.New("worker pool closed")

// Pool runs submitted tasks on a fixed set of goroutines.
type Pool struct {
	logger *slog.Logger
	tasks  chan func()
	done   chan struct{}

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool starts size workers sharing a queue of the given depth.
func NewPool(logger *slog.Logger, size int, queue int) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size = max(size, 1)
	queue = max(queue, 0)

	p := &Pool{
		logger: logger,
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
	}
	p.wg.Add(size)
	for range size {
		go p.loop()
	}
	return p
}

// Submit enqueues task, blocking while the queue is full.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Close stops accepting work, runs what is already queued, and waits for
// every worker to exit.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
