package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

var (
	// ErrPoolClosed is returned by Go after Shutdown has started.
	ErrPoolClosed = errors.New("transfer pool closed")
	// ErrPoolBusy is returned by TryGo while every slot is taken.
	ErrPoolBusy = errors.New("transfer pool busy")
	// ErrShutdownTimeout is returned when tasks outlive both grace periods.
	ErrShutdownTimeout = errors.New("transfer pool shutdown timed out")
)

// Pool runs transfer tasks with bounded concurrency.
type Pool struct {
	cancel context.CancelFunc
	tasks  *pool.ContextPool

	mu         sync.Mutex
	closed     bool
	max        int
	running    int
	submitting sync.WaitGroup
	done       chan struct{}
	log        *logrus.Entry
}

// NewPool creates a Pool running at most maxTasks transfers at once. Task
// contexts derive from parent.
func NewPool(parent context.Context, maxTasks int) *Pool {
	if maxTasks <= 0 {
		maxTasks = 4
	}
	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		cancel: cancel,
		tasks:  pool.New().WithMaxGoroutines(maxTasks).WithContext(ctx),
		max:    maxTasks,
		done:   make(chan struct{}),
		log:    logrus.WithField("component", "transfer.Pool"),
	}
}

// Go schedules task. It blocks while the pool is at capacity.
func (p *Pool) Go(name string, task func(ctx context.Context) error) error {
	return p.submit(name, task, false)
}

// TryGo schedules task only if a slot is free and returns ErrPoolBusy
// otherwise. Callers on a connection's read loop use it so a full pool
// cannot stall the reader.
func (p *Pool) TryGo(name string, task func(ctx context.Context) error) error {
	return p.submit(name, task, true)
}

func (p *Pool) submit(name string, task func(ctx context.Context) error, noWait bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if noWait && p.running >= p.max {
		p.mu.Unlock()
		return ErrPoolBusy
	}
	p.running++
	p.submitting.Add(1)
	p.mu.Unlock()
	defer p.submitting.Done()

	p.tasks.Go(func(ctx context.Context) error {
		defer p.release()
		if err := task(ctx); err != nil {
			p.log.WithField("task", name).WithError(err).Warn("transfer failed")
		}
		return nil
	})
	return nil
}

func (p *Pool) release() {
	p.mu.Lock()
	p.running--
	p.mu.Unlock()
}

// Running returns the number of scheduled tasks that have not finished.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Shutdown stops accepting tasks and waits up to grace for running ones to
// finish. Stragglers are then cancelled and given another grace period.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	go func() {
		p.submitting.Wait()
		_ = p.tasks.Wait()
		close(p.done)
	}()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-time.After(grace):
	}

	p.log.Warn("transfers still running, cancelling")
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return ErrShutdownTimeout
	}
}
