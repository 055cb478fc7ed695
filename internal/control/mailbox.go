package control

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/sky-engine/core"
)

// ErrMailboxClosed is returned for requests submitted after Close.
var ErrMailboxClosed = errors.New("control mailbox closed")

// maxJobsPerFrame bounds the work one frame spends on control requests.
const maxJobsPerFrame = 32

type result struct {
	v   any
	err error
}

type job struct {
	fn   func(*core.Core) (any, error)
	done chan result
}

// Mailbox hands work from RPC goroutines to the frame thread. Jobs run
// inside a core task, so they may use the Core freely.
type Mailbox struct {
	jobs chan job

	mu     sync.Mutex
	closed bool
	quit   chan struct{}
}

// NewMailbox returns a mailbox queueing up to size pending jobs.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = 64
	}
	return &Mailbox{jobs: make(chan job, size), quit: make(chan struct{})}
}

// Install schedules the task draining the mailbox on c.
func (m *Mailbox) Install(c *core.Core) *core.Task {
	return c.AddTask(func(_ *core.Task, _ float64) core.TaskStatus {
		m.drain(c)
		return core.TaskContinue
	}, m)
}

func (m *Mailbox) drain(c *core.Core) {
	for i := 0; i < maxJobsPerFrame; i++ {
		select {
		case j := <-m.jobs:
			select {
			case <-m.quit:
				j.done <- result{err: ErrMailboxClosed}
				continue
			default:
			}
			v, err := j.fn(c)
			j.done <- result{v: v, err: err}
		default:
			return
		}
	}
}

// Close rejects further submissions and fails the queued ones.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.quit)
	for {
		select {
		case j := <-m.jobs:
			j.done <- result{err: ErrMailboxClosed}
		default:
			return
		}
	}
}

// Do runs fn on the frame thread and waits for its result. When ctx ends
// first the job may still run, but its result is discarded. Jobs still
// queued when the mailbox closes never run.
func Do[T any](ctx context.Context, m *Mailbox, fn func(*core.Core) (T, error)) (T, error) {
	var zero T
	j := job{
		fn:   func(c *core.Core) (any, error) { return fn(c) },
		done: make(chan result, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return zero, ErrMailboxClosed
	}
	select {
	case m.jobs <- j:
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		select {
		case m.jobs <- j:
		case <-m.quit:
			return zero, ErrMailboxClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	select {
	case r := <-j.done:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.v.(T)
		return v, nil
	case <-m.quit:
		return zero, ErrMailboxClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
