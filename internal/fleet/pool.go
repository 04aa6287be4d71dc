package fleet

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool is a fixed-size worker pool with one slot per task.
//
// A Pool never queues: once every slot has been handed out, further
// submissions fail with ErrPoolFull. Pools are created for a single
// multicast and shut down when it ends.
type Pool struct {
	name string
	size int

	group errgroup.Group

	mu        sync.Mutex
	submitted int
	closed    bool
}

// NewPool creates a pool with size slots. The name prefixes worker names.
func NewPool(name string, size int) *Pool {
	p := &Pool{name: name, size: size}
	if size > 0 {
		p.group.SetLimit(size)
	}
	return p
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// WorkerName returns the name of the worker owning slot i.
func (p *Pool) WorkerName(i int) string {
	return fmt.Sprintf("multicast-%s-worker-%d", strings.ReplaceAll(p.name, " ", "-"), i)
}

// Submit starts fn on the next free slot and returns a handle to join it.
//
// A task that could not be started is returned already finished, with
// ErrPoolFull or ErrPoolClosed as its error.
func (p *Pool) Submit(fn func() error) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := p.submitted
	task := &Task{Worker: p.WorkerName(slot), done: make(chan struct{})}

	switch {
	case p.closed:
		task.finish(ErrPoolClosed)
		return task
	case slot >= p.size:
		task.finish(ErrPoolFull)
		return task
	}

	task.started = time.Now()
	if !p.group.TryGo(func() error { return task.run(fn) }) {
		task.finish(ErrPoolFull)
		return task
	}
	p.submitted++

	return task
}

// Shutdown waits for every submitted task and rejects further submissions.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	_ = p.group.Wait()
}

// Task is the handle of one submitted function.
type Task struct {
	// Worker is the name of the slot that ran the task
	Worker string

	started  time.Time
	finished time.Time
	err      error
	done     chan struct{}
}

func (t *Task) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		t.finish(err)
	}()
	return fn()
}

func (t *Task) finish(err error) {
	t.err = err
	t.finished = time.Now()
	if t.started.IsZero() {
		t.started = t.finished
	}
	close(t.done)
}

// Wait blocks until the task has finished and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Duration returns how long the task ran. Only valid after Wait.
func (t *Task) Duration() time.Duration {
	return t.finished.Sub(t.started)
}
