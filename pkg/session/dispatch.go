package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pending is the handle for one deferred operation. It holds a strong
// reference to the owning entity for the task's whole lifetime, stores
// the single-shot result, and is delivered to the frontend through the
// session's completion channel once the worker finishes.
type Pending struct {
	owner *Entity
	run   func() (*Entity, error)

	result *Entity
	err    error
	done   chan struct{}

	release sync.Once
}

func newPending(owner *Entity, run func() (*Entity, error)) *Pending {
	return &Pending{
		owner: owner,
		run:   run,
		done:  make(chan struct{}),
	}
}

// Done returns a channel closed once the task has run to completion.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the task completes and returns its result, releasing
// the task's hold on the owning entity. Calling Wait more than once is
// safe and returns the same result.
func (p *Pending) Wait() (*Entity, error) {
	<-p.done
	p.resolve()
	return p.result, p.err
}

func (p *Pending) resolve() {
	p.release.Do(func() {
		p.owner.unpin()
		p.owner.sess.dispatch.inflight.Add(-1)
	})
}

// dispatcher runs backend-bound work on a fixed pool of workers and
// funnels completions back to the single-threaded frontend. Tasks are
// never cancelled once submitted; they always run to completion and
// their results are delivered, consumed or not.
type dispatcher struct {
	tasks       chan *Pending
	completions chan *Pending
	wg          sync.WaitGroup
	inflight    atomic.Int64
	log         *slog.Logger
}

func newDispatcher(workers, depth int, log *slog.Logger) *dispatcher {
	d := &dispatcher{
		tasks:       make(chan *Pending, depth),
		completions: make(chan *Pending, depth),
		log:         log,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for p := range d.tasks {
		p.result, p.err = p.run()
		close(p.done)
		d.completions <- p
	}
}

// submit pins the owning entity and enqueues the task. It blocks when the
// queue is full.
func (d *dispatcher) submit(p *Pending) {
	p.owner.pin()
	d.inflight.Add(1)
	d.log.Debug("dispatch: task submitted", "kind", p.owner.kind, "id", p.owner.identity)
	d.tasks <- p
}

// shutdown stops the workers, waits for every in-flight task to finish,
// and resolves completions nobody consumed. The drain runs alongside the
// worker wait: a worker blocked on a full completion queue must be able
// to finish its send, or the wait would never return. It reports whether
// any task remained pinned afterwards, which would mean a task outlived
// the repository it points into.
func (d *dispatcher) shutdown() bool {
	close(d.tasks)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range d.completions {
			p.resolve()
		}
	}()

	d.wg.Wait()
	close(d.completions)
	<-drained

	return d.inflight.Load() == 0
}
