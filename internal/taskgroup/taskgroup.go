// Package taskgroup is a minimal process-supervision helper: queue named
// goroutines, run them, and wait for the first error (which cancels the
// group's context so sibling tasks can shut down cooperatively).
//
// This mirrors the task.Group shape cmd/chatlake-ingest is built around,
// implemented on stdlib sync/context rather than a distributed-broker
// task runtime.
package taskgroup

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

type namedTask struct {
	name string
	fn   func() error
}

// Group supervises a set of named tasks sharing one cancellable context.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   []namedTask
	running sync.WaitGroup
	once    sync.Once
	errOnce sync.Once
	err     error
}

// NewGroup returns a Group whose Context is derived from parent.
func NewGroup(parent context.Context) *Group {
	var ctx, cancel = context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context returns the group's cancellable context. It's Done once Cancel
// is called or any queued task returns a non-nil error.
func (g *Group) Context() context.Context { return g.ctx }

// Queue registers a named task. It does not start running until GoRun.
func (g *Group) Queue(name string, fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = append(g.tasks, namedTask{name: name, fn: fn})
}

// GoRun starts every queued task in its own goroutine. Safe to call once.
func (g *Group) GoRun() {
	g.once.Do(func() {
		g.mu.Lock()
		var tasks = g.tasks
		g.mu.Unlock()

		for _, t := range tasks {
			g.running.Add(1)
			go g.run(t)
		}
	})
}

func (g *Group) run(t namedTask) {
	defer g.running.Done()
	if err := t.fn(); err != nil {
		g.errOnce.Do(func() {
			g.err = err
			log.WithFields(log.Fields{"event": "task_failed", "task": t.name}).Error(err)
			g.cancel()
		})
	}
}

// Cancel cancels the group's context, signalling every running task to
// wind down cooperatively.
func (g *Group) Cancel() { g.cancel() }

// Wait blocks until every queued task has returned, then returns the
// first non-nil error encountered, if any.
func (g *Group) Wait() error {
	g.running.Wait()
	g.cancel()
	return g.err
}
