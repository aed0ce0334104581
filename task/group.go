// Package task runs groups of concurrent, cancelable tasks.
package task

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group is a group of tasks which should each be executed concurrently,
// and which should be collectively blocked on until all are complete.
// The first task to return a non-nil error cancels the entire Group.
// Group is not itself thread-safe.
type Group struct {
	// Context of the Group, cancelled by a task returning a non-nil error,
	// an explicit call to Cancel, or cancellation of the parent Context.
	// Tasks should monitor Context and return upon its cancellation.
	ctx      context.Context
	cancelFn context.CancelFunc

	tasks   []task
	eg      *errgroup.Group
	started bool
}

type task struct {
	desc string
	fn   func() error
}

// NewGroup returns a new, empty Group with the given Context.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, eg: eg, cancelFn: cancel}
}

// Context returns the Group Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Limit the number of tasks which may run concurrently. A negative |n|
// removes the limit. Limit must be called before GoRun.
func (g *Group) Limit(n int) {
	if g.started {
		panic("Limit called after GoRun")
	}
	g.eg.SetLimit(n)
}

// Len is the number of queued tasks.
func (g *Group) Len() int { return len(g.tasks) }

// Queue a function for execution with the Group.
// Cannot be called after GoRun is invoked or Queue panics.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.tasks = append(g.tasks, task{desc: desc, fn: fn})
}

// GoRun all queued functions. GoRun may be called only once:
// the second invocation will panic. If the Group is limited, GoRun blocks
// until all but the last |limit| tasks have started.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for i := range g.tasks {
		var t = g.tasks[i]
		g.eg.Go(func() error {
			var err = t.fn()
			if err != nil && errors.Cause(err) != context.Canceled {
				log.WithFields(log.Fields{"task": t.desc, "err": err}).Debug("task failed")
			}
			return errors.WithMessage(err, t.desc)
		})
	}
}

// Wait for started functions, returning only after all complete.
// The first encountered non-nil error is returned.
// GoRun must have been called or Wait panics.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	defer g.cancelFn()
	return g.eg.Wait()
}
