package queue

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/schedule"
)

// exclusiveConn confines a connection to its own schedule.Queue, and manages
// its lifecycle: setup runs as the Queue's very first job, and teardown as
// its last.
type exclusiveConn struct {
	sched    *schedule.Scheduler
	queue    *schedule.Queue
	id       schedule.ConnID
	teardown func() error
}

// newExclusiveConn creates a schedule.Queue for a new connection and runs
// |setup| within it. If |setup| fails, the Queue is closed and its error
// returned. |teardown| is run by close.
func newExclusiveConn(
	ctx context.Context,
	sched *schedule.Scheduler,
	name string,
	setup func(context.Context, *exclusiveConn) error,
	teardown func() error,
) (*exclusiveConn, error) {
	var id = sched.NewConnID()
	var ex = &exclusiveConn{
		sched:    sched,
		queue:    sched.CreateQueueFor(name, id),
		id:       id,
		teardown: teardown,
	}
	if err := ex.queue.RunBlocking(ctx, id, func(ctx context.Context) error {
		return setup(ctx, ex)
	}); err != nil {
		ex.queue.Close()
		return nil, err
	}
	return ex, nil
}

// runBlocking runs |fn| within the connection's Queue, and waits for it.
func (ex *exclusiveConn) runBlocking(ctx context.Context, fn func(context.Context) error) error {
	return ex.queue.RunBlocking(ctx, ex.id, fn)
}

// runLater enqueues |fn| within the connection's Queue.
func (ex *exclusiveConn) runLater(ctx context.Context, fn func(context.Context)) error {
	return ex.queue.RunLater(ctx, fn)
}

// assertPermittedOrFail panics with |message| if |ctx| isn't permitted to
// use the connection.
func (ex *exclusiveConn) assertPermittedOrFail(ctx context.Context, message string) {
	if ex.sched.IsPermitted(ctx, ex.id) {
		return
	}
	var current = "no queue"
	if q := schedule.Current(ctx); q != nil {
		current = fmt.Sprintf("queue %q", q.Name())
	}
	panic(fmt.Sprintf("%s: connection of queue %q used from %s "+
		"(use a connection only within its Queue, passing along the provided Context)",
		message, ex.queue.Name(), current))
}

// close runs teardown within the Queue, and then closes the Queue. Errors of
// teardown are logged and swallowed.
func (ex *exclusiveConn) close(ctx context.Context) {
	var err = ex.queue.RunBlocking(ctx, ex.id, func(context.Context) error {
		if err := ex.teardown(); err != nil {
			log.WithFields(log.Fields{
				"queue": ex.queue.Name(),
				"err":   err,
			}).Warn("failed to tear down connection")
		}
		return nil
	})
	if err != nil && err != schedule.ErrClosed {
		log.WithFields(log.Fields{"queue": ex.queue.Name(), "err": err}).Warn("failed to close connection")
	}
	ex.queue.Close()
}
