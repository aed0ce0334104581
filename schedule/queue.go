package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/async"
	"go.gazette.dev/dbqueue/metrics"
)

// ErrClosed is returned when scheduling a job on a closed Queue.
var ErrClosed = errors.New("queue closed")

// Queue is a serial execution context: a goroutine running enqueued jobs one
// at a time, in the order they were enqueued. A Queue never cancels or times
// out a job: each runs to completion.
type Queue struct {
	sched *Scheduler
	name  string
	conn  ConnID

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	closed bool
	done   async.Promise
}

type job struct {
	fn   func()
	mode string
}

// frame is carried by the Context of a running job.
type frame struct{ queue *Queue }

type frameKey struct{}

func newQueue(s *Scheduler, name string, conn ConnID) *Queue {
	var q = &Queue{
		sched: s,
		name:  name,
		conn:  conn,
		done:  make(async.Promise),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name of the Queue.
func (q *Queue) Name() string { return q.name }

// Conn is the connection for which the Queue was created.
func (q *Queue) Conn() ConnID { return q.conn }

// Current returns the Queue within which |ctx| is running, or nil if |ctx|
// isn't running within a Queue.
func Current(ctx context.Context) *Queue {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok {
		return f.queue
	}
	return nil
}

// RunBlocking runs |fn| within the Queue and waits for it to complete,
// returning its error. |fn| is passed a Context derived from |ctx| which
// identifies the Queue, and isn't cancelled when |ctx| is.
//
// If |ctx| is itself running within a Queue, that Queue must not already be
// permitted to use |conn|, nor may it be this Queue: either would deadlock,
// and RunBlocking panics with a ReentrancyViolation. Otherwise, for the
// duration of |fn| this Queue is additionally permitted to use each
// connection permitted to the calling Queue.
//
// A panic of |fn| is recovered and re-raised by RunBlocking.
func (q *Queue) RunBlocking(ctx context.Context, conn ConnID, fn func(context.Context) error) error {
	var widen []ConnID

	if outer := Current(ctx); outer != nil {
		if outer == q || q.sched.IsPermitted(ctx, conn) {
			panic(&ReentrancyViolation{Conn: conn, Queue: outer.name})
		}
		widen = q.sched.Permitted(outer)
	}

	var (
		err       error
		recovered interface{}
		panicked  bool
		wait      = make(async.Promise)
	)
	var enqueueErr = q.enqueue(metrics.Blocking, func() {
		defer wait.Resolve()
		defer func() {
			if r := recover(); r != nil {
				recovered, panicked = r, true
			}
		}()
		defer q.sched.widen(q, widen)()

		err = fn(q.jobContext(ctx))
	})
	if enqueueErr != nil {
		return enqueueErr
	}
	wait.Wait()

	if panicked {
		panic(recovered)
	}
	return err
}

// Blocking is a generic form of Queue.RunBlocking, returning the result of |fn|.
func Blocking[T any](ctx context.Context, q *Queue, conn ConnID, fn func(context.Context) (T, error)) (T, error) {
	var out T
	var err = q.RunBlocking(ctx, conn, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// RunLater enqueues |fn| to run within the Queue, and returns without
// waiting for it. |fn| runs with exactly the permissions of this Queue,
// whether or not |ctx| is running within a Queue. A panic of |fn| is not
// recovered.
func (q *Queue) RunLater(ctx context.Context, fn func(context.Context)) error {
	return q.enqueue(metrics.Later, func() { fn(q.jobContext(ctx)) })
}

// Close the Queue to further jobs, wait for enqueued jobs to complete, and
// remove the Queue from its Scheduler. Close must not be called from within
// the Queue itself.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.done.Wait()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.done.Wait()
	q.sched.remove(q)

	log.WithField("queue", q.name).Debug("closed queue")
}

// Drained returns whether the Queue has closed and completed its jobs.
func (q *Queue) Drained() bool { return q.done.IsResolved() }

func (q *Queue) jobContext(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), frameKey{}, &frame{queue: q})
}

func (q *Queue) enqueue(mode string, fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.jobs = append(q.jobs, job{fn: fn, mode: mode})
	q.cond.Signal()

	metrics.PendingJobs.WithLabelValues(q.name).Inc()
	return nil
}

func (q *Queue) serve() {
	defer q.done.Resolve()

	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		var j = q.jobs[0]
		q.jobs[0] = job{}
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		metrics.PendingJobs.WithLabelValues(q.name).Dec()
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	var started = time.Now()
	defer func() {
		metrics.JobsTotal.WithLabelValues(q.name, j.mode).Inc()
		metrics.JobDurationSeconds.WithLabelValues(q.name).Observe(time.Since(started).Seconds())
	}()
	j.fn()
}

func (q *Queue) String() string { return fmt.Sprintf("Queue(%s)", q.name) }
