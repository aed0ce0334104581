// Package queue provides serialized access to a SQLite database connection.
//
// A Queue owns a single connection, confined to a schedule.Queue of its own.
// Operations are run by the Queue one at a time, each passed the Conn and a
// Context which permits its use:
//
//	var q, err = queue.Open(ctx, queue.Config{Path: "my.db"})
//	...
//	err = q.Write(ctx, func(ctx context.Context, conn *queue.Conn) error {
//		_, err := conn.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "arthur")
//		return err
//	})
//
// Observers registered with the Queue are notified of the row changes of each
// committed transaction, after it commits.
//
// An operation of one Queue may call into another Queue, passing along its
// Context. For the duration of that call, both connections may be used. A
// blocking call back into a Queue whose connection is already in use by the
// caller would deadlock, and panics with a schedule.ReentrancyViolation.
package queue

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/async"
	"go.gazette.dev/dbqueue/change"
	"go.gazette.dev/dbqueue/metrics"
)

// Queue serializes operations of a database connection.
type Queue struct {
	cfg      Config
	ex       *exclusiveConn
	conn     *Conn // Used only within |ex|.
	registry change.Registry
}

// Operation of a Queue.
type Operation func(context.Context, *Conn) error

// Open a Queue of the database configured by |cfg|. The connection is opened
// and prepared within the Queue, before Open returns.
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "Config.Validate")
	}
	var q = &Queue{cfg: cfg.withDefaults()}

	var ex, err = newExclusiveConn(ctx, q.cfg.Scheduler, q.cfg.Name,
		func(ctx context.Context, ex *exclusiveConn) (err error) {
			q.conn, err = openConn(ctx, &q.cfg, ex, &q.registry)
			return err
		},
		func() error { return q.conn.close() },
	)
	if err != nil {
		return nil, err
	}
	q.ex = ex

	log.WithFields(log.Fields{
		"queue":       q.cfg.Name,
		"path":        q.cfg.Path,
		"journalMode": q.cfg.JournalMode,
		"readOnly":    q.cfg.ReadOnly,
	}).Info("opened database queue")

	return q, nil
}

// Name of the Queue.
func (q *Queue) Name() string { return q.cfg.Name }

// Path of the Queue's database.
func (q *Queue) Path() string { return q.cfg.Path }

// Perform runs |op| within the Queue, and waits for it to complete.
func (q *Queue) Perform(ctx context.Context, op Operation) error {
	return q.ex.runBlocking(ctx, func(ctx context.Context) error {
		return op(ctx, q.conn)
	})
}

// PerformSync runs |op| within the Queue, and returns its result.
func PerformSync[T any](ctx context.Context, q *Queue, op func(context.Context, *Conn) (T, error)) (T, error) {
	var out T
	var err = q.Perform(ctx, func(ctx context.Context, conn *Conn) error {
		var err error
		out, err = op(ctx, conn)
		return err
	})
	return out, err
}

// PerformAsync enqueues |op| to run within the Queue, and returns an
// Operation which resolves with its result. Unlike PerformSync, |op| may use
// only the connection of this Queue, even if |ctx| is running within
// another Queue.
func PerformAsync[T any](ctx context.Context, q *Queue, op func(context.Context, *Conn) (T, error)) *async.Operation[T] {
	var future = async.NewOperation[T]()

	if err := q.ex.runLater(ctx, func(ctx context.Context) {
		future.Resolve(op(ctx, q.conn))
	}); err != nil {
		var zero T
		future.Resolve(zero, err)
	}
	return future
}

// Write runs |op| within an immediate transaction of the Queue, which commits
// if |op| returns nil and otherwise rolls back.
func (q *Queue) Write(ctx context.Context, op Operation) error {
	return q.Perform(ctx, func(ctx context.Context, conn *Conn) error {
		return conn.InTransaction(ctx, Immediate, func(ctx context.Context) error {
			return op(ctx, conn)
		})
	})
}

// Read runs |op| within a deferred transaction of the Queue during which the
// database is read-only. Attempted writes of |op| fail.
func (q *Queue) Read(ctx context.Context, op Operation) error {
	return q.Perform(ctx, func(ctx context.Context, conn *Conn) error {
		if _, err := conn.Exec(ctx, "PRAGMA query_only = 1"); err != nil {
			return err
		}
		defer func() {
			if _, err := conn.Exec(ctx, "PRAGMA query_only = 0"); err != nil {
				log.WithFields(log.Fields{"queue": q.cfg.Name, "err": err}).Warn("failed to restore query_only")
			}
		}()
		return conn.InTransaction(ctx, Deferred, func(ctx context.Context) error {
			return op(ctx, conn)
		})
	})
}

// AddObserver registers the Observer of |ref|, notified of the committed
// changes accepted by |filter|. A nil |filter| accepts all changes.
func (q *Queue) AddObserver(ref change.Ref, filter change.Filter) {
	q.registry.Add(ref, filter)
}

// RemoveObserver removes all registrations of |obs|, returning whether
// there were any.
func (q *Queue) RemoveObserver(obs change.Observer) bool {
	return q.registry.Remove(obs)
}

// Close the Queue. Pending operations complete, and the connection is
// closed. Close must not be called from within an operation of the Queue.
// Closing a closed Queue is a no-op.
func (q *Queue) Close() error {
	if q.ex.queue.Drained() {
		return nil
	}
	q.ex.close(context.Background())
	metrics.DeleteQueue(q.cfg.Name)

	log.WithField("queue", q.cfg.Name).Info("closed database queue")
	return nil
}
