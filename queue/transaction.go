package queue

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TxKind is the locking behavior of a transaction.
type TxKind int8

const (
	// Deferred transactions acquire locks as statements require them.
	Deferred TxKind = iota
	// Immediate transactions begin by acquiring the write lock.
	Immediate
	// Exclusive transactions begin by acquiring an exclusive lock.
	Exclusive
)

func (k TxKind) String() string {
	switch k {
	case Deferred:
		return "DEFERRED"
	case Immediate:
		return "IMMEDIATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("TxKind(%d)", int8(k))
	}
}

// ErrRollback may be returned by the function of InTransaction or
// InSavepoint to roll back without returning an error.
var ErrRollback = errors.New("rollback")

// savepointName is used by InSavepoint. Nested uses of a repeated savepoint
// name resolve to the innermost savepoint.
const savepointName = "dbqueue"

// InTransaction runs |fn| within a transaction of |kind|, which commits if
// |fn| returns nil and otherwise rolls back. If |fn| panics, the transaction
// rolls back and the panic continues. If a transaction is already open,
// InTransaction runs |fn| within a savepoint instead.
//
// The error of a commit vetoed by an Observer is returned, as is the error
// of a failed commit.
func (c *Conn) InTransaction(ctx context.Context, kind TxKind, fn func(context.Context) error) (err error) {
	c.ex.assertPermittedOrFail(ctx, "InTransaction")

	if !c.raw.AutoCommit() {
		return c.InSavepoint(ctx, fn)
	}
	if _, err = c.Exec(ctx, "BEGIN "+kind.String()); err != nil {
		return err
	}

	var completed bool
	defer func() {
		if !completed {
			c.rollbackQuietly(ctx, "ROLLBACK")
		}
	}()

	if err = fn(ctx); err != nil {
		completed = true
		c.rollbackQuietly(ctx, "ROLLBACK")

		if errors.Is(err, ErrRollback) {
			err = nil
		}
		return err
	}
	completed = true

	if _, err = c.Exec(ctx, "COMMIT"); err != nil {
		// A vetoed commit has already rolled back. Other failures, like
		// SQLITE_BUSY, leave the transaction open.
		c.rollbackQuietly(ctx, "ROLLBACK")
		return err
	}
	return nil
}

// InSavepoint runs |fn| within a savepoint, which is released if |fn|
// returns nil and otherwise rolled back. Outside of a transaction,
// the savepoint acts as a deferred transaction.
func (c *Conn) InSavepoint(ctx context.Context, fn func(context.Context) error) (err error) {
	c.ex.assertPermittedOrFail(ctx, "InSavepoint")

	if _, err = c.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return err
	}
	var completed bool
	defer func() {
		if !completed {
			c.abandonSavepoint(ctx)
		}
	}()

	if err = fn(ctx); err != nil {
		completed = true
		c.abandonSavepoint(ctx)

		if errors.Is(err, ErrRollback) {
			err = nil
		}
		return err
	}
	completed = true

	if _, err = c.Exec(ctx, "RELEASE "+savepointName); err != nil {
		c.abandonSavepoint(ctx)
		return err
	}
	return nil
}

// abandonSavepoint rolls back to and releases the innermost savepoint.
func (c *Conn) abandonSavepoint(ctx context.Context) {
	c.rollbackQuietly(ctx, "ROLLBACK TO "+savepointName)
	c.rollbackQuietly(ctx, "RELEASE "+savepointName)
}

// rollbackQuietly runs a rollback |stmt| if a transaction is still open,
// logging rather than returning a failure. The engine may have already
// rolled back the transaction, as when a commit is vetoed.
func (c *Conn) rollbackQuietly(ctx context.Context, stmt string) {
	if c.raw.AutoCommit() {
		return
	}
	if _, err := c.Exec(ctx, stmt); err != nil {
		log.WithFields(log.Fields{
			"queue": c.name,
			"stmt":  stmt,
			"err":   err,
		}).Warn("failed to roll back")
	}
}
