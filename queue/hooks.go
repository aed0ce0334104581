package queue

import (
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.gazette.dev/dbqueue/change"
)

// txEffect is the effect of a statement on transaction and savepoint state,
// as reported by the engine's authorizer while preparing it.
type txEffect struct {
	op   txOp
	name string // Savepoint name.
}

type txOp int8

const (
	opBegin txOp = iota
	opSavepoint
	opRelease
	opRollbackTo
)

// installHooks routes the engine's callbacks to the Conn's change Buffer.
// Callbacks are invoked synchronously by the statement being stepped, and
// thus run within the Conn's Queue.
func (c *Conn) installHooks() {
	c.raw.RegisterUpdateHook(func(op int, database, table string, rowid int64) {
		c.buf.RecordChange(change.Event{
			Kind:     kindOf(op),
			Database: database,
			Table:    table,
			RowID:    rowid,
		})
	})
	c.raw.RegisterCommitHook(func() int {
		if err := c.buf.WillCommit(); err != nil {
			return 1 // Converts the commit into a rollback.
		}
		return 0
	})
	c.raw.RegisterRollbackHook(func() {
		c.buf.DidRollback()
	})
	c.raw.RegisterAuthorizer(c.authorize)
}

// authorize observes statements as they're prepared. It allows everything,
// and notes the transaction effects of BEGIN and SAVEPOINT statements.
// COMMIT and ROLLBACK are instead observed through commit and rollback hooks.
func (c *Conn) authorize(action int, arg1, arg2, _ string) int {
	// A preceding statement of a multi-statement Exec completed.
	if c.buf.State() == change.Committing && c.raw.AutoCommit() {
		c.buf.DidCommit()
	}
	var dropping = c.dropping
	c.released, c.dropping = nil, ""

	var effect txEffect
	var ok bool
	var rc = sqlite3.SQLITE_OK

	switch action {
	case sqlite3.SQLITE_DROP_TABLE, sqlite3.SQLITE_DROP_TEMP_TABLE,
		sqlite3.SQLITE_DROP_VIEW, sqlite3.SQLITE_DROP_TEMP_VIEW, sqlite3.SQLITE_DROP_VTABLE:
		c.dropping = arg1
	case sqlite3.SQLITE_DELETE:
		// An unconditional DELETE is otherwise run as a truncation, which
		// skips the update hook. Ignoring it still deletes each row.
		// DROP checks a DELETE of the dropped table just after its own
		// action, and does nothing if that's ignored.
		if !strings.HasPrefix(arg1, "sqlite_") && arg1 != dropping {
			rc = sqlite3.SQLITE_IGNORE
		}
	case sqlite3.SQLITE_TRANSACTION:
		if arg1 == "BEGIN" {
			effect, ok = txEffect{op: opBegin}, true
		}
	case sqlite3.SQLITE_SAVEPOINT:
		switch arg1 {
		case "BEGIN":
			effect, ok = txEffect{op: opSavepoint, name: arg2}, true
		case "RELEASE":
			effect, ok = txEffect{op: opRelease, name: arg2}, true
		case "ROLLBACK":
			effect, ok = txEffect{op: opRollbackTo, name: arg2}, true
		}
	}

	if ok && c.capture != nil {
		*c.capture = append(*c.capture, effect)
	} else if ok {
		c.apply(effect)
	}
	// Statements of a multi-statement Exec are prepared and executed in turn,
	// so this marks the beginning of the statement about to run.
	c.mark = c.buf.Mark()

	return rc
}

func (c *Conn) apply(effect txEffect) {
	switch effect.op {
	case opBegin:
		c.buf.Begin()
	case opSavepoint:
		c.buf.Savepoint(effect.name)
	case opRelease:
		// Restored if the statement fails, as when the commit of an outermost
		// savepoint is busy and the engine's savepoints remain open.
		var sp = c.buf.Savepoints()
		c.released = &sp
		c.buf.Release(effect.name)
	case opRollbackTo:
		c.buf.RollbackTo(effect.name)
	}
}

func kindOf(op int) change.Kind {
	switch op {
	case sqlite3.SQLITE_INSERT:
		return change.Insert
	case sqlite3.SQLITE_UPDATE:
		return change.Update
	case sqlite3.SQLITE_DELETE:
		return change.Delete
	default:
		panic("unexpected change operation")
	}
}
