package queue

import (
	"context"
	"database/sql/driver"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/change"
	"go.gazette.dev/dbqueue/row"
)

// Conn is a database connection confined to its Queue. Conn is passed to
// operations run by the Queue, along with a Context which permits its use.
// Every Conn method must be called with that Context, or one derived from it.
type Conn struct {
	ex   *exclusiveConn
	name string
	raw  *sqlite3.SQLiteConn
	buf  *change.Buffer

	stmts *lru.Cache // Statement cache, keyed on query.
	// Mark of the change Buffer at the beginning of the current statement.
	mark int
	// When non-nil, transaction effects of a statement being prepared are
	// captured here rather than applied.
	capture *[]txEffect
	// Savepoints of the Buffer prior to a RELEASE of the current statement.
	released *change.Savepoints
	// Table of a DROP being authorized.
	dropping string
	// Whether PreUpdateEvents are recorded.
	preUpdate bool
}

// Result of an executed statement.
type Result struct {
	// LastInsertID is the rowid of the most recent successful INSERT.
	LastInsertID int64
	// RowsAffected by the statement.
	RowsAffected int64
}

func openConn(ctx context.Context, cfg *Config, ex *exclusiveConn, registry *change.Registry) (*Conn, error) {
	var drv = &sqlite3.SQLiteDriver{}

	var dc, err = drv.Open(cfg.dsn())
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s", cfg.Path)
	}
	var c = &Conn{
		ex:   ex,
		name: cfg.Name,
		raw:  dc.(*sqlite3.SQLiteConn),
		buf:  change.NewBuffer(cfg.Name, registry),
	}
	if c.stmts, err = lru.NewWithEvict(max(cfg.StatementCacheSize, 1), func(_, value interface{}) {
		if err := value.(*Statement).close(); err != nil {
			log.WithFields(log.Fields{"queue": c.name, "err": err}).Warn("failed to finalize evicted statement")
		}
	}); err != nil {
		_ = c.raw.Close()
		return nil, err
	}
	c.installHooks()

	if cfg.PreUpdateHooks {
		if c.preUpdate = registerPreUpdateHook(c); !c.preUpdate {
			log.WithField("queue", c.name).Warn("pre-update hooks requested, but unavailable in this build")
		}
	}

	for _, pragma := range cfg.pragmas() {
		if _, err = c.Exec(ctx, pragma); err != nil {
			_ = c.close()
			return nil, errors.WithMessagef(err, "applying %q", pragma)
		}
	}
	if !cfg.inMemory() && cfg.FileMode != 0 {
		if err = cfg.Fs.Chmod(cfg.Path, cfg.FileMode); err != nil {
			_ = c.close()
			return nil, errors.WithMessagef(err, "applying mode %s to %s", cfg.FileMode, cfg.Path)
		}
	}
	if cfg.Prepare != nil {
		if err = cfg.Prepare(ctx, c); err != nil {
			_ = c.close()
			return nil, errors.WithMessage(err, "preparing connection")
		}
	}
	return c, nil
}

// Exec executes one or more statements of |query|, separated by semicolons.
// |args| are bound in order to positional parameters, and sql.NamedArg
// values to parameters of matching name.
func (c *Conn) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	c.ex.assertPermittedOrFail(ctx, "Exec")

	var named, err = namedValues(args)
	if err != nil {
		return Result{}, err
	}
	c.mark, c.released = c.buf.Mark(), nil

	res, err := c.raw.ExecContext(ctx, query, named)
	if err = c.afterStatement(err); err != nil {
		return Result{}, err
	}
	return toResult(res), nil
}

// Query executes |query| and returns a Cursor over its rows. The Cursor must
// be closed. If |query| has multiple statements, all but the last are
// executed and the Cursor ranges over rows of the last.
func (c *Conn) Query(ctx context.Context, query string, args ...interface{}) (*row.Cursor, error) {
	return c.QueryAdapted(ctx, nil, query, args...)
}

// QueryAdapted is Query, with rows shaped by |adapter|.
func (c *Conn) QueryAdapted(ctx context.Context, adapter row.Adapter, query string, args ...interface{}) (*row.Cursor, error) {
	c.ex.assertPermittedOrFail(ctx, "Query")

	var named, err = namedValues(args)
	if err != nil {
		return nil, err
	}
	c.mark, c.released = c.buf.Mark(), nil

	rows, err := c.raw.QueryContext(ctx, query, named)
	if err != nil {
		return nil, c.afterStatement(err)
	}
	return row.NewCursor(newHookedRows(c, rows), adapter)
}

// IsInsideTransaction returns whether a transaction is open.
func (c *Conn) IsInsideTransaction(ctx context.Context) bool {
	c.ex.assertPermittedOrFail(ctx, "IsInsideTransaction")
	return !c.raw.AutoCommit()
}

// LastInsertRowID returns the rowid of the most recent successful INSERT.
func (c *Conn) LastInsertRowID(ctx context.Context) (int64, error) {
	var id, _, err = FetchValue[int64](ctx, c, "SELECT last_insert_rowid()")
	return id, err
}

// Changes returns the number of rows modified by the most recent
// INSERT, UPDATE, or DELETE.
func (c *Conn) Changes(ctx context.Context) (int64, error) {
	var n, _, err = FetchValue[int64](ctx, c, "SELECT changes()")
	return n, err
}

// Name of the Conn's Queue.
func (c *Conn) Name() string { return c.name }

// afterStatement resolves the change Buffer following a statement which
// returned |err|, and returns the error to surface to the caller.
func (c *Conn) afterStatement(err error) error {
	var autocommit = c.raw.AutoCommit()

	switch state := c.buf.State(); state {
	case change.Committing:
		if autocommit {
			c.buf.DidCommit()
		} else {
			c.buf.CommitFailed() // Eg, SQLITE_BUSY.
		}
	case change.InTransaction, change.RollingBack:
		if autocommit {
			// The transaction ended without a commit callback. That's a
			// commit of a transaction which wrote nothing, or a rollback
			// the engine didn't report.
			if err == nil && state == change.InTransaction {
				c.buf.DidCommit()
			} else {
				c.buf.DidRollback()
			}
		} else if err != nil {
			// The engine reverted changes of the failed statement.
			c.buf.DiscardSince(c.mark)
		}
	}
	if c.released != nil {
		if err != nil && !autocommit {
			c.buf.RestoreSavepoints(*c.released)
		}
		c.released = nil
	}
	if veto := c.buf.TakeVeto(); veto != nil {
		return veto
	}
	return err
}

func (c *Conn) close() error {
	c.stmts.Purge()
	return c.raw.Close()
}

// hookedRows resolves its Conn's change Buffer once stepping completes.
type hookedRows struct {
	driver.Rows
	conn     *Conn
	finished bool
}

func newHookedRows(c *Conn, rows driver.Rows) *hookedRows {
	// The driver converts values of columns declared as a DATE, DATETIME,
	// TIMESTAMP or BOOLEAN, consulting the declared types which it caches
	// and returns from DeclTypes. Cleared, values are delivered as stored.
	if sr, ok := rows.(*sqlite3.SQLiteRows); ok {
		clear(sr.DeclTypes())
	}
	return &hookedRows{Rows: rows, conn: c}
}

func (r *hookedRows) Next(dest []driver.Value) error {
	var err = r.Rows.Next(dest)
	if err == nil {
		return nil
	} else if err == io.EOF {
		if err = r.finish(nil); err == nil {
			err = io.EOF
		}
		return err
	}
	return r.finish(err)
}

func (r *hookedRows) Close() error {
	var err = r.Rows.Close()
	if ferr := r.finish(nil); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (r *hookedRows) finish(err error) error {
	if r.finished {
		return err
	}
	r.finished = true
	return r.conn.afterStatement(err)
}

func toResult(res driver.Result) Result {
	var out Result
	if res == nil {
		return out
	}
	out.LastInsertID, _ = res.LastInsertId()
	out.RowsAffected, _ = res.RowsAffected()
	return out
}
