package queue

import (
	"context"
	"database/sql/driver"

	"github.com/pkg/errors"
	"go.gazette.dev/dbqueue/row"
)

// Statement is a compiled SQL statement of a Conn. A Statement may be
// executed any number of times, and must be used only within its Conn's
// Queue.
type Statement struct {
	conn  *Conn
	stmt  driver.Stmt
	query string
	// Transaction effects of the statement, applied as it executes.
	effects []txEffect
	cached  bool
	closed  bool
}

// Prepare compiles the first statement of |query|. The returned Statement
// must be closed.
func (c *Conn) Prepare(ctx context.Context, query string) (*Statement, error) {
	c.ex.assertPermittedOrFail(ctx, "Prepare")

	var effects []txEffect
	c.capture = &effects
	var stmt, err = c.raw.PrepareContext(ctx, query)
	c.capture = nil

	if err != nil {
		return nil, errors.WithMessage(err, "preparing statement")
	}
	return &Statement{conn: c, stmt: stmt, query: query, effects: effects}, nil
}

// CachedStatement returns a Statement of |query| from the Conn's cache of
// recently used statements, preparing it if required. Cached Statements
// are owned by the cache: Close is a no-op.
func (c *Conn) CachedStatement(ctx context.Context, query string) (*Statement, error) {
	c.ex.assertPermittedOrFail(ctx, "CachedStatement")

	if v, ok := c.stmts.Get(query); ok {
		return v.(*Statement), nil
	}
	var stmt, err = c.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	stmt.cached = true
	c.stmts.Add(query, stmt)

	return stmt, nil
}

// Query of the Statement.
func (s *Statement) Query() string { return s.query }

// NumInput returns the number of parameters of the Statement.
func (s *Statement) NumInput() int { return s.stmt.NumInput() }

// Exec executes the Statement with |args|.
func (s *Statement) Exec(ctx context.Context, args ...interface{}) (Result, error) {
	var named, err = s.begin(ctx, "Statement.Exec", args)
	if err != nil {
		return Result{}, err
	}
	res, err := s.stmt.(driver.StmtExecContext).ExecContext(ctx, named)
	if err = s.conn.afterStatement(err); err != nil {
		return Result{}, err
	}
	return toResult(res), nil
}

// Cursor executes the Statement with |args|, returning a Cursor over its
// rows which must be closed.
func (s *Statement) Cursor(ctx context.Context, args ...interface{}) (*row.Cursor, error) {
	return s.CursorAdapted(ctx, nil, args...)
}

// CursorAdapted is Cursor, with rows shaped by |adapter|.
func (s *Statement) CursorAdapted(ctx context.Context, adapter row.Adapter, args ...interface{}) (*row.Cursor, error) {
	var named, err = s.begin(ctx, "Statement.Cursor", args)
	if err != nil {
		return nil, err
	}
	rows, err := s.stmt.(driver.StmtQueryContext).QueryContext(ctx, named)
	if err != nil {
		return nil, s.conn.afterStatement(err)
	}
	return row.NewCursor(newHookedRows(s.conn, rows), adapter)
}

// Close the Statement. Closing a cached Statement is a no-op.
func (s *Statement) Close() error {
	if s.cached {
		return nil
	}
	return s.close()
}

func (s *Statement) begin(ctx context.Context, op string, args []interface{}) ([]driver.NamedValue, error) {
	s.conn.ex.assertPermittedOrFail(ctx, op)

	if s.closed {
		return nil, errors.Errorf("statement %q is closed", s.query)
	}
	var named, err = namedValues(args)
	if err != nil {
		return nil, err
	}
	s.conn.released = nil
	for _, e := range s.effects {
		s.conn.apply(e)
	}
	s.conn.mark = s.conn.buf.Mark()

	return named, nil
}

func (s *Statement) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stmt.Close()
}
