package row

import (
	"database/sql/driver"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Cursor iterates the rows of an executing statement. Its Row is live: it
// reads directly from a buffer which the Cursor re-uses at each step, and
// becomes invalid once the Cursor advances. Rows to be retained must be
// Materialized.
//
//	var cur, err = conn.Query(ctx, "SELECT id, name FROM players")
//	...
//	defer cur.Close()
//
//	for cur.Next() {
//	    var id = row.Get[int64](cur.Row(), 0)
//	    kept = append(kept, cur.Row().Materialize())
//	}
//	return cur.Err()
type Cursor struct {
	rows       driver.Rows
	columns    []string
	dest       []driver.Value
	layout     *Layout
	generation uint64 // Incremented on each step, invalidating prior live Rows.
	stepped    bool   // True if |dest| holds the current step's values.
	done       bool
	err        error
}

// NewCursor returns a Cursor over |rows|. If |adapter| is non-nil, Rows of
// the Cursor are adapted by it.
func NewCursor(rows driver.Rows, adapter Adapter) (*Cursor, error) {
	var c = &Cursor{
		rows:    rows,
		columns: rows.Columns(),
	}
	c.dest = make([]driver.Value, len(c.columns))

	if adapter != nil {
		var err error
		if c.layout, err = adapter.Layout(c.columns); err != nil {
			_ = rows.Close()
			return nil, errors.WithMessage(err, "adapting cursor columns")
		}
	}
	return c, nil
}

// Columns returns the column names of Rows of the Cursor.
func (c *Cursor) Columns() []string {
	if c.layout != nil {
		return append([]string(nil), c.layout.names...)
	}
	return append([]string(nil), c.columns...)
}

// Next advances the Cursor to its next row, returning false when rows are
// exhausted or an error occurs (see Err). Advancing invalidates any live
// Row previously returned by the Cursor.
func (c *Cursor) Next() bool {
	c.generation++
	c.stepped = false

	if c.done {
		return false
	}
	for i := range c.dest {
		c.dest[i] = nil
	}
	if err := c.rows.Next(c.dest); err == io.EOF {
		c.done = true
		return false
	} else if err != nil {
		c.done, c.err = true, err
		return false
	}
	c.stepped = true
	return true
}

// Row returns the live Row of the current step. It panics if the Cursor
// isn't positioned on a row.
func (c *Cursor) Row() Row {
	if !c.stepped {
		panic("row.Cursor.Row called without a current row (Next must return true)")
	}
	return Row{b: live{cursor: c, generation: c.generation}, layout: c.layout}
}

// Err returns the error, if any, encountered during iteration.
func (c *Cursor) Err() error { return c.err }

// Close the Cursor, releasing its statement. Close is idempotent, and
// invalidates live Rows of the Cursor.
func (c *Cursor) Close() error {
	c.generation++
	c.stepped = false

	if c.rows == nil {
		return nil
	}
	c.done = true
	var err = c.rows.Close()
	c.rows = nil
	return err
}

func (c *Cursor) checkGeneration(generation uint64) {
	if generation != c.generation {
		panic(&StaleRowError{Columns: c.columns})
	}
}

// StaleRowError is the panic value of a live Row accessed after its Cursor
// advanced. It indicates the Row should have been Materialized.
type StaleRowError struct {
	Columns []string
}

func (e *StaleRowError) Error() string {
	return fmt.Sprintf("live row %v accessed after its cursor advanced (Materialize rows to be retained)", e.Columns)
}
