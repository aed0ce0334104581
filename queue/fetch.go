package queue

import (
	"context"

	"go.gazette.dev/dbqueue/row"
)

// FetchAll returns the materialized rows of |query|.
func (c *Conn) FetchAll(ctx context.Context, query string, args ...interface{}) ([]row.Row, error) {
	var out []row.Row
	var err = c.ForEach(ctx, func(r row.Row) error {
		out = append(out, r.Materialize())
		return nil
	}, query, args...)
	return out, err
}

// FetchOne returns the first materialized row of |query|, and whether there was one.
func (c *Conn) FetchOne(ctx context.Context, query string, args ...interface{}) (row.Row, bool, error) {
	var cur, err = c.Query(ctx, query, args...)
	if err != nil {
		return row.Row{}, false, err
	}
	defer cur.Close()

	if !cur.Next() {
		return row.Row{}, false, firstErr(cur.Err(), cur.Close())
	}
	var out = cur.Row().Materialize()
	return out, true, cur.Close()
}

// ForEach invokes |fn| with each row of |query|. Rows passed to |fn| are
// live: they're valid only until |fn| returns, and must be Materialized to be
// retained. An error of |fn| stops iteration and is returned.
func (c *Conn) ForEach(ctx context.Context, fn func(row.Row) error, query string, args ...interface{}) error {
	var cur, err = c.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer cur.Close()

	for cur.Next() {
		if err = fn(cur.Row()); err != nil {
			return err
		}
	}
	return firstErr(cur.Err(), cur.Close())
}

// FetchValue decodes the first column of the first row of |query| as T.
// It returns false if there's no row, or if the column is NULL.
// As with row.Get, FetchValue panics if the column cannot represent a T.
func FetchValue[T any](ctx context.Context, c *Conn, query string, args ...interface{}) (T, bool, error) {
	var zero T

	var r, ok, err = c.FetchOne(ctx, query, args...)
	if err != nil || !ok {
		return zero, false, err
	}
	var out, present = row.GetOptional[T](r, 0)
	return out, present, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
