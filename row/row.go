package row

import (
	"fmt"
	"sort"
	"strings"
)

// Row is an ordered sequence of (column name, Value) pairs. Column names
// are not required to be unique. A Row is backed by one of two strategies:
//
//   - A live Row reads directly from the current step of a Cursor. It's valid
//     only until the Cursor next advances (or closes), and accessing it after
//     that point panics. Live Rows are transient loop variables.
//   - A materialized Row owns private copies of its columns and values, and is
//     valid for its entire lifetime.
//
// Any Row retained beyond the current iteration step must be Materialized.
//
// Named lookups are case-insensitive and resolve duplicate names to the
// leftmost matching column. Equal, in contrast, compares names case-sensitively.
type Row struct {
	b      backing
	layout *Layout // If nil, the Row presents every column of |b|.
}

// backing is the storage strategy of a Row.
type backing interface {
	columns() []string
	value(i int) Value
	live() bool
}

// copied is the backing of materialized Rows.
type copied struct {
	names  []string
	values []Value
}

func (c *copied) columns() []string { return c.names }
func (c *copied) value(i int) Value { return c.values[i] }
func (c *copied) live() bool        { return false }

// live is the backing of Rows read from the current step of a Cursor.
type live struct {
	cursor     *Cursor
	generation uint64
}

func (l live) columns() []string { return l.cursor.columns }
func (l live) value(i int) Value {
	l.cursor.checkGeneration(l.generation)
	return FromDriver(l.cursor.dest[i])
}
func (l live) live() bool { return true }

// New returns a materialized Row of the given |columns| and |values|,
// which must have equal length. Values are copied.
func New(columns []string, values []Value) Row {
	if len(columns) != len(values) {
		panic(fmt.Sprintf("row.New: %d columns but %d values", len(columns), len(values)))
	}
	var c = &copied{
		names:  append([]string(nil), columns...),
		values: make([]Value, len(values)),
	}
	for i, v := range values {
		c.values[i] = v.Copy()
	}
	return Row{b: c}
}

// Count returns the number of columns of the Row.
func (r Row) Count() int {
	if r.layout != nil {
		return len(r.layout.indexes)
	} else if r.b == nil {
		return 0
	}
	return len(r.b.columns())
}

// Column returns the name of column |index|.
func (r Row) Column(index int) string {
	r.checkIndex(index)

	if r.layout != nil {
		return r.layout.names[index]
	}
	return r.b.columns()[index]
}

// Columns returns a copy of the column names of the Row.
func (r Row) Columns() []string {
	var out = make([]string, r.Count())
	for i := range out {
		out[i] = r.Column(i)
	}
	return out
}

// Value returns the Value of column |index|. An |index| outside of
// [0, Count()) is a programming error, and panics with an *IndexError.
func (r Row) Value(index int) Value {
	r.checkIndex(index)

	if r.layout != nil {
		index = r.layout.indexes[index]
	}
	return r.b.value(index)
}

// Index returns the leftmost column index having a case-insensitive match
// to |name|, or false if no column matches.
func (r Row) Index(name string) (int, bool) {
	for i, n := 0, r.Count(); i != n; i++ {
		if strings.EqualFold(r.Column(i), name) {
			return i, true
		}
	}
	return -1, false
}

// Named returns the Value of the leftmost column having a case-insensitive
// match to |name|, or false if no column matches.
func (r Row) Named(name string) (Value, bool) {
	if i, ok := r.Index(name); ok {
		return r.Value(i), true
	}
	return Value{}, false
}

// HasColumn is true if a column matches |name| (case-insensitive).
func (r Row) HasColumn(name string) bool {
	var _, ok = r.Index(name)
	return ok
}

// ContainsNonNull is true if any Value of the Row is not NULL.
func (r Row) ContainsNonNull() bool {
	for i, n := 0, r.Count(); i != n; i++ {
		if !r.Value(i).IsNull() {
			return true
		}
	}
	return false
}

// IsLive is true if the Row reads from a Cursor's current step.
func (r Row) IsLive() bool { return r.b != nil && r.b.live() }

// Materialize returns a Row which is valid beyond the current iteration step.
// A Row which is already materialized is returned as-is. A live Row is
// deep-copied, including all columns of the underlying Cursor, so that
// scoped sub-rows remain available.
func (r Row) Materialize() Row {
	if !r.IsLive() {
		return r
	}
	var names = r.b.columns()
	var c = &copied{
		names:  append([]string(nil), names...),
		values: make([]Value, len(names)),
	}
	for i := range c.values {
		c.values[i] = r.b.value(i).Copy()
	}
	return Row{b: c, layout: r.layout}
}

// Scoped returns the named variant sub-row of the Row, as defined by the
// Adapter which produced it. The sub-row shares the backing of the Row:
// a scoped Row of a live Row is itself live.
func (r Row) Scoped(name string) (Row, bool) {
	if r.layout == nil {
		return Row{}, false
	}
	var l, ok = r.layout.scopes[name]
	if !ok {
		return Row{}, false
	}
	return Row{b: r.b, layout: l}, true
}

// Scopes returns the sorted names of variant sub-rows of the Row.
func (r Row) Scopes() []string {
	if r.layout == nil {
		return nil
	}
	var out = make([]string, 0, len(r.layout.scopes))
	for name := range r.layout.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Equal is true if the Rows have the same column count, and pairwise equal
// column names (compared case-sensitively) and Values, in order.
func (r Row) Equal(other Row) bool {
	var n = r.Count()
	if n != other.Count() {
		return false
	}
	for i := 0; i != n; i++ {
		if r.Column(i) != other.Column(i) || !r.Value(i).Equal(other.Value(i)) {
			return false
		}
	}
	return true
}

// String renders the Row for debugging, eg `[id:1 name:"foo"]`.
func (r Row) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, n := 0, r.Count(); i != n; i++ {
		if i != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(r.Column(i))
		b.WriteByte(':')
		b.WriteString(r.Value(i).String())
	}
	b.WriteByte(']')
	return b.String()
}

func (r Row) checkIndex(index int) {
	if n := r.Count(); index < 0 || index >= n {
		panic(&IndexError{Index: index, Count: n})
	}
}

// IndexError is the panic value of an out-of-range column index.
type IndexError struct {
	Index int
	Count int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("row index %d out of range [0, %d)", e.Index, e.Count)
}
