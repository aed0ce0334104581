package row

import "github.com/pkg/errors"

// Layout maps the columns of a base (fetched) row into the columns of an
// adapted Row, and optionally defines named variant sub-rows (scopes) over
// the same base row. Layouts are immutable.
type Layout struct {
	indexes []int              // Base column index of each adapted column.
	names   []string           // Name of each adapted column.
	scopes  map[string]*Layout // Variant sub-rows, indexed over the base row.
}

// NewLayout builds a Layout over base |columns| which presents base columns
// |indexes|, in order, and has the given variant |scopes|. It errors if an
// index is out of range.
func NewLayout(columns []string, indexes []int, scopes map[string]*Layout) (*Layout, error) {
	var l = &Layout{
		indexes: make([]int, len(indexes)),
		names:   make([]string, len(indexes)),
		scopes:  scopes,
	}
	for i, ind := range indexes {
		if ind < 0 || ind >= len(columns) {
			return nil, errors.Errorf("layout index %d out of range [0, %d)", ind, len(columns))
		}
		l.indexes[i] = ind
		l.names[i] = columns[ind]
	}
	return l, nil
}

// Adapter describes how the columns of a fetched row map to an adapted Row.
// Adapters are typically supplied by a query layer, which knows (for example)
// that columns [0, 3) of a joined query are a "player" and [3, 5) a "team".
type Adapter interface {
	// Layout returns the Layout of this Adapter over base |columns|.
	Layout(columns []string) (*Layout, error)
}

// RangeAdapter presents base columns [Start, End).
type RangeAdapter struct {
	Start, End int
}

// Layout implements Adapter.
func (a RangeAdapter) Layout(columns []string) (*Layout, error) {
	if a.Start < 0 || a.Start > a.End || a.End > len(columns) {
		return nil, errors.Errorf("invalid column range [%d, %d) of %d columns",
			a.Start, a.End, len(columns))
	}
	return NewLayout(columns, seq(a.Start, a.End), nil)
}

// SuffixAdapter presents base columns starting at index Start.
type SuffixAdapter struct {
	Start int
}

// Layout implements Adapter.
func (a SuffixAdapter) Layout(columns []string) (*Layout, error) {
	return RangeAdapter{Start: a.Start, End: len(columns)}.Layout(columns)
}

// ScopeAdapter presents the columns of its Base Adapter (or, if nil, every
// base column), and defines named variant sub-rows from its Scopes.
// Each scope Adapter is applied to the base row, not to the adapted Row.
type ScopeAdapter struct {
	Base   Adapter
	Scopes map[string]Adapter
}

// Layout implements Adapter.
func (a ScopeAdapter) Layout(columns []string) (*Layout, error) {
	var base *Layout
	var err error

	if a.Base != nil {
		base, err = a.Base.Layout(columns)
	} else {
		base, err = NewLayout(columns, seq(0, len(columns)), nil)
	}
	if err != nil {
		return nil, err
	}

	var scopes = make(map[string]*Layout, len(base.scopes)+len(a.Scopes))
	for name, l := range base.scopes {
		scopes[name] = l
	}
	for name, adapter := range a.Scopes {
		if scopes[name], err = adapter.Layout(columns); err != nil {
			return nil, errors.WithMessagef(err, "scope %q", name)
		}
	}
	return &Layout{indexes: base.indexes, names: base.names, scopes: scopes}, nil
}

func seq(from, to int) []int {
	var out = make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
