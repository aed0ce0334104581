package change

import (
	"fmt"
	"strings"

	"go.gazette.dev/dbqueue/row"
)

// Kind of a row-level change.
type Kind int8

const (
	Insert Kind = iota + 1
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("Kind(%d)", int8(k))
	}
}

// Event records one row-level insert, update, or delete.
type Event struct {
	Kind     Kind
	Database string // Schema name, eg "main" or the name of an ATTACH'd database.
	Table    string
	RowID    int64
	// Depth is the savepoint nesting level at which the change occurred.
	// Zero is the top-level transaction.
	Depth int
}

// Copy returns an Event sharing no memory with |e|. Events hold only
// immutable fields, so this is a plain copy.
func (e Event) Copy() Event { return e }

func (e Event) String() string {
	return fmt.Sprintf("%s %s.%s rowid=%d depth=%d", e.Kind, e.Database, e.Table, e.RowID, e.Depth)
}

// PreUpdateEvent carries the column values of a row change, captured just
// before the change is applied. PreUpdateEvents are available only if the
// engine is built with its pre-update hook.
//
// The engine's pre-update callback delivers TEXT and BLOB values alike, and
// both are BLOB Values of a PreUpdateEvent. row.Decode of a string accepts
// a UTF-8 BLOB.
type PreUpdateEvent struct {
	Kind     Kind
	Database string
	Table    string
	OldRowID int64
	NewRowID int64
	// Old column values. Empty for Insert.
	Old []row.Value
	// New column values. Empty for Delete.
	New   []row.Value
	Depth int
}

// Copy returns a PreUpdateEvent sharing no memory with |e|.
func (e PreUpdateEvent) Copy() PreUpdateEvent {
	e.Old = copyValues(e.Old)
	e.New = copyValues(e.New)
	return e
}

// event returns the Event of this PreUpdateEvent, against which Filters
// are evaluated.
func (e PreUpdateEvent) event() Event {
	var rowID = e.NewRowID
	if e.Kind == Delete {
		rowID = e.OldRowID
	}
	return Event{Kind: e.Kind, Database: e.Database, Table: e.Table, RowID: rowID, Depth: e.Depth}
}

func copyValues(vv []row.Value) []row.Value {
	if vv == nil {
		return nil
	}
	var out = make([]row.Value, len(vv))
	for i, v := range vv {
		out[i] = v.Copy()
	}
	return out
}

// Filter is a predicate over Events. Observers receive only Events which
// their Filter accepts. A nil Filter accepts all Events.
type Filter func(Event) bool

// All accepts every Event.
func All(Event) bool { return true }

// Kinds returns a Filter accepting Events of the given Kinds.
func Kinds(kinds ...Kind) Filter {
	return func(e Event) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}

// Tables returns a Filter accepting Events of the named tables. As with
// SQLite identifiers, table names are matched case-insensitively.
func Tables(tables ...string) Filter {
	return func(e Event) bool {
		for _, t := range tables {
			if strings.EqualFold(e.Table, t) {
				return true
			}
		}
		return false
	}
}

// And returns a Filter accepting Events accepted by every one of |filters|.
func And(filters ...Filter) Filter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}
