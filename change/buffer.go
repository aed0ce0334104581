package change

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/metrics"
)

// State of a Buffer.
type State int8

const (
	// Idle Buffers have no transaction in progress.
	Idle State = iota
	// InTransaction Buffers are recording the changes of an open transaction.
	InTransaction
	// Committing Buffers have consulted Observers, which allowed the commit,
	// and await confirmation that the commit took effect.
	Committing
	// RollingBack Buffers had their commit vetoed by an Observer, and await
	// the resulting rollback.
	RollingBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InTransaction:
		return "InTransaction"
	case Committing:
		return "Committing"
	case RollingBack:
		return "RollingBack"
	default:
		return fmt.Sprintf("State(%d)", int8(s))
	}
}

// Buffer records the row changes of a connection's transaction, including
// those of nested savepoints, and delivers them to registered Observers once
// the transaction commits. Changes of a rolled back transaction or savepoint
// are discarded without delivery.
//
// A Buffer is driven by the engine callbacks of its connection, and like the
// connection must be used from one execution context at a time.
type Buffer struct {
	name     string
	registry *Registry

	state   State
	entries []entry
	// Stack of open savepoints. When |implicit|, the bottom savepoint
	// began the transaction and behaves as the top-level transaction.
	savepoints []savepoint
	implicit   bool
	veto       error
}

// entry is a recorded change and the registrations it's delivered to.
type entry struct {
	event   Event
	pre     *PreUpdateEvent
	preOnly bool // |pre| awaits its Event, or has none.
	targets []*registration
}

type savepoint struct {
	name  string
	start int // Offset into Buffer.entries at which the savepoint began.
}

// NewBuffer returns an Idle Buffer delivering to Observers of |registry|.
// |name| labels logs and metrics of the Buffer.
func NewBuffer(name string, registry *Registry) *Buffer {
	return &Buffer{name: name, registry: registry}
}

// State of the Buffer.
func (b *Buffer) State() State { return b.state }

// Depth is the current savepoint nesting level. The top-level transaction
// is depth zero.
func (b *Buffer) Depth() int {
	if b.implicit {
		return len(b.savepoints) - 1
	}
	return len(b.savepoints)
}

// Len is the number of buffered changes.
func (b *Buffer) Len() int { return len(b.entries) }

// Begin notes the start of an explicit transaction.
func (b *Buffer) Begin() {
	if b.state == Idle {
		b.state = InTransaction
	}
}

// RecordChange buffers |e| for each Observer whose Filter accepts it. The
// Event Depth is assigned by the Buffer. A change recorded outside of an
// explicit transaction belongs to the implicit transaction of its statement.
func (b *Buffer) RecordChange(e Event) {
	if b.state == Idle {
		b.state = InTransaction
	}
	e.Depth = b.Depth()

	// Complete the change of a PreUpdateEvent recorded just prior.
	if n := len(b.entries); n != 0 {
		var last = &b.entries[n-1]
		if last.preOnly && last.event.Kind == e.Kind &&
			last.event.RowID == e.RowID && last.event.Table == e.Table {
			last.preOnly = false
			return
		}
	}
	if targets := b.registry.matching(e); len(targets) != 0 {
		b.entries = append(b.entries, entry{event: e, targets: targets})
	}
}

// RecordPreUpdate buffers |e| for each Observer whose Filter accepts its
// Event. The RecordChange of the same row change which follows is
// combined with it.
func (b *Buffer) RecordPreUpdate(e PreUpdateEvent) {
	if b.state == Idle {
		b.state = InTransaction
	}
	e.Depth = b.Depth()

	var ev = e.event()
	var targets = b.registry.matching(ev)
	var cp = e.Copy()

	b.entries = append(b.entries, entry{event: ev, pre: &cp, preOnly: true, targets: targets})
}

// Savepoint pushes a savepoint named |name|. A savepoint opened outside of
// a transaction begins one.
func (b *Buffer) Savepoint(name string) {
	if b.state == Idle {
		b.state = InTransaction
		b.implicit = true
	}
	b.savepoints = append(b.savepoints, savepoint{name: name, start: len(b.entries)})

	log.WithFields(log.Fields{
		"queue":     b.name,
		"savepoint": name,
		"depth":     b.Depth(),
	}).Trace("savepoint")
}

// Release pops savepoints from the top of the stack down to and including the
// nearest savepoint named |name|, merging their changes into the enclosing
// savepoint or transaction. Release of an unknown name is a no-op, as the
// engine fails the statement. Release returns whether a savepoint matched.
func (b *Buffer) Release(name string) bool {
	var ind = b.lookup(name)
	if ind == -1 {
		return false
	}
	b.savepoints = b.savepoints[:ind]

	log.WithFields(log.Fields{
		"queue":     b.name,
		"savepoint": name,
		"depth":     b.Depth(),
	}).Trace("released savepoint")

	// Releasing the savepoint which began the transaction commits it. The
	// engine's commit callback follows, but buffered changes now belong to
	// the transaction itself.
	if ind == 0 && b.implicit {
		b.implicit = false
	}
	return true
}

// Savepoints is a copy of a Buffer's savepoint stack.
type Savepoints struct {
	stack    []savepoint
	implicit bool
}

// Savepoints returns a copy of the savepoint stack, for RestoreSavepoints.
func (b *Buffer) Savepoints() Savepoints {
	return Savepoints{
		stack:    append([]savepoint(nil), b.savepoints...),
		implicit: b.implicit,
	}
}

// RestoreSavepoints reinstates a stack returned by Savepoints. It's used
// when a RELEASE statement fails and the engine's savepoints remain open.
// Restoring into an Idle Buffer is a no-op.
func (b *Buffer) RestoreSavepoints(s Savepoints) {
	if b.state == Idle {
		return
	}
	for i := range s.stack {
		if s.stack[i].start > len(b.entries) {
			s.stack[i].start = len(b.entries)
		}
	}
	b.savepoints, b.implicit = s.stack, s.implicit

	log.WithFields(log.Fields{
		"queue": b.name,
		"depth": b.Depth(),
	}).Trace("restored savepoints")
}

// RollbackTo discards changes recorded since the nearest savepoint named
// |name| began, and pops savepoints above it. The matched savepoint itself
// remains open, as does the transaction. RollbackTo returns whether a
// savepoint matched.
func (b *Buffer) RollbackTo(name string) bool {
	var ind = b.lookup(name)
	if ind == -1 {
		return false
	}
	var discarded = len(b.entries) - b.savepoints[ind].start

	b.truncate(b.savepoints[ind].start)
	b.savepoints = b.savepoints[:ind+1]

	log.WithFields(log.Fields{
		"queue":     b.name,
		"savepoint": name,
		"depth":     b.Depth(),
		"discarded": discarded,
	}).Trace("rolled back to savepoint")

	return true
}

// lookup walks the savepoint stack from its top, returning the index of the
// nearest savepoint named |name| or -1. As with other SQL identifiers,
// savepoint names are case-insensitive.
func (b *Buffer) lookup(name string) int {
	for i := len(b.savepoints) - 1; i >= 0; i-- {
		if strings.EqualFold(b.savepoints[i].name, name) {
			return i
		}
	}
	return -1
}

// WillCommit consults each registered Observer, in registration order, as
// the transaction is about to commit. The first Observer to return an error
// vetoes the commit: further Observers are not consulted, the error is
// retained for TakeVeto, and the caller must roll back the transaction.
func (b *Buffer) WillCommit() error {
	b.state = Committing

	for _, reg := range b.registry.snapshot() {
		var obs = reg.observer()
		if obs == nil {
			continue
		}
		if err := obs.BeforeCommit(); err != nil {
			b.state, b.veto = RollingBack, err

			log.WithFields(log.Fields{
				"queue": b.name,
				"err":   err,
			}).Debug("observer vetoed commit")

			return err
		}
	}
	return nil
}

// CommitFailed notes that a commit allowed by WillCommit didn't take effect,
// and the transaction remains open.
func (b *Buffer) CommitFailed() {
	if b.state == Committing {
		b.state = InTransaction
	}
}

// DidCommit delivers buffered changes to their Observers in chronological
// order, followed by an AfterCommit notification of every Observer. The
// Buffer is Idle before the first notification. DidCommit returns the
// number of delivered change Events.
func (b *Buffer) DidCommit() int {
	var entries = b.entries
	b.Reset()

	var delivered int
	for _, e := range entries {
		for _, reg := range e.targets {
			var obs = reg.observer()
			if obs == nil {
				continue
			}
			if e.pre != nil && reg.pre {
				obs.(PreUpdateObserver).OnPreUpdate(*e.pre)
			}
			if !e.preOnly {
				obs.OnChange(e.event)
				delivered++
				metrics.ChangeEventsTotal.WithLabelValues(b.name, e.event.Kind.String()).Inc()
			}
		}
	}
	for _, reg := range b.registry.snapshot() {
		if obs := reg.observer(); obs != nil {
			obs.AfterCommit()
		}
	}
	b.registry.endTransaction()
	metrics.TransactionsTotal.WithLabelValues(b.name, metrics.Commit).Inc()

	log.WithFields(log.Fields{
		"queue":     b.name,
		"delivered": delivered,
	}).Debug("transaction committed")

	return delivered
}

// DidRollback discards all buffered changes and notifies every Observer
// with AfterRollback. A veto which caused the rollback remains available
// to TakeVeto.
func (b *Buffer) DidRollback() {
	var veto, discarded = b.veto, len(b.entries)
	b.Reset()
	b.veto = veto

	for _, reg := range b.registry.snapshot() {
		if obs := reg.observer(); obs != nil {
			obs.AfterRollback()
		}
	}
	b.registry.endTransaction()

	var outcome = metrics.Rollback
	if veto != nil {
		outcome = metrics.Veto
	}
	metrics.TransactionsTotal.WithLabelValues(b.name, outcome).Inc()

	log.WithFields(log.Fields{
		"queue":     b.name,
		"discarded": discarded,
		"vetoed":    veto != nil,
	}).Debug("transaction rolled back")
}

// Mark returns a position in the buffered changes, for use with DiscardSince.
func (b *Buffer) Mark() int { return len(b.entries) }

// DiscardSince drops changes recorded after |mark|. It's used to drop the
// changes of a failed statement, which the engine has reverted.
func (b *Buffer) DiscardSince(mark int) {
	if mark < len(b.entries) {
		b.truncate(mark)
	}
}

// TakeVeto returns and clears the error of an Observer which vetoed the
// last commit, if any.
func (b *Buffer) TakeVeto() error {
	var err = b.veto
	b.veto = nil
	return err
}

// Reset the Buffer to Idle, dropping buffered changes and savepoints
// without notifying Observers.
func (b *Buffer) Reset() {
	b.state = Idle
	b.entries = nil
	b.savepoints = nil
	b.implicit = false
	b.veto = nil
}

func (b *Buffer) truncate(n int) {
	for i := n; i != len(b.entries); i++ {
		b.entries[i] = entry{}
	}
	b.entries = b.entries[:n]

	for i := range b.savepoints {
		if b.savepoints[i].start > n {
			b.savepoints[i].start = n
		}
	}
}
