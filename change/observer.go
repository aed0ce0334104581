package change

import "weak"

// Observer is notified of committed row changes of a connection.
//
// All Observer methods of a connection are invoked from the single execution
// context which owns that connection, and never concurrently with one another.
type Observer interface {
	// OnChange is called once for each buffered Event accepted by the
	// Observer's Filter, in chronological order, after the transaction commits.
	OnChange(Event)
	// BeforeCommit is called as a top-level transaction is about to commit.
	// A non-nil error vetoes the commit, rolling back the entire transaction,
	// and is returned to the caller whose statement attempted the commit.
	// BeforeCommit runs within the engine's commit hook, and must not use
	// the connection.
	BeforeCommit() error
	// AfterCommit is called once after a transaction commits, following
	// all OnChange calls of that transaction.
	AfterCommit()
	// AfterRollback is called once after a transaction rolls back. Buffered
	// Events of the transaction are discarded without being delivered.
	AfterRollback()
}

// PreUpdateObserver is an Observer which also receives PreUpdateEvents.
// The capability is resolved once, when the Observer is registered.
type PreUpdateObserver interface {
	Observer
	// OnPreUpdate is called for each buffered PreUpdateEvent, immediately
	// before the OnChange call of the same row change.
	OnPreUpdate(PreUpdateEvent)
}

// Extent of an Observer registration.
type Extent int8

const (
	// ObserverLifetime registrations hold a weak reference to the Observer,
	// and end when the Observer is garbage collected.
	ObserverLifetime Extent = iota
	// DatabaseLifetime registrations hold the Observer strongly, and end
	// only when explicitly removed.
	DatabaseLifetime
	// NextTransaction registrations hold the Observer strongly, and end
	// after the next transaction commits or rolls back.
	NextTransaction
)

// Ref references a registered Observer with a particular Extent.
type Ref struct {
	get    func() Observer
	extent Extent
}

// Weak returns a Ref which doesn't keep |p| reachable. The registration ends
// once |p| is garbage collected.
func Weak[T any, P interface {
	*T
	Observer
}](p P) Ref {
	var wp = weak.Make((*T)(p))

	return Ref{
		get: func() Observer {
			if v := wp.Value(); v != nil {
				return P(v)
			}
			return nil
		},
		extent: ObserverLifetime,
	}
}

// Strong returns a Ref which retains |obs| until it's removed.
func Strong(obs Observer) Ref {
	return Ref{get: func() Observer { return obs }, extent: DatabaseLifetime}
}

// Once returns a Ref which retains |obs| through the next transaction.
func Once(obs Observer) Ref {
	return Ref{get: func() Observer { return obs }, extent: NextTransaction}
}

// Extent of the Ref.
func (r Ref) Extent() Extent { return r.extent }

// Observer returns the referenced Observer, or nil if it's been collected.
func (r Ref) Observer() Observer {
	if r.get == nil {
		return nil
	}
	return r.get()
}
