package change

import (
	"sync"
	"sync/atomic"
)

// Registry is an ordered set of Observer registrations of a connection.
// Registration order is the order in which Observers are notified.
type Registry struct {
	mu   sync.Mutex
	regs []*registration
}

type registration struct {
	ref    Ref
	filter Filter
	pre    bool        // Observer implements PreUpdateObserver.
	done   atomic.Bool // Registration was removed or has ended.
}

func (r *registration) observer() Observer {
	if r.done.Load() {
		return nil
	}
	return r.ref.Observer()
}

func (r *registration) accepts(e Event) bool {
	return r.filter == nil || r.filter(e)
}

// Add registers the Observer of |ref|, notified of Events accepted by |filter|.
// Registrations made while a transaction is in progress observe only changes
// recorded after the registration. Adding an already-registered Observer
// adds an additional, independent registration.
func (r *Registry) Add(ref Ref, filter Filter) {
	var obs = ref.Observer()
	if obs == nil {
		panic("change: Add of nil Observer")
	}
	var _, pre = obs.(PreUpdateObserver)

	r.mu.Lock()
	r.regs = append(r.regs, &registration{ref: ref, filter: filter, pre: pre})
	r.mu.Unlock()
}

// Remove every registration of |obs|. Events of an in-progress transaction
// already buffered for |obs| are not delivered. Remove returns whether any
// registration was found. Observers are matched by identity, and should be
// pointers.
func (r *Registry) Remove(obs Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found bool
	for _, reg := range r.regs {
		if o := reg.ref.Observer(); o != nil && o == obs {
			reg.done.Store(true)
			found = true
		}
	}
	r.pruneLocked()
	return found
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.regs)
}

// snapshot returns live registrations in registration order.
func (r *Registry) snapshot() []*registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return append([]*registration(nil), r.regs...)
}

// matching returns live registrations which accept |e|.
func (r *Registry) matching(e Event) []*registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*registration
	for _, reg := range r.regs {
		if !reg.done.Load() && reg.accepts(e) {
			out = append(out, reg)
		}
	}
	return out
}

// endTransaction ends registrations scoped to a single transaction.
func (r *Registry) endTransaction() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.regs {
		if reg.ref.extent == NextTransaction {
			reg.done.Store(true)
		}
	}
	r.pruneLocked()
}

// pruneLocked drops ended registrations, and weak registrations of
// collected Observers.
func (r *Registry) pruneLocked() {
	var out = r.regs[:0]
	for _, reg := range r.regs {
		if reg.done.Load() {
			continue
		} else if reg.ref.Observer() == nil {
			reg.done.Store(true)
			continue
		}
		out = append(out, reg)
	}
	for i := len(out); i != len(r.regs); i++ {
		r.regs[i] = nil
	}
	r.regs = out
}
