// Package schedule confines database connections to serial execution queues.
//
// Each connection is owned by one Queue, a goroutine executing jobs one at a
// time in FIFO order. Code running within a job is "inside" that Queue: the
// context.Context passed to the job carries a frame identifying it, and
// nested calls must propagate that Context. The Scheduler tracks the set of
// connections each Queue is permitted to touch. Usually that's just its own,
// but a blocking call from one Queue into another temporarily widens the
// target Queue's permitted set with the caller's, so that a job may use two
// independently scheduled connections together.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ConnID identifies a connection confined by a Scheduler.
type ConnID uint64

// Scheduler is a registry of Queues and the connections each is permitted
// to use.
type Scheduler struct {
	mu        sync.Mutex
	permitted map[*Queue]map[ConnID]struct{}
	nextConn  atomic.Uint64
}

// Default is the process-wide Scheduler.
var Default = NewScheduler()

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{permitted: make(map[*Queue]map[ConnID]struct{})}
}

// NewConnID allocates a ConnID which is unique within the Scheduler.
func (s *Scheduler) NewConnID() ConnID {
	return ConnID(s.nextConn.Add(1))
}

// CreateQueueFor starts a new Queue named |name|, permitted to use exactly
// connection |conn|.
func (s *Scheduler) CreateQueueFor(name string, conn ConnID) *Queue {
	var q = newQueue(s, name, conn)

	s.mu.Lock()
	s.permitted[q] = map[ConnID]struct{}{conn: {}}
	s.mu.Unlock()

	go q.serve()
	return q
}

// AssertPermitted panics if the Queue of |ctx| isn't permitted to use |conn|.
func (s *Scheduler) AssertPermitted(ctx context.Context, conn ConnID) {
	if !s.IsPermitted(ctx, conn) {
		panic(&NotPermittedError{Conn: conn, Queue: queueName(Current(ctx))})
	}
}

// IsPermitted returns whether the Queue of |ctx| is permitted to use |conn|.
// It's false if |ctx| isn't running within a Queue.
func (s *Scheduler) IsPermitted(ctx context.Context, conn ConnID) bool {
	var q = Current(ctx)
	if q == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var _, ok = s.permitted[q][conn]
	return ok
}

// Permitted returns the sorted connections which |q| is currently permitted
// to use. It's empty if |q| is closed.
func (s *Scheduler) Permitted(q *Queue) []ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedConns(s.permitted[q])
}

// widen adds |conns| to the permitted set of |q|, returning a function which
// restores the prior set.
func (s *Scheduler) widen(q *Queue, conns []ConnID) func() {
	if len(conns) == 0 {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var prior = s.permitted[q]
	var next = make(map[ConnID]struct{}, len(prior)+len(conns))
	for c := range prior {
		next[c] = struct{}{}
	}
	for _, c := range conns {
		next[c] = struct{}{}
	}
	s.permitted[q] = next

	return func() {
		s.mu.Lock()
		if _, ok := s.permitted[q]; ok {
			s.permitted[q] = prior
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) remove(q *Queue) {
	s.mu.Lock()
	delete(s.permitted, q)
	s.mu.Unlock()
}

func sortedConns(m map[ConnID]struct{}) []ConnID {
	var out = make([]ConnID, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReentrancyViolation is the panic value of a blocking call into a connection
// which the calling Queue is already permitted to use. Waiting on the call
// would deadlock the calling Queue.
type ReentrancyViolation struct {
	Conn  ConnID
	Queue string // Name of the calling Queue.
}

func (e *ReentrancyViolation) Error() string {
	return fmt.Sprintf("reentrant blocking access of connection %d from queue %q", e.Conn, e.Queue)
}

// NotPermittedError is the panic value of AssertPermitted.
type NotPermittedError struct {
	Conn  ConnID
	Queue string // Name of the current Queue, or empty if not within a Queue.
}

func (e *NotPermittedError) Error() string {
	if e.Queue == "" {
		return fmt.Sprintf("connection %d used outside of any queue", e.Conn)
	}
	return fmt.Sprintf("connection %d used from queue %q, which isn't permitted to use it", e.Conn, e.Queue)
}

func queueName(q *Queue) string {
	if q == nil {
		return ""
	}
	return q.name
}
