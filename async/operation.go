package async

// Future represents an operation which is executing in the background. The
// operation has completed when Done selects. Err may be invoked to determine
// whether the operation succeeded or failed.
type Future interface {
	// Done selects when operation background execution has finished.
	Done() <-chan struct{}
	// Err blocks until Done() and returns the final error of the Future.
	Err() error
}

// Operation is a Future which also produces a result of type T.
type Operation[T any] struct {
	done   Promise
	result T
	err    error
}

// NewOperation returns a new, unresolved Operation.
func NewOperation[T any]() *Operation[T] { return &Operation[T]{done: make(Promise)} }

// Done selects when Resolve is called.
func (o *Operation[T]) Done() <-chan struct{} { return o.done }

// Err blocks until Resolve is called, then returns its error.
func (o *Operation[T]) Err() error {
	o.done.Wait()
	return o.err
}

// Result blocks until Resolve is called, then returns its result and error.
func (o *Operation[T]) Result() (T, error) {
	o.done.Wait()
	return o.result, o.err
}

// Resolve marks the Operation as completed with the given result and error.
// Resolve may be called only once.
func (o *Operation[T]) Resolve(result T, err error) {
	o.result, o.err = result, err
	o.done.Resolve()
}

// Finished is a convenience that returns an already-resolved Operation.
func Finished[T any](result T, err error) *Operation[T] {
	var op = NewOperation[T]()
	op.Resolve(result, err)
	return op
}
