package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
)

var (
	// ErrOperationExists is returned when adding an id that is already registered
	ErrOperationExists = errors.New("subscriber already exists")
)

// Operation is a running operation on a connection
type Operation struct {
	ID       string
	Name     string
	Type     string
	Sequence engine.ResultSequence
	Context  context.Context
	Cancel   context.CancelFunc

	// Done is closed when the runner goroutine exits
	Done chan struct{}
}

// NewOperation creates an operation with a cancelable context derived from ctx
func NewOperation(ctx context.Context, id, name, opType string) *Operation {
	if ctx == nil {
		ctx = context.Background()
	}

	opCtx, cancel := context.WithCancel(ctx)
	return &Operation{
		ID:      id,
		Name:    name,
		Type:    opType,
		Context: opCtx,
		Cancel:  cancel,
		Done:    make(chan struct{}),
	}
}

// Stop cancels the operation and closes its sequence. It is safe to call
// more than once.
func (o *Operation) Stop() {
	if o.Cancel != nil {
		o.Cancel()
	}
	if o.Sequence != nil {
		o.Sequence.Close()
	}
}

// Wait blocks until the runner exits or the timeout passes. A timeout of 0
// waits forever. Returns false on timeout.
func (o *Operation) Wait(timeout time.Duration) bool {
	if o.Done == nil {
		return true
	}

	if timeout <= 0 {
		<-o.Done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-o.Done:
		return true
	case <-timer.C:
		return false
	}
}

// Stopped returns true once the operation context is canceled
func (o *Operation) Stopped() bool {
	return o.Context != nil && o.Context.Err() != nil
}

// Registry maps client supplied ids to running operations. It is owned by
// a single connection goroutine and is not safe for concurrent use.
type Registry struct {
	operations map[string]*Operation
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		operations: map[string]*Operation{},
	}
}

// Add registers the operation. An existing operation with the same id is
// never replaced.
func (r *Registry) Add(op *Operation) error {
	if _, ok := r.operations[op.ID]; ok {
		return fmt.Errorf("%w: %q", ErrOperationExists, op.ID)
	}

	r.operations[op.ID] = op
	return nil
}

// Get returns the operation with the id
func (r *Registry) Get(id string) (*Operation, bool) {
	op, ok := r.operations[id]
	return op, ok
}

// Has returns true if the id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.operations[id]
	return ok
}

// Remove unregisters and returns the operation. Removing an unknown id
// returns nil.
func (r *Registry) Remove(id string) *Operation {
	op, ok := r.operations[id]
	if !ok {
		return nil
	}

	delete(r.operations, id)
	return op
}

// RemoveIf removes the operation only if it is still the registered one
// for its id
func (r *Registry) RemoveIf(op *Operation) bool {
	current, ok := r.operations[op.ID]
	if !ok || current != op {
		return false
	}

	delete(r.operations, op.ID)
	return true
}

// RemoveAll empties the registry and returns what was in it
func (r *Registry) RemoveAll() []*Operation {
	ops := make([]*Operation, 0, len(r.operations))
	for _, op := range r.operations {
		ops = append(ops, op)
	}

	r.operations = map[string]*Operation{}
	return ops
}

// Len returns the number of registered operations
func (r *Registry) Len() int {
	return len(r.operations)
}
