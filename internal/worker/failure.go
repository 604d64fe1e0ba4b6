package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerFailure matches every *Failure.
	ErrWorkerFailure = errors.New("worker failure")
	// ErrPanic marks a failure recovered from a panicking hook.
	ErrPanic = errors.New("hook panicked")
)

// Phase names the hook a failure came from.
type Phase string

// Worker phases.
const (
	PhaseInitialize Phase = "initialize"
	PhaseConsume    Phase = "consume"
	PhaseFinalize   Phase = "finalize"
)

// Failure describes a hook error that stopped a worker. Shard and Index are
// -1 when the failure is not tied to an item.
type Failure struct {
	Worker int
	Shard  int
	Index  int
	Phase  Phase
	Err    error
}

func (f *Failure) Error() string {
	if f.Phase == PhaseConsume {
		return fmt.Sprintf("worker %d failed on shard %d item %d: %v", f.Worker, f.Shard, f.Index, f.Err)
	}
	return fmt.Sprintf("worker %d failed to %s: %v", f.Worker, f.Phase, f.Err)
}

// Unwrap exposes both ErrWorkerFailure and the hook's error.
func (f *Failure) Unwrap() []error {
	return []error{ErrWorkerFailure, f.Err}
}

func recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
