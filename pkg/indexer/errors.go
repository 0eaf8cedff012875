package indexer

import (
	"errors"
	"fmt"
)

// ErrSpawn indicates the worker process could not be created.
var ErrSpawn = errors.New("worker spawn failed")

// SpawnError wraps the reason a worker could not be started. Path is the
// worker executable when the spawner exposes one. The job that returned it is
// left Running with no process; the caller must Abort it.
type SpawnError struct {
	JobID string
	Path  string
	Err   error
}

func (e *SpawnError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("job %s: %v: %s: %v", e.JobID, ErrSpawn, e.Path, e.Err)
	}
	return fmt.Sprintf("job %s: %v: %v", e.JobID, ErrSpawn, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// IsSpawnFailure reports whether err is a worker spawn failure.
func IsSpawnFailure(err error) bool {
	return errors.Is(err, ErrSpawn)
}

// TransitionError is the panic value for an operation invoked in a state
// that forbids it. It signals a programming error and is never returned.
type TransitionError struct {
	Op    string
	JobID string
	From  State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s job %s", e.Op, e.From, e.JobID)
}
