package sched

import "taskweaver/internal/state"

// Func is a task callable that does not observe shared state.
type Func func() (any, error)

// StateFunc is a task callable that receives the shared state. It is the
// with-state variant of Func; the scheduler dispatches on which of the two
// a TaskSpec carries.
type StateFunc func(st *state.State) (any, error)

// TaskSpec is the declarative registration record for one task.
//
// Exactly one of Run and RunState must be set. After lists predecessor task
// names (deduplicated on registration, order preserved); predecessors may be
// registered later. Tags are informational labels; filtering happens before
// registration, in the loader.
type TaskSpec struct {
	Name     string
	Run      Func
	RunState StateFunc
	After    []string
	Tags     []string
}

// task is the mutable runtime record for a registered task. All fields
// besides spec are guarded by the scheduler mutex.
type task struct {
	spec   TaskSpec
	status Status
	result any
	err    error
	thread string

	// remaining counts predecessors that have not yet passed.
	remaining int
}
