package sched

import (
	"fmt"
)

// workerID formats the stable identifier for worker i.
func workerID(i int) string { return fmt.Sprintf("thread_%d", i) }

// workerLoop consumes the ready queue until it receives the sentinel. Each
// iteration runs exactly one task to a terminal state and posts its
// completion event.
func (s *Scheduler) workerLoop(thread string) {
	for name := range s.queue {
		if name == workerSentinel {
			return
		}
		s.runTask(thread, name)
	}
}

// runTask executes one task on a worker goroutine: RUNNING transition and
// thread assignment, the task-run hook, the callable, then terminal
// bookkeeping and the task-done hook before the completion event is posted.
func (s *Scheduler) runTask(thread, name string) {
	s.mu.Lock()
	rec := s.tasks[name]
	if !allowedTransition(rec.status, StatusRunning) {
		status := rec.status
		s.mu.Unlock()
		s.logger.Error("invariant violation: dispatched task not pending",
			"task", name, "status", status)
		s.done <- completion{name: name, status: status, thread: thread}
		return
	}
	rec.status = StatusRunning
	rec.thread = thread
	s.mu.Unlock()

	s.fireTaskRun(name, thread)

	result, err := s.invoke(rec.spec)

	s.mu.Lock()
	if err != nil {
		rec.status = StatusFailed
		rec.err = err
		s.logger.Debug("task failed", "task", name, "thread", thread, "error", err)
	} else {
		rec.status = StatusPassed
		rec.result = result
		// The scheduler's own results write takes the state lock, like any
		// task-body write would.
		s.st.SetResult(name, result)
	}
	status := rec.status
	s.completed++
	count := s.completed
	s.fireTaskDone(name, thread, status, count)
	s.mu.Unlock()

	s.done <- completion{name: name, status: status, thread: thread}
}

// invoke runs the callable, dispatching on the with-state variant and
// converting panics into task failures.
func (s *Scheduler) invoke(spec TaskSpec) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if spec.RunState != nil {
		return spec.RunState(s.st)
	}
	return spec.Run()
}
