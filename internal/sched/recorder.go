package sched

import "sync"

// EventKind identifies which hook slot produced a HookEvent.
type EventKind string

const (
	EventSchedulerStart EventKind = "scheduler_start"
	EventTaskRun        EventKind = "task_run"
	EventTaskDone       EventKind = "task_done"
	EventSchedulerDone  EventKind = "scheduler_done"
)

// HookEvent is one observed lifecycle event.
type HookEvent struct {
	Kind   EventKind
	Task   string
	Thread string
	Status Status
	Count  int
}

// Recorder is a concurrency-safe collector of lifecycle events. Binding it
// to a scheduler occupies all four hook slots; it is intended for
// diagnostics and for asserting ordering properties in tests.
//
// Recording uses a single mutex. That may add contention but keeps the
// observed order identical to the invocation order.
type Recorder struct {
	mu     sync.Mutex
	events []HookEvent
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Bind registers the recorder on every hook slot of s.
func (r *Recorder) Bind(s *Scheduler) {
	s.OnSchedulerStart(func(info StartInfo, _ ...any) {
		r.record(HookEvent{Kind: EventSchedulerStart, Count: info.Total})
	})
	s.OnTaskRun(func(name, thread string, _ ...any) {
		r.record(HookEvent{Kind: EventTaskRun, Task: name, Thread: thread, Status: StatusRunning})
	})
	s.OnTaskDone(func(name, thread string, status Status, count int, _ ...any) {
		r.record(HookEvent{Kind: EventTaskDone, Task: name, Thread: thread, Status: status, Count: count})
	})
	s.OnSchedulerDone(func(summary *Summary, _ ...any) {
		r.record(HookEvent{Kind: EventSchedulerDone, Count: summary.Total})
	})
}

func (r *Recorder) record(e HookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a snapshot of the recorded events in observation order.
func (r *Recorder) Events() []HookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HookEvent, len(r.events))
	copy(out, r.events)
	return out
}
