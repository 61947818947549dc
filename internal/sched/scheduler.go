package sched

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"taskweaver/internal/state"
)

// Options configures a Scheduler.
type Options struct {
	// Workers is the upper bound on parallelism. Zero selects
	// runtime.NumCPU(); the effective pool size is capped at the task
	// count and never below one. Negative values are a configuration
	// error.
	Workers int

	// State seeds the shared state. Reserved (underscore-prefixed) keys
	// are rejected.
	State map[string]any

	// KeepResults preserves the results sub-map across Start. By default
	// results are cleared at run start; the CLI sets this when results
	// were pre-seeded.
	KeepResults bool

	// SkipDependents propagates skips transitively through a failed
	// subgraph. When false only the direct children of a failed task are
	// skipped eagerly; anything left unreached is marked skipped during
	// the drain sweep.
	SkipDependents bool

	// Logger receives lifecycle and hook-failure records. Nil discards.
	Logger *slog.Logger
}

// Scheduler executes registered tasks across a bounded worker pool such
// that a task runs only after all its predecessors passed.
//
// A Scheduler is single-use: Register before Start, Start once.
type Scheduler struct {
	opts   Options
	logger *slog.Logger
	st     *state.State
	graph  *Graph
	hooks  hookSet

	// mu guards tasks, counters, and the ready queue bookkeeping. The
	// completion-processing critical section and worker terminal updates
	// both serialize on it.
	mu        sync.Mutex
	tasks     map[string]*task
	started   bool
	completed int
	inFlight  int

	queue chan string
	done  chan completion
}

// completion is the event a worker posts after a task reaches a terminal
// state. Skip events do not pass through this channel; they are produced
// inside the completion-processing path.
type completion struct {
	name   string
	status Status
	thread string
}

// workerSentinel ends a worker loop. One is enqueued per worker at drain.
const workerSentinel = ""

// New validates opts and returns a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Workers < 0 {
		return nil, schedErrorf(ErrConfiguration, "workers must not be negative, got %d", opts.Workers)
	}

	st, err := state.New(opts.State)
	if err != nil {
		if errors.Is(err, state.ErrReservedKey) {
			return nil, schedErrorf(ErrConfiguration, "%v", err)
		}
		return nil, schedErrorf(ErrConfiguration, "initial state: %v", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		opts:   opts,
		logger: logger,
		st:     st,
		graph:  NewGraph(),
		tasks:  make(map[string]*task),
	}, nil
}

// State returns the shared state. Valid for the lifetime of the scheduler;
// tasks receive the same value when registered with RunState.
func (s *Scheduler) State() *state.State { return s.st }

// Graph returns the dependency graph for introspection. Callers must not
// mutate it after Start.
func (s *Scheduler) Graph() *Graph { return s.graph }

// Register stores a task record and adds its node to the graph. It must be
// called before Start.
func (s *Scheduler) Register(spec TaskSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return schedErrorf(ErrAlreadyStarted, "cannot register %q", spec.Name)
	}
	if (spec.Run == nil) == (spec.RunState == nil) {
		return schedErrorf(ErrConfiguration, "task %q must set exactly one of Run and RunState", spec.Name)
	}
	if err := s.graph.Add(spec.Name, spec.After); err != nil {
		return err
	}

	s.tasks[spec.Name] = &task{spec: spec, status: StatusPending}
	return nil
}

// Start validates the graph and runs it to completion, blocking the calling
// goroutine until every task reached a terminal state and all workers have
// exited. It is single-use; a second call fails with ErrAlreadyStarted.
//
// Task failures are recorded on the task records and reported through the
// summary, never returned as errors. Only graph/configuration
// errors (before any task runs) and internal invariant violations escape.
func (s *Scheduler) Start() (*Summary, error) {
	begin := time.Now()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, schedErrorf(ErrAlreadyStarted, "start is single-use")
	}
	s.started = true
	total := s.graph.Len()
	for name, rec := range s.tasks {
		rec.remaining = len(s.graph.Predecessors(name))
	}
	s.mu.Unlock()

	if err := s.graph.Validate(); err != nil {
		return nil, err
	}

	if !s.opts.KeepResults {
		s.st.ClearResults()
	}

	workers := s.opts.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > total {
		workers = total
	}
	if workers < 1 {
		workers = 1
	}

	runID := uuid.NewString()
	s.logger.Debug("run starting", "run_id", runID, "total", total, "workers", workers)
	s.fireStart(StartInfo{RunID: runID, Total: total, Workers: workers})

	// Buffered so that neither producers nor workers ever block: each task
	// is enqueued at most once, plus one sentinel per worker.
	s.queue = make(chan string, total+workers)
	s.done = make(chan completion, total)

	var pool errgroup.Group
	for i := 0; i < workers; i++ {
		id := workerID(i)
		pool.Go(func() error {
			s.workerLoop(id)
			return nil
		})
	}

	s.mu.Lock()
	for _, name := range s.graph.InitialReady() {
		s.enqueueLocked(name)
	}
	running := s.inFlight > 0
	s.mu.Unlock()

	for running {
		c := <-s.done
		s.mu.Lock()
		s.processCompletionLocked(c)
		s.inFlight--
		running = s.inFlight > 0
		s.mu.Unlock()
	}

	// Drain sweep: anything the dispatch loop never reached (possible when
	// SkipDependents is off) is reported as skipped rather than left in
	// limbo, so the summary always partitions the total.
	s.mu.Lock()
	for _, name := range s.graph.Names() {
		s.markSkippedLocked(name, false)
	}
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.queue <- workerSentinel
	}
	if err := pool.Wait(); err != nil {
		return nil, schedErrorf(ErrInternal, "worker pool: %v", err)
	}

	summary := s.buildSummary(runID, time.Since(begin))
	s.logger.Debug("run finished", "run_id", runID,
		"passed", summary.Passed, "failed", summary.Failed, "skipped", summary.Skipped)
	s.fireDone(summary)
	return summary, nil
}

// enqueueLocked hands a ready task to the pool. Caller holds mu.
func (s *Scheduler) enqueueLocked(name string) {
	s.inFlight++
	s.queue <- name
}

// processCompletionLocked applies one completion event to the graph:
// downstream of a passed task gets its predecessor counters decremented and
// newly ready tasks enqueued; downstream of a non-passing task is skipped.
// Caller holds mu.
func (s *Scheduler) processCompletionLocked(c completion) {
	for _, d := range s.graph.Downstream(c.name) {
		rec := s.tasks[d]
		if !c.status.Passing() {
			s.markSkippedLocked(d, s.opts.SkipDependents)
			continue
		}
		rec.remaining--
		if rec.remaining == 0 && rec.status == StatusPending && s.predecessorsPassedLocked(d) {
			s.enqueueLocked(d)
		}
	}
}

// markSkippedLocked marks a pending task skipped, counts it, and fires its
// task-done event with the unassigned thread sentinel. When cascade is set
// the skip propagates transitively. Caller holds mu.
func (s *Scheduler) markSkippedLocked(name string, cascade bool) {
	rec := s.tasks[name]
	if rec.status != StatusPending {
		return
	}
	rec.status = StatusSkipped
	rec.thread = ThreadUnassigned
	s.completed++
	s.fireTaskDone(name, ThreadUnassigned, StatusSkipped, s.completed)

	if cascade {
		for _, d := range s.graph.Downstream(name) {
			s.markSkippedLocked(d, true)
		}
	}
}

func (s *Scheduler) predecessorsPassedLocked(name string) bool {
	for _, dep := range s.graph.Predecessors(name) {
		if !s.tasks[dep].status.Passing() {
			return false
		}
	}
	return true
}

func (s *Scheduler) buildSummary(runID string, elapsed time.Duration) *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &Summary{
		RunID:    runID,
		Total:    s.graph.Len(),
		Duration: elapsed,
	}
	for _, name := range s.graph.Names() {
		rec := s.tasks[name]
		tr := TaskResult{Name: name, Status: rec.status, Result: rec.result, Thread: rec.thread}
		switch rec.status {
		case StatusPassed:
			summary.Passed++
		case StatusFailed:
			summary.Failed++
			tr.Error = rec.err.Error()
		case StatusSkipped:
			summary.Skipped++
		}
		summary.Tasks = append(summary.Tasks, tr)
	}
	summary.HasFailures = summary.Failed > 0
	return summary
}
