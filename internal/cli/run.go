package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskweaver/internal/command"
	"taskweaver/internal/manifest"
	"taskweaver/internal/metrics"
	"taskweaver/internal/sched"
)

// Execute runs one canonical invocation end to end and returns the process
// exit code: 0 for a clean run, 1 when any task failed or the run errored,
// 2 for invalid invocations.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	if err := inv.Validate(); err != nil {
		return ExitInvalidInvocation, err
	}

	logger, closeLog, err := newLogger(stderr, inv)
	if err != nil {
		return ExitInvalidInvocation, err
	}
	defer closeLog()

	m, err := manifest.Load(inv.Manifest)
	if err != nil {
		return ExitFailure, err
	}

	executor := command.NewExecutor(filepath.Dir(inv.Manifest))
	specs := m.Specs(ctx, executor)

	specs, err = filterSpecs(specs, inv.Tags, inv.Task)
	if err != nil {
		return ExitFailure, err
	}
	logger.Info("collected tasks", "count", len(specs))

	initial, keepResults, err := ParseStatePairs(inv.Sets, inv.Results)
	if err != nil {
		return ExitInvalidInvocation, err
	}

	scheduler, err := sched.New(sched.Options{
		Workers:        inv.Workers,
		State:          initial,
		KeepResults:    keepResults,
		SkipDependents: inv.SkipDependents,
		Logger:         logger,
	})
	if err != nil {
		return ExitInvalidInvocation, err
	}

	for _, spec := range specs {
		if err := scheduler.Register(spec); err != nil {
			return ExitFailure, err
		}
	}

	if inv.ShowGraph {
		fmt.Fprint(stdout, FormatGraph(scheduler.Graph()))
		return ExitSuccess, nil
	}

	collector, closeMetrics := setupMetrics(inv.MetricsAddr)
	defer closeMetrics()

	attachOutput(scheduler, collector, stdout, inv, len(specs))

	summary, err := scheduler.Start()
	if err != nil {
		return ExitFailure, err
	}

	if stateJSON, jerr := json.Marshal(scheduler.State().Sanitized()); jerr == nil {
		logger.Debug("final state", "state", string(stateJSON))
	}

	fmt.Fprintln(stdout, summary.Text())
	if summary.HasFailures {
		return ExitFailure, nil
	}
	return ExitSuccess, nil
}

// newLogger builds the run logger: discarded by default, a stream handler
// with --log, optionally mirrored to a file with --log-file.
func newLogger(stderr io.Writer, inv Invocation) (*slog.Logger, func(), error) {
	noop := func() {}

	level := slog.LevelInfo
	if inv.Verbose {
		level = slog.LevelDebug
	}

	var sink io.Writer
	if inv.Log {
		sink = stderr
	}
	if inv.LogFile != "" {
		f, err := os.OpenFile(inv.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, noop, errors.Wrap(err, "open log file")
		}
		if sink != nil {
			sink = io.MultiWriter(sink, f)
		} else {
			sink = f
		}
		return slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})),
			func() { _ = f.Close() }, nil
	}

	if sink == nil {
		return slog.New(slog.DiscardHandler), noop, nil
	}
	return slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})), noop, nil
}

// filterSpecs applies tag filtering and single-task selection the way the
// loader contract describes: a task survives the tag filter when it carries
// every requested tag; surviving tasks have dependency edges pointing at
// filtered-out names stripped; single-task mode empties the selected task's
// dependency list entirely.
func filterSpecs(specs []sched.TaskSpec, tags []string, task string) ([]sched.TaskSpec, error) {
	if len(tags) > 0 {
		kept := make([]sched.TaskSpec, 0, len(specs))
		for _, spec := range specs {
			if hasAllTags(spec.Tags, tags) {
				kept = append(kept, spec)
			}
		}
		specs = kept

		allowed := make(map[string]struct{}, len(specs))
		for _, spec := range specs {
			allowed[spec.Name] = struct{}{}
		}
		for i := range specs {
			after := specs[i].After[:0]
			for _, dep := range specs[i].After {
				if _, ok := allowed[dep]; ok {
					after = append(after, dep)
				}
			}
			specs[i].After = after
		}
	}

	if task != "" {
		for _, spec := range specs {
			if spec.Name != task {
				continue
			}
			spec.After = nil
			return []sched.TaskSpec{spec}, nil
		}
		return nil, errors.Errorf("task %q not found in manifest or excluded by the tags filter", task)
	}

	if len(specs) == 0 {
		return nil, errors.New("no tasks in manifest match the given tags filter")
	}
	return specs, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// setupMetrics starts the optional prometheus endpoint. The returned close
// function is a no-op when metrics are disabled.
func setupMetrics(addr string) (*metrics.Collector, func()) {
	if addr == "" {
		return nil, func() {}
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = server.ListenAndServe()
	}()

	return collector, func() { _ = server.Close() }
}

// attachOutput wires the progress printer (and the metrics collector, when
// enabled) into the scheduler's hook slots. The hook registry holds one
// callback per slot, so composition happens here.
func attachOutput(s *sched.Scheduler, collector *metrics.Collector, stdout io.Writer, inv Invocation, total int) {
	var taskDone sched.TaskDoneHook
	var done sched.DoneHook

	if inv.Log {
		lp := newLinePrinter(stdout, total, effectiveWorkers(inv.Workers, total))
		taskDone = lp.taskDone
	} else {
		dp := newDotPrinter(stdout)
		taskDone = dp.taskDone
		done = dp.schedulerDone
	}

	if collector != nil {
		s.OnSchedulerStart(collector.OnSchedulerStart)
		s.OnTaskRun(collector.OnTaskRun)

		innerDone := taskDone
		taskDone = func(name, thread string, status sched.Status, count int, extras ...any) {
			collector.OnTaskDone(name, thread, status, count)
			innerDone(name, thread, status, count, extras...)
		}
		innerSchedDone := done
		done = func(summary *sched.Summary, extras ...any) {
			collector.OnSchedulerDone(summary)
			if innerSchedDone != nil {
				innerSchedDone(summary, extras...)
			}
		}
	}

	s.OnTaskDone(taskDone)
	if done != nil {
		s.OnSchedulerDone(done)
	}
}

// effectiveWorkers mirrors the scheduler's pool clamping for display
// purposes (thread-name padding width).
func effectiveWorkers(configured, total int) int {
	n := configured
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > total {
		n = total
	}
	if n < 1 {
		n = 1
	}
	return n
}
