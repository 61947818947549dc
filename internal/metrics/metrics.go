// Package metrics exposes a run's lifecycle as prometheus metrics.
//
// The Collector is a hook collaborator: it attaches to the scheduler's four
// hook slots and records what it observes. It never participates in
// scheduling.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"taskweaver/internal/sched"
)

// Collector translates lifecycle events into prometheus metrics.
type Collector struct {
	tasksTotal  prometheus.Gauge
	workers     prometheus.Gauge
	running     prometheus.Gauge
	completed   *prometheus.CounterVec
	durationSec prometheus.Gauge
}

// NewCollector builds a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tasksTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskweaver_tasks_total",
			Help: "Number of tasks registered for the current run.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskweaver_workers",
			Help: "Size of the worker pool for the current run.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskweaver_tasks_running",
			Help: "Tasks currently executing on a worker.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskweaver_tasks_completed_total",
			Help: "Tasks that reached a terminal state, by status.",
		}, []string{"status"}),
		durationSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskweaver_run_duration_seconds",
			Help: "Wall-clock duration of the last completed run.",
		}),
	}
	reg.MustRegister(c.tasksTotal, c.workers, c.running, c.completed, c.durationSec)
	return c
}

// Bind occupies all four hook slots of s. Callers composing several hook
// collaborators should instead call the On* methods from their own hooks.
func (c *Collector) Bind(s *sched.Scheduler) {
	s.OnSchedulerStart(c.OnSchedulerStart)
	s.OnTaskRun(c.OnTaskRun)
	s.OnTaskDone(c.OnTaskDone)
	s.OnSchedulerDone(c.OnSchedulerDone)
}

// OnSchedulerStart has the sched.StartHook signature.
func (c *Collector) OnSchedulerStart(info sched.StartInfo, _ ...any) {
	c.tasksTotal.Set(float64(info.Total))
	c.workers.Set(float64(info.Workers))
}

// OnTaskRun has the sched.TaskRunHook signature.
func (c *Collector) OnTaskRun(_, _ string, _ ...any) {
	c.running.Inc()
}

// OnTaskDone has the sched.TaskDoneHook signature.
func (c *Collector) OnTaskDone(_, _ string, status sched.Status, _ int, _ ...any) {
	if status != sched.StatusSkipped {
		// Skipped tasks never occupied a worker.
		c.running.Dec()
	}
	c.completed.WithLabelValues(strings.ToLower(string(status))).Inc()
}

// OnSchedulerDone has the sched.DoneHook signature.
func (c *Collector) OnSchedulerDone(summary *sched.Summary, _ ...any) {
	c.durationSec.Set(summary.Duration.Seconds())
}
