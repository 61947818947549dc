// Package sched implements the dependency-aware parallel task scheduler.
//
// It is intentionally split into:
//   - Graph: the immutable-after-start dependency structure (names + edges)
//   - Scheduler: registration, the worker pool, and the completion loop
//   - Hooks: four lifecycle slots through which UIs observe a run
//
// A task runs only after every predecessor has passed; failures never abort
// the run; they reshape it by skipping the failed subgraph while independent
// subgraphs drain normally.
package sched
