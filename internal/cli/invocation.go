// Package cli maps invocations onto scheduler runs: manifest loading, tag
// filtering, state seeding, progress output, and semantic exit codes.
package cli

import (
	"fmt"
	"strings"
)

const (
	ExitSuccess           = 0
	ExitFailure           = 1
	ExitInvalidInvocation = 2
)

// Invocation is the canonical description of one CLI run. Flag parsing
// lives in cmd/taskweaver; everything past that point consumes this struct.
type Invocation struct {
	// Manifest is the task-file path; Task selects single-task mode when
	// non-empty (the "manifest.yaml::name" form).
	Manifest string
	Task     string

	Workers        int
	Tags           []string
	SkipDependents bool

	// ShowGraph prints the dependency listing and exits.
	ShowGraph bool

	// Log switches from the dot stream to line output; Verbose raises the
	// log level to debug; LogFile mirrors the log records into a file.
	Log     bool
	Verbose bool
	LogFile string

	// MetricsAddr, when non-empty, serves prometheus metrics for the run.
	MetricsAddr string

	// Sets are raw "key=value" pairs seeding shared state; Results are
	// raw "name=value" pairs pre-seeding the results sub-map.
	Sets    []string
	Results []string
}

// InvocationError carries a semantic exit code for invocation-level
// failures.
type InvocationError struct {
	Code int
	Msg  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

func invalidf(format string, args ...any) error {
	return &InvocationError{Code: ExitInvalidInvocation, Msg: fmt.Sprintf(format, args...)}
}

// SplitTarget splits "manifest.yaml::task" into (path, task). Without the
// separator the task is empty.
func SplitTarget(target string) (string, string) {
	if path, task, ok := strings.Cut(target, "::"); ok {
		return path, task
	}
	return target, ""
}

// ParseTags normalizes a comma-separated tag list.
func ParseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	out := make([]string, 0)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate rejects invocations the scheduler would refuse anyway, before any
// work is done.
func (inv *Invocation) Validate() error {
	if inv.Manifest == "" {
		return invalidf("a manifest path is required")
	}
	if inv.Workers < 0 {
		return invalidf("--workers must not be negative (got %d)", inv.Workers)
	}
	return nil
}

// ParseStatePairs turns the --set and --result pairs into the initial
// shared-state mapping. Pre-seeded results imply that the scheduler must
// not clear the results sub-map at run start.
func ParseStatePairs(sets, results []string) (initial map[string]any, keepResults bool, err error) {
	initial = make(map[string]any)

	for _, item := range sets {
		key, value, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, false, invalidf("--set expects key=value (got %q)", item)
		}
		initial[key] = value
	}

	if len(results) > 0 {
		seeded := make(map[string]any, len(results))
		for _, item := range results {
			name, value, ok := strings.Cut(item, "=")
			if !ok || name == "" {
				return nil, false, invalidf("--result expects name=value (got %q)", item)
			}
			seeded[name] = value
		}
		initial["results"] = seeded
		keepResults = true
	}

	return initial, keepResults, nil
}
