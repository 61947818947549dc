// Package state implements the shared mapping that tasks may read and write
// while a run is in progress.
//
// The State value itself is the lock handle: task bodies that perform
// non-atomic read-modify-write sequences must bracket them with Lock/Unlock
// (or use Update, which does so on their behalf). The lock is advisory for
// user code; the scheduler's own writes to the results sub-map always take it.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ResultsKey is the scheduler-owned sub-map of task name to returned value.
//
// It is not reserved-prefixed: it appears in sanitized snapshots and task
// bodies are expected to read it (under the lock).
const ResultsKey = "results"

const reservedPrefix = "_"

// ErrReservedKey is returned when a caller attempts to introduce a key owned
// by the scheduler (any key starting with "_").
var ErrReservedKey = errors.New("reserved state key")

// State is a mutex-guarded mapping from user keys to arbitrary values.
type State struct {
	mu     sync.Mutex
	values map[string]any
}

// New builds a State seeded from initial.
//
// Keys starting with "_" are rejected with ErrReservedKey. A pre-seeded
// "results" entry is adopted as the results sub-map when it is a
// map[string]any; a map[string]string is converted to that shape.
func New(initial map[string]any) (*State, error) {
	values := make(map[string]any, len(initial)+1)
	for k, v := range initial {
		if IsReserved(k) {
			return nil, fmt.Errorf("%w: %q", ErrReservedKey, k)
		}
		values[k] = v
	}

	switch seeded := values[ResultsKey].(type) {
	case nil:
		values[ResultsKey] = map[string]any{}
	case map[string]any:
		// already the right shape
	case map[string]string:
		results := make(map[string]any, len(seeded))
		for k, v := range seeded {
			results[k] = v
		}
		values[ResultsKey] = results
	default:
		return nil, fmt.Errorf("initial state key %q must be a map, got %T", ResultsKey, seeded)
	}

	return &State{values: values}, nil
}

// IsReserved reports whether key belongs to the scheduler's namespace.
func IsReserved(key string) bool {
	return len(key) > 0 && key[:1] == reservedPrefix
}

// Lock acquires the state lock. It is the Go rendering of the original
// "_state_lock" handle published to task bodies.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the state lock.
func (s *State) Unlock() { s.mu.Unlock() }

// Get returns the value stored under key. It acquires the lock for the
// duration of the read.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, rejecting reserved keys. It acquires the lock
// for the duration of the write.
func (s *State) Set(key string, value any) error {
	if IsReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Update runs fn with the lock held, passing the raw mapping. Task bodies use
// it for compound read-modify-write sequences (counters, appends, calls into
// non-thread-safe helpers). fn must not retain the map.
func (s *State) Update(fn func(values map[string]any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.values)
}

// Result returns the recorded result for a task, if any.
func (s *State) Result(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.results()[name]
	return v, ok
}

// SetResult records a task's returned value under the results sub-map.
func (s *State) SetResult(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results()[name] = value
}

// ClearResults empties the results sub-map. Called at run start unless the
// caller opted to keep pre-seeded results.
func (s *State) ClearResults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ResultsKey] = map[string]any{}
}

// results must be called with the lock held.
func (s *State) results() map[string]any {
	m, ok := s.values[ResultsKey].(map[string]any)
	if !ok {
		m = map[string]any{}
		s.values[ResultsKey] = m
	}
	return m
}

// Sanitized returns a copy of the mapping with every reserved key filtered
// out and every value coerced to a JSON-encodable form. Nested
// map[string]any and []any values are copied recursively; other values are
// returned as stored. Values that do not marshal are replaced by their
// fmt.Sprint rendering.
//
// Safe to call at any time; intended for end-of-run diagnostics.
func (s *State) Sanitized() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		if IsReserved(k) {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(tv))
		for k, e := range tv {
			if IsReserved(k) {
				continue
			}
			m[k] = sanitizeValue(e)
		}
		return m
	case []any:
		l := make([]any, len(tv))
		for i, e := range tv {
			l[i] = sanitizeValue(e)
		}
		return l
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprint(v)
		}
		return v
	}
}
