package state_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/state"
)

func TestNew_RejectsReservedKeys(t *testing.T) {
	_, err := state.New(map[string]any{"_foo": 1})
	assert.ErrorIs(t, err, state.ErrReservedKey)
}

func TestNew_AdoptsSeededResults(t *testing.T) {
	st, err := state.New(map[string]any{"results": map[string]string{"x": "preset"}})
	require.NoError(t, err)

	v, ok := st.Result("x")
	require.True(t, ok)
	assert.Equal(t, "preset", v)
}

func TestNew_RejectsNonMapResults(t *testing.T) {
	_, err := state.New(map[string]any{"results": "oops"})
	assert.Error(t, err)
}

func TestSet_RejectsReservedKeys(t *testing.T) {
	st, err := state.New(nil)
	require.NoError(t, err)

	assert.ErrorIs(t, st.Set("_lock", 1), state.ErrReservedKey)
	assert.NoError(t, st.Set("env", "dev"))

	v, ok := st.Get("env")
	require.True(t, ok)
	assert.Equal(t, "dev", v)
}

func TestUpdate_SerializesReadModifyWrite(t *testing.T) {
	st, err := state.New(map[string]any{"n": 0})
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Update(func(values map[string]any) {
				values["n"] = values["n"].(int) + 1
			})
		}()
	}
	wg.Wait()

	n, ok := st.Get("n")
	require.True(t, ok)
	assert.Equal(t, writers, n)
}

func TestResults_SetClearAndLookup(t *testing.T) {
	st, err := state.New(nil)
	require.NoError(t, err)

	_, ok := st.Result("a")
	assert.False(t, ok)

	st.SetResult("a", "a.value")
	v, ok := st.Result("a")
	require.True(t, ok)
	assert.Equal(t, "a.value", v)

	st.ClearResults()
	_, ok = st.Result("a")
	assert.False(t, ok)
}

func TestSanitized_FiltersReservedKeysAndCoerces(t *testing.T) {
	st, err := state.New(map[string]any{
		"plain": "value",
		"nested": map[string]any{
			"_secret": "hidden",
			"kept":    1,
		},
		"unencodable": func() {},
	})
	require.NoError(t, err)
	st.SetResult("a", "a.value")

	// Reserved keys cannot come in through New, but user code that grabs
	// the raw map under the lock is not policed; the snapshot still is.
	st.Update(func(values map[string]any) {
		values["_smuggled"] = "internal"
	})

	snap := st.Sanitized()

	assert.NotContains(t, snap, "_smuggled")
	assert.Equal(t, "value", snap["plain"])

	nested, ok := snap["nested"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, nested, "_secret")
	assert.Equal(t, 1, nested["kept"])

	_, isString := snap["unencodable"].(string)
	assert.True(t, isString, "non-JSON values are string-coerced")

	results, ok := snap["results"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a.value", results["a"])

	// The snapshot is a copy: mutating it must not leak back.
	nested["kept"] = 99
	orig, _ := st.Get("nested")
	assert.Equal(t, 1, orig.(map[string]any)["kept"])
}

func TestLockHandle_ExcludesConcurrentUpdates(t *testing.T) {
	st, err := state.New(map[string]any{"n": 0})
	require.NoError(t, err)

	st.Lock()
	updated := make(chan struct{})
	go func() {
		st.Update(func(values map[string]any) {
			values["n"] = values["n"].(int) + 1
		})
		close(updated)
	}()

	select {
	case <-updated:
		t.Fatal("Update proceeded while the lock handle was held")
	case <-time.After(20 * time.Millisecond):
	}
	st.Unlock()
	<-updated

	n, ok := st.Get("n")
	require.True(t, ok)
	assert.Equal(t, 1, n)
}
