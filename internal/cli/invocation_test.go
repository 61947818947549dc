package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/sched"
)

func TestSplitTarget(t *testing.T) {
	path, task := SplitTarget("tasks.yaml")
	assert.Equal(t, "tasks.yaml", path)
	assert.Empty(t, task)

	path, task = SplitTarget("tasks.yaml::build")
	assert.Equal(t, "tasks.yaml", path)
	assert.Equal(t, "build", task)
}

func TestParseTags(t *testing.T) {
	assert.Nil(t, ParseTags(""))
	assert.Equal(t, []string{"layer1", "layer2"}, ParseTags("layer1, layer2,"))
}

func TestValidate(t *testing.T) {
	inv := Invocation{Manifest: "tasks.yaml", Workers: -1}
	assert.Error(t, inv.Validate())

	inv = Invocation{Workers: 2}
	assert.Error(t, inv.Validate())

	inv = Invocation{Manifest: "tasks.yaml"}
	assert.NoError(t, inv.Validate())
}

func TestParseStatePairs(t *testing.T) {
	initial, keep, err := ParseStatePairs(
		[]string{"env=dev", "region=us_west_2"},
		[]string{"x=preset"},
	)
	require.NoError(t, err)
	assert.True(t, keep, "pre-seeded results must suppress the clear at run start")
	assert.Equal(t, "dev", initial["env"])
	assert.Equal(t, "us_west_2", initial["region"])
	assert.Equal(t, map[string]any{"x": "preset"}, initial["results"])

	_, keep, err = ParseStatePairs([]string{"env=dev"}, nil)
	require.NoError(t, err)
	assert.False(t, keep)

	_, _, err = ParseStatePairs([]string{"missing-separator"}, nil)
	assert.Error(t, err)

	_, _, err = ParseStatePairs(nil, []string{"=value"})
	assert.Error(t, err)
}

func TestFilterSpecs_TagsStripDanglingEdges(t *testing.T) {
	specs := []sched.TaskSpec{
		{Name: "l1", Tags: []string{"layer1"}, Run: func() (any, error) { return nil, nil }},
		{Name: "l2a", Tags: []string{"layer2"}, After: []string{"l1"}, Run: func() (any, error) { return nil, nil }},
		{Name: "l2b", Tags: []string{"layer2"}, After: []string{"l1", "l2a"}, Run: func() (any, error) { return nil, nil }},
	}

	filtered, err := filterSpecs(specs, []string{"layer2"}, "")
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	// Edges into the filtered-out layer are gone; edges within the kept
	// layer survive. The resulting graph must validate cleanly.
	assert.Empty(t, filtered[0].After)
	assert.Equal(t, []string{"l2a"}, filtered[1].After)

	g := sched.NewGraph()
	for _, spec := range filtered {
		require.NoError(t, g.Add(spec.Name, spec.After))
	}
	assert.NoError(t, g.Validate())
}

func TestFilterSpecs_RequiresEveryRequestedTag(t *testing.T) {
	specs := []sched.TaskSpec{
		{Name: "both", Tags: []string{"fast", "ci"}},
		{Name: "one", Tags: []string{"fast"}},
	}

	filtered, err := filterSpecs(specs, []string{"fast", "ci"}, "")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "both", filtered[0].Name)
}

func TestFilterSpecs_SingleTaskModeEmptiesAfter(t *testing.T) {
	specs := []sched.TaskSpec{
		{Name: "a"},
		{Name: "b", After: []string{"a"}},
	}

	filtered, err := filterSpecs(specs, nil, "b")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].Name)
	assert.Empty(t, filtered[0].After)

	_, err = filterSpecs(specs, nil, "ghost")
	assert.Error(t, err)
}

func TestFilterSpecs_EmptyResultIsAnError(t *testing.T) {
	specs := []sched.TaskSpec{{Name: "a", Tags: []string{"x"}}}
	_, err := filterSpecs(specs, []string{"other"}, "")
	assert.Error(t, err)
}

func TestPadThreadName(t *testing.T) {
	assert.Equal(t, "thread_03", padThreadName("thread_3", 16))
	assert.Equal(t, "thread_12", padThreadName("thread_12", 16))
	assert.Equal(t, "thread_3", padThreadName("thread_3", 4))
	assert.Equal(t, "main", padThreadName("main", 16))
}

func TestFormatGraph(t *testing.T) {
	g := sched.NewGraph()
	require.NoError(t, g.Add("a", nil))
	require.NoError(t, g.Add("b", []string{"a"}))

	out := FormatGraph(g)
	assert.Contains(t, out, "2 tasks")
	assert.Contains(t, out, "  a\n")
	assert.Contains(t, out, "  b (after: a)\n")
}
