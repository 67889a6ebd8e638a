package tracker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkCompletedIsIdempotent(t *testing.T) {
	tr, err := New(t.TempDir(), "wf-1")
	require.NoError(t, err)

	require.NoError(t, tr.MarkCompleted("Plan"))
	require.NoError(t, tr.MarkCompleted("Plan"))

	assert.Equal(t, []string{"Plan"}, tr.Completed())
}

func TestResumeSkipsCompletedPhasesOnly(t *testing.T) {
	tr, err := New(t.TempDir(), "wf-1")
	require.NoError(t, err)

	require.NoError(t, tr.MarkCompleted("Plan"))
	require.NoError(t, tr.MarkCompleted("Validate"))
	require.NoError(t, tr.MarkCompleted("Build"))

	assert.True(t, tr.ShouldSkip("Build", true))
	assert.False(t, tr.ShouldSkip("Lint", true))
	assert.False(t, tr.ShouldSkip("Build", false), "resume=false never skips")
}

func TestNextToRunResumesAtFirstIncomplete(t *testing.T) {
	tr, err := New(t.TempDir(), "wf-1")
	require.NoError(t, err)
	require.NoError(t, tr.MarkCompleted("Plan"))
	require.NoError(t, tr.MarkCompleted("Validate"))
	require.NoError(t, tr.MarkCompleted("Build"))

	next := tr.NextToRun([]string{"Plan", "Validate", "Build", "Lint", "Test"})
	assert.Equal(t, "Lint", next)
}

func TestResetClearsCompletion(t *testing.T) {
	tr, err := New(t.TempDir(), "wf-1")
	require.NoError(t, err)
	require.NoError(t, tr.MarkCompleted("Plan"))
	require.NoError(t, tr.Reset())
	assert.Empty(t, tr.Completed())
}

func TestCorruptedFileBehavesAsEmpty(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tr.MarkCompleted("Plan"))

	// Corrupt the sidecar directly.
	require.NoError(t, writeCorrupt(tr))

	assert.False(t, tr.IsCompleted("Plan"))
}

func writeCorrupt(tr *Tracker) error {
	return os.WriteFile(tr.path, []byte("{not json"), 0644)
}
