package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())

	id, err := store.Ensure("", "issue-42")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	id2, err := store.Ensure(id, "issue-42")
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	ws, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, ws.Status)
	assert.Equal(t, "issue-42", ws.IssueID)
}

func TestUpdatePreservesSiblingResultBlocks(t *testing.T) {
	store := NewStore(t.TempDir())
	id, err := store.Ensure("", "issue-1")
	require.NoError(t, err)

	err = store.Update(id, map[string]any{
		"phase_results": map[string]any{
			"external_build_results": map[string]any{"success": true, "errors": []any{}},
		},
	})
	require.NoError(t, err)

	// A later, unrelated save by a parent component must not clobber the
	// block written above.
	err = store.Update(id, map[string]any{"current_phase": "lint"})
	require.NoError(t, err)

	ws, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "lint", ws.CurrentPhase)
	require.Contains(t, ws.PhaseResults, "external_build_results")
}

func TestMarkTerminalRejectsConflictingStatus(t *testing.T) {
	store := NewStore(t.TempDir())
	id, err := store.Ensure("", "issue-2")
	require.NoError(t, err)

	require.NoError(t, store.MarkTerminal(id, StatusCompleted))
	// Re-applying the same terminal status is allowed.
	assert.NoError(t, store.MarkTerminal(id, StatusCompleted))
	// Switching to a different terminal status is rejected.
	assert.Error(t, store.MarkTerminal(id, StatusFailed))
}

func TestValidateBranchNameMustStartWithClassification(t *testing.T) {
	ws := &WorkflowState{
		WorkflowID:     "wf-1",
		Classification: ClassBug,
		BranchName:     "feature/wf-1-typo",
		Status:         StatusPending,
		StartTime:      time.Now(),
	}
	assert.Error(t, ws.Validate())

	ws.BranchName = "bug/wf-1-typo"
	assert.NoError(t, ws.Validate())
}

func TestValidateTerminalRequiresEndTime(t *testing.T) {
	ws := &WorkflowState{WorkflowID: "wf-2", Status: StatusCompleted, StartTime: time.Now()}
	assert.Error(t, ws.Validate())
}
