package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/forge/internal/forgeerr"
)

func depends(n int) *int { return &n }

func seedLinearChain(t *testing.T, q *Queue, workflowID string, n int) []PhaseRecord {
	t.Helper()
	records := make([]PhaseRecord, n)
	for i := 0; i < n; i++ {
		records[i] = PhaseRecord{
			QueueID:     "q" + string(rune('a'+i)),
			PhaseNumber: i + 1,
			PhaseName:   "phase",
			Priority:    1,
		}
		if i > 0 {
			records[i].DependsOnPhase = depends(i)
		}
	}
	require.NoError(t, q.Enqueue(workflowID, records...))
	return records
}

func TestEnqueueMakesOnlyFirstPhaseReady(t *testing.T) {
	q := NewQueue(t.TempDir())
	seedLinearChain(t, q, "wf-1", 3)

	got, err := q.List("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got[0].Status)
	assert.Equal(t, StatusQueued, got[1].Status)
	assert.Equal(t, StatusQueued, got[2].Status)
}

func TestTriggerNextPromotesSibling(t *testing.T) {
	q := NewQueue(t.TempDir())
	seedLinearChain(t, q, "wf-1", 3)

	require.NoError(t, q.Mark("wf-1", "qa", StatusRunning, ""))
	promoted, err := q.TriggerNext("wf-1", "qa")
	require.NoError(t, err)
	assert.Equal(t, "qb", promoted)

	got, err := q.List("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got[0].Status)
	assert.Equal(t, StatusReady, got[1].Status)
	assert.Equal(t, StatusQueued, got[2].Status)
}

func TestBlockDependentsBlocksLaterPhasesOnly(t *testing.T) {
	q := NewQueue(t.TempDir())
	seedLinearChain(t, q, "wf-1", 3)

	require.NoError(t, q.Mark("wf-1", "qa", StatusRunning, ""))
	blocked, err := q.BlockDependents("wf-1", "qa", "build produced two new type errors")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"qb", "qc"}, blocked)

	got, err := q.List("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, StatusBlocked, got[1].Status)
	assert.Equal(t, StatusBlocked, got[2].Status)
}

func TestMarkRejectsIllegalTransition(t *testing.T) {
	q := NewQueue(t.TempDir())
	seedLinearChain(t, q, "wf-1", 2)

	// qb is queued; queued cannot jump straight to running.
	err := q.Mark("wf-1", "qb", StatusRunning, "")
	assert.ErrorIs(t, err, forgeerr.ErrDependencyBlocked)
}

func TestTerminalStatusesAreAbsorbing(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusBlocked, StatusCancelled} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, StatusReady.Terminal())
}

func TestNextReadyPrefersHigherPriority(t *testing.T) {
	q := NewQueue(t.TempDir())
	require.NoError(t, q.Enqueue("wf-1",
		PhaseRecord{QueueID: "low", PhaseNumber: 1, Priority: 1},
	))
	require.NoError(t, q.Enqueue("wf-1",
		PhaseRecord{QueueID: "high", PhaseNumber: 2, Priority: 5, DependsOnPhase: nil},
	))
	// Manually promote "high" to ready to exercise priority ordering.
	require.NoError(t, q.Mark("wf-1", "high", StatusReady, ""))

	next, err := q.NextReady("wf-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "high", next.QueueID)
}
