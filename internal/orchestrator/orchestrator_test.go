package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/forge/internal/agent"
	"github.com/forgeflow/forge/internal/classify"
	"github.com/forgeflow/forge/internal/executor"
	"github.com/forgeflow/forge/internal/ports"
	"github.com/forgeflow/forge/internal/queue"
	"github.com/forgeflow/forge/internal/safety"
	"github.com/forgeflow/forge/internal/state"
	"github.com/forgeflow/forge/internal/tracker"
)

const okOutput = `{"success": true, "summary": {}, "errors": [], "next_steps": []}`

type fakeWorktrees struct {
	created int
}

func (f *fakeWorktrees) Create(ctx context.Context, workflowID, branchName, baseBranch string) (string, error) {
	f.created++
	path := filepath.Join(os.TempDir(), workflowID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeWorktrees) ConfigureEnv(path string, backend, frontend int) error { return nil }

func (f *fakeWorktrees) Teardown(ctx context.Context, workflowID string) error { return nil }

func newOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()

	runFn := func(ctx context.Context, opts agent.RunOpts) (*agent.RunResult, error) {
		return &agent.RunResult{Stdout: okOutput, ExitCode: 0}, nil
	}
	registry := agent.NewRegistry()
	for _, name := range []string{"Plan", "Review", "Document"} {
		require.NoError(t, registry.Register(agent.NewMockAgent(name).WithRunFunc(runFn)))
	}
	exec := executor.New(registry, safety.NewGate(), nil, nil)

	o := New(
		state.NewStore(dir),
		ports.NewPool(dir+"/ports.json", 9100, 10),
		&fakeWorktrees{},
		classify.NewCache(),
		queue.NewQueue(dir),
		exec,
		nil,
		nil,
		dir,
	)
	o.Commands = map[string][]string{
		"Validate": {"echo", okOutput},
		"Build":    {"echo", okOutput},
		"Lint":     {"echo", okOutput},
		"Test":     {"echo", okOutput},
		"Ship":     {"echo", okOutput},
		"Cleanup":  {"echo", okOutput},
		"Verify":   {"echo", okOutput},
	}
	o.CoordinatorPollInterval = 20 * time.Millisecond
	return o, dir
}

func TestStartLightweightRunsOnlyItsPhases(t *testing.T) {
	o, _ := newOrchestrator(t)

	wf, err := o.Start(context.Background(), Request{
		IssueID:      "issue-1",
		Title:        "Fix typo",
		IssueClass:   "patch",
		TemplateName: "lightweight",
	})
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, wf.Status)

	records, err := o.Queue.List(wf.WorkflowID)
	require.NoError(t, err)
	assert.Len(t, records, 5)
	for _, r := range records {
		assert.Equal(t, queue.StatusCompleted, r.Status)
	}
}

func TestStartCompleteRunsAllPhasesViaCoordinator(t *testing.T) {
	o, _ := newOrchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wf, err := o.Start(ctx, Request{
		IssueID:      "issue-2",
		Title:        "Add feature",
		IssueClass:   "feature",
		TemplateName: "complete",
	})
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, wf.Status)

	records, err := o.Queue.List(wf.WorkflowID)
	require.NoError(t, err)
	assert.Len(t, records, 10)
	for _, r := range records {
		assert.Equal(t, queue.StatusCompleted, r.Status)
	}
}

func TestStartForwardsDeprecatedTemplate(t *testing.T) {
	o, _ := newOrchestrator(t)

	wf, err := o.Start(context.Background(), Request{
		IssueID:      "issue-3",
		Title:        "Legacy caller",
		IssueClass:   "patch",
		TemplateName: "adw_patch_iso",
	})
	require.NoError(t, err)
	assert.Equal(t, "lightweight", wf.TemplateName)
}

func TestStartResumeSkipsCompletedPhases(t *testing.T) {
	o, trackerDir := newOrchestrator(t)
	worktreeDir := t.TempDir()

	workflowID, err := o.States.Ensure("wf-resume", "issue-4")
	require.NoError(t, err)
	require.NoError(t, o.States.Update(workflowID, map[string]any{
		"template_name":  "lightweight",
		"classification": state.ClassPatch,
		"worktree_path":  worktreeDir,
	}))

	trk, err := tracker.New(trackerDir, workflowID)
	require.NoError(t, err)
	require.NoError(t, trk.MarkCompleted("Plan"))
	require.NoError(t, trk.MarkCompleted("Validate"))

	wf, err := o.Start(context.Background(), Request{
		WorkflowID:   workflowID,
		IssueID:      "issue-4",
		Title:        "Resumable work",
		IssueClass:   "patch",
		TemplateName: "lightweight",
		Resume:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, wf.Status)

	records, err := o.Queue.List(workflowID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
