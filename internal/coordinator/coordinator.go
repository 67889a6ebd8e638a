// Package coordinator implements the Phase Coordinator: a background polling
// loop that advances one workflow's Phase Queue to completion, starting
// ready phases, detecting completion/failure, triggering the next phase,
// blocking dependents on failure, and broadcasting status over a websocket
// hub. One Coordinator.Run call owns exactly one workflow for its lifetime:
// one OS process per workflow, one long-lived cooperative-polling component
// within it.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/forgeflow/forge/internal/executor"
	"github.com/forgeflow/forge/internal/phase"
	"github.com/forgeflow/forge/internal/queue"
	"github.com/forgeflow/forge/internal/state"
	"github.com/forgeflow/forge/internal/tracker"
)

// Coordinator advances one workflow's Phase Queue until every phase reaches
// a terminal status or the workflow is cancelled.
type Coordinator struct {
	Queue    *queue.Queue
	States   *state.Store
	Executor *executor.Executor
	Hub      *Hub
	Logger   *log.Logger

	// PollInterval is the tick period; defaults to 2s (config.Core.PollIntervalSeconds).
	PollInterval time.Duration
	// Workers bounds concurrent in-flight phase executions; defaults to 4.
	Workers int

	lockDir string
}

// New returns a Coordinator. lockDir is the directory holding per-workflow
// advisory lock files (typically "agents").
func New(q *queue.Queue, states *state.Store, exec *executor.Executor, hub *Hub, logger *log.Logger, lockDir string) *Coordinator {
	return &Coordinator{
		Queue:        q,
		States:       states,
		Executor:     exec,
		Hub:          hub,
		Logger:       logger,
		PollInterval: 2 * time.Second,
		Workers:      4,
		lockDir:      lockDir,
	}
}

// Run polls workflowID's Phase Queue until every phase is terminal or the
// workflow is cancelled. It returns nil on normal completion (whether the
// workflow ultimately succeeded or failed -- callers should inspect
// WorkflowState for the outcome), ctx.Err() when ctx is done first, and a
// non-nil error for coordinator-level faults (e.g. the advisory lock could
// not be acquired).
func (c *Coordinator) Run(ctx context.Context, workflowID string, trk *tracker.Tracker) error {
	lockPath := filepath.Join(c.lockDir, workflowID, "coordinator.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("coordinator: creating lock dir for %q: %w", workflowID, err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("coordinator: workflow %q already has an owner: %w", workflowID, err)
	}
	defer lock.Unlock() //nolint:errcheck

	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := c.tick(ctx, workflowID, trk)
			if err != nil {
				if c.Logger != nil {
					c.Logger.Error("coordinator: tick failed", "workflow_id", workflowID, "error", err)
				}
				continue
			}
			if done {
				return nil
			}
		}
	}
}

// tick runs one polling iteration: checks for cancellation, then fans out
// every currently-ready phase up to Workers concurrently. It returns true
// when the workflow has nothing left to do (no queued/ready/running
// phases remain).
func (c *Coordinator) tick(ctx context.Context, workflowID string, trk *tracker.Tracker) (bool, error) {
	wf, err := c.States.Load(workflowID)
	if err != nil {
		return false, err
	}

	if wf.CancelRequested {
		return true, c.cancelAll(workflowID)
	}

	records, err := c.Queue.List(workflowID)
	if err != nil {
		return false, err
	}
	if allTerminal(records) {
		return true, nil
	}

	var ready []queue.PhaseRecord
	for {
		next, err := c.Queue.NextReady(workflowID)
		if err != nil {
			return false, err
		}
		if next == nil {
			break
		}
		if err := c.Queue.Mark(workflowID, next.QueueID, queue.StatusRunning, ""); err != nil {
			return false, err
		}
		ready = append(ready, *next)
		if len(ready) >= c.Workers {
			break
		}
	}

	if len(ready) == 0 {
		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range ready {
		rec := rec
		g.Go(func() error {
			c.runPhase(gctx, workflowID, rec, trk)
			return nil
		})
	}
	return false, g.Wait()
}

func allTerminal(records []queue.PhaseRecord) bool {
	for _, r := range records {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}

func (c *Coordinator) runPhase(ctx context.Context, workflowID string, rec queue.PhaseRecord, trk *tracker.Tracker) {
	entry, known := phase.Lookup(phase.Name(rec.PhaseName))
	mode := executor.ModeTool
	if known && entry.Mode == "agent" {
		mode = executor.ModeAgent
	}

	wf, err := c.States.Load(workflowID)
	if err != nil {
		c.failPhase(workflowID, rec, fmt.Sprintf("loading workflow state: %v", err), entry, trk)
		return
	}

	in := executor.Input{
		WorkflowID: workflowID,
		IssueID:    wf.IssueID,
		PhaseName:  rec.PhaseName,
		WorkingDir: wf.WorktreePath,
		Mode:       mode,
	}
	if known {
		in.Timeout = entry.Timeout
	}
	if mode == executor.ModeAgent {
		in.AgentName = stringField(rec.PhaseData, "agent")
		in.Prompt = stringField(rec.PhaseData, "prompt")
	} else {
		in.ToolCommand = stringSliceField(rec.PhaseData, "command")
	}

	result, err := c.Executor.Run(ctx, in)
	if result != nil {
		if recErr := c.recordPhaseResult(workflowID, wf, result); recErr != nil {
			if c.Logger != nil {
				c.Logger.Error("coordinator: recording phase result", "queue_id", rec.QueueID, "error", recErr)
			}
		}
	}
	if err != nil || result == nil || !result.Success {
		msg := "phase failed"
		if err != nil {
			msg = err.Error()
		}
		c.failPhase(workflowID, rec, msg, entry, trk)
		return
	}

	// TriggerNext performs the running->completed transition itself and
	// promotes the next sibling phase -- do not Mark it completed first,
	// that would leave TriggerNext observing an already-terminal status.
	if _, err := c.Queue.TriggerNext(workflowID, rec.QueueID); err != nil {
		if c.Logger != nil {
			c.Logger.Error("coordinator: triggering next phase", "queue_id", rec.QueueID, "error", err)
		}
		return
	}
	if trk != nil {
		_ = trk.MarkCompleted(rec.PhaseName) //nolint:errcheck
	}
	if c.Hub != nil {
		c.Hub.Broadcast(PhaseUpdate{Type: "phase_update", WorkflowID: workflowID, Phase: rec.PhaseName, Status: string(queue.StatusCompleted)})
	}
}

func (c *Coordinator) failPhase(workflowID string, rec queue.PhaseRecord, reason string, entry phase.Entry, trk *tracker.Tracker) {
	// BlockDependents both transitions rec itself to failed and blocks every
	// later queued/ready phase in the same workflow -- do not Mark it failed
	// separately, that would attempt an illegal failed->failed transition.
	if _, err := c.Queue.BlockDependents(workflowID, rec.QueueID, reason); err != nil {
		if c.Logger != nil {
			c.Logger.Error("coordinator: blocking dependents", "queue_id", rec.QueueID, "error", err)
		}
	}
	if c.Hub != nil {
		c.Hub.Broadcast(PhaseUpdate{Type: "phase_update", WorkflowID: workflowID, Phase: rec.PhaseName, Status: string(queue.StatusFailed)})
	}

	if entry.Soft {
		return
	}
	if err := c.States.MarkTerminal(workflowID, state.StatusFailed); err != nil {
		if c.Logger != nil {
			c.Logger.Error("coordinator: marking workflow failed", "workflow_id", workflowID, "error", err)
		}
	}
}

// recordPhaseResult persists result under its StateKey in
// WorkflowState.PhaseResults and bumps current_phase, so a phase's build/
// lint/test errors, next_steps, cost_usd, and tokens_used survive past the
// worker goroutine that produced them. wf is the state loaded at the start
// of runPhase; only its PhaseResults snapshot is reused here.
func (c *Coordinator) recordPhaseResult(workflowID string, wf *state.WorkflowState, result *executor.PhaseResult) error {
	merged := make(map[string]any, len(wf.PhaseResults)+1)
	for k, v := range wf.PhaseResults {
		merged[k] = v
	}
	merged[result.StateKey()] = result.ToStateValue()

	return c.States.Update(workflowID, map[string]any{
		"current_phase": result.PhaseName,
		"phase_results": merged,
	})
}

func (c *Coordinator) cancelAll(workflowID string) error {
	records, err := c.Queue.List(workflowID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Status.Terminal() {
			continue
		}
		if err := c.Queue.Mark(workflowID, r.QueueID, queue.StatusCancelled, "cancel_requested"); err != nil {
			if c.Logger != nil {
				c.Logger.Error("coordinator: cancelling phase", "queue_id", r.QueueID, "error", err)
			}
		}
	}
	return c.States.MarkTerminal(workflowID, state.StatusCancelled)
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func stringSliceField(data map[string]any, key string) []string {
	if data == nil {
		return nil
	}
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
