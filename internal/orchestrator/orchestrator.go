// Package orchestrator implements the Workflow Orchestrator: the top-level
// driver that, given an issue and a template, allocates a workflow's
// execution context, composes its phases, and sequences them either by
// direct in-process chaining (lightweight) or by handing off to the Phase
// Coordinator (standard/complex).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/forgeflow/forge/internal/classify"
	"github.com/forgeflow/forge/internal/coordinator"
	"github.com/forgeflow/forge/internal/executor"
	"github.com/forgeflow/forge/internal/observability"
	"github.com/forgeflow/forge/internal/phase"
	"github.com/forgeflow/forge/internal/ports"
	"github.com/forgeflow/forge/internal/prbody"
	"github.com/forgeflow/forge/internal/queue"
	"github.com/forgeflow/forge/internal/state"
	"github.com/forgeflow/forge/internal/tracker"
	"github.com/forgeflow/forge/internal/vcs"
)

// WorktreeProvisioner is the subset of *worktree.Manager the Orchestrator
// depends on, narrowed to an interface so tests can substitute a fake and
// avoid shelling out to git.
type WorktreeProvisioner interface {
	Create(ctx context.Context, workflowID, branchName, baseBranch string) (string, error)
	ConfigureEnv(path string, backend, frontend int) error
	Teardown(ctx context.Context, workflowID string) error
}

// Request describes one call to Start.
type Request struct {
	WorkflowID   string // optional; empty allocates a new id
	IssueID      string
	Title        string
	Body         string
	IssueClass   string // feature|bug|chore|patch, if already known; else derived
	TemplateName string // explicit override; empty derives from the classifier
	BaseBranch   string
	Resume       bool
}

// Orchestrator composes the other eleven components into the end-to-end
// workflow lifecycle.
type Orchestrator struct {
	States     *state.Store
	Ports      *ports.Pool
	Worktrees  WorktreeProvisioner
	Classifier *classify.Cache
	Queue      *queue.Queue
	Executor   *executor.Executor
	Emitter    *observability.Emitter
	Logger     *log.Logger

	// TrackerDir roots the Phase-Completion Tracker sidecar files (typically "agents").
	TrackerDir string
	// CoordinatorLockDir roots the Coordinator's advisory lock files (typically "agents").
	CoordinatorLockDir string
	// Hub receives phase_update broadcasts from Coordinator-driven workflows.
	Hub *coordinator.Hub
	// Commands maps a tool-mode phase name to the shell command it runs,
	// sourced from forge.toml's [phase_commands] section.
	Commands map[string][]string
	// PhaseAgents maps an agent-mode phase name to the agent registered to
	// run it, sourced from forge.toml's [phase_agents] section. A phase
	// absent from this map falls back to an agent registered under the
	// phase's own name.
	PhaseAgents map[string]string
	// CoordinatorPollInterval overrides the Coordinator's tick period for
	// standard/complex templates; zero keeps the Coordinator's own default.
	CoordinatorPollInterval time.Duration

	// VCS posts the terminal-state summary comment to the Version Control
	// Host. Nil skips posting (e.g. when gh is unavailable in tests).
	VCS *vcs.Poster
	// PRBody composes the summary comment body. Nil falls back to
	// prbody.New(Logger).
	PRBody *prbody.Generator
	// DryRun, when true, has VCS log the planned comment instead of posting it.
	DryRun bool
}

// New returns an Orchestrator wired to its collaborators.
func New(states *state.Store, pool *ports.Pool, trees WorktreeProvisioner, classifier *classify.Cache, q *queue.Queue, exec *executor.Executor, emitter *observability.Emitter, logger *log.Logger, trackerDir string) *Orchestrator {
	return &Orchestrator{
		States:             states,
		Ports:              pool,
		Worktrees:          trees,
		Classifier:         classifier,
		Queue:              q,
		Executor:           exec,
		Emitter:            emitter,
		Logger:             logger,
		TrackerDir:         trackerDir,
		CoordinatorLockDir: trackerDir,
		Hub:                coordinator.NewHub(logger),
	}
}

// Start ensures a workflow id, classifies the request on first run,
// allocates ports and a working tree, enqueues the template's phases
// (skipping completed ones on resume), then either chains them in-process
// or hands off to the Coordinator and blocks for a terminal state.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*state.WorkflowState, error) {
	templateName := ResolveTemplate(req.TemplateName)

	workflowID, err := o.States.Ensure(req.WorkflowID, req.IssueID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: ensure workflow: %w", err)
	}

	wf, err := o.States.Load(workflowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load workflow %q: %w", workflowID, err)
	}

	if wf.Classification == "" {
		analysis := o.Classifier.Get(workflowID, req.Title, req.Body, req.IssueClass)
		if templateName == "" {
			templateName = analysis.TemplateName
		}
		classification := classificationFor(req.IssueClass)
		branch := brancher(classification, workflowID, req.Title)

		backend, frontend, err := o.Ports.Reserve(workflowID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: reserve ports for %q: %w", workflowID, err)
		}
		path, err := o.Worktrees.Create(ctx, workflowID, branch, req.BaseBranch)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: create worktree for %q: %w", workflowID, err)
		}
		if err := o.Worktrees.ConfigureEnv(path, backend, frontend); err != nil {
			return nil, fmt.Errorf("orchestrator: configure worktree env for %q: %w", workflowID, err)
		}

		if err := o.States.Update(workflowID, map[string]any{
			"template_name":  templateName,
			"classification": classification,
			"branch_name":    branch,
			"worktree_path":  path,
			"backend_port":   backend,
			"frontend_port":  frontend,
			"status":         state.StatusRunning,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: persist allocation for %q: %w", workflowID, err)
		}
	} else {
		templateName = wf.TemplateName
	}

	if o.Emitter != nil {
		o.Emitter.LogWorkflow(workflowID, req.IssueID, "running", "workflow started", templateName, observability.WorkflowOpts{})
	}

	phases, ok := phase.PhasesFor(templateName)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown template %q", templateName)
	}

	trk, err := tracker.New(o.TrackerDir, workflowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: tracker for %q: %w", workflowID, err)
	}

	pending := phases
	if req.Resume {
		pending = remaining(phases, trk)
	}

	if len(pending) > 0 {
		if err := o.enqueuePending(workflowID, req.IssueID, phases, pending); err != nil {
			return nil, err
		}
	}

	if phase.InProcess(templateName) {
		if err := o.runInProcess(ctx, workflowID, pending, trk); err != nil {
			return nil, err
		}
	} else {
		coord := coordinator.New(o.Queue, o.States, o.Executor, o.Hub, o.Logger, o.CoordinatorLockDir)
		if o.CoordinatorPollInterval > 0 {
			coord.PollInterval = o.CoordinatorPollInterval
		}
		if err := coord.Run(ctx, workflowID, trk); err != nil {
			return nil, fmt.Errorf("orchestrator: coordinator run for %q: %w", workflowID, err)
		}
	}

	final, err := o.States.Load(workflowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reload final state for %q: %w", workflowID, err)
	}
	if !final.Status.Terminal() {
		if err := o.States.MarkTerminal(workflowID, state.StatusCompleted); err != nil {
			return nil, fmt.Errorf("orchestrator: mark completed for %q: %w", workflowID, err)
		}
		final, err = o.States.Load(workflowID)
		if err != nil {
			return nil, err
		}
	}

	if o.Emitter != nil {
		o.Emitter.LogWorkflow(workflowID, req.IssueID, string(final.Status), "workflow finished", templateName, observability.WorkflowOpts{})
	}

	o.finish(ctx, workflowID, templateName, phases, final)

	return final, nil
}

// finish runs the terminal-state side effects from the workflow lifecycle's
// last step: composing and posting a summary comment to the Version Control
// Host, then tearing down the worktree. Both are best-effort -- a failure
// here does not change the workflow's already-persisted terminal status,
// it is only logged.
func (o *Orchestrator) finish(ctx context.Context, workflowID, templateName string, phases []phase.Name, final *state.WorkflowState) {
	if o.VCS != nil && final.BranchName != "" {
		body, err := o.renderSummary(workflowID, templateName, final, phases)
		if err != nil {
			if o.Logger != nil {
				o.Logger.Error("orchestrator: rendering summary comment", "workflow_id", workflowID, "error", err)
			}
		} else if err := o.VCS.Comment(ctx, final.BranchName, body, o.DryRun); err != nil {
			if o.Logger != nil {
				o.Logger.Error("orchestrator: posting summary comment", "workflow_id", workflowID, "error", err)
			}
		}
	}

	if o.Worktrees != nil {
		if err := o.Worktrees.Teardown(ctx, workflowID); err != nil {
			if o.Logger != nil {
				o.Logger.Error("orchestrator: tearing down worktree", "workflow_id", workflowID, "error", err)
			}
		}
	}
}

// renderSummary builds the pull-request-comment body for a finished
// workflow: one row per templated phase, populated from the PhaseResult
// each recorded under its StateKey in PhaseResults.
func (o *Orchestrator) renderSummary(workflowID, templateName string, final *state.WorkflowState, phases []phase.Name) (string, error) {
	gen := o.PRBody
	if gen == nil {
		gen = prbody.New(o.Logger)
	}

	outcomes := make([]prbody.PhaseOutcome, 0, len(phases))
	for _, p := range phases {
		outcomes = append(outcomes, prbody.PhaseOutcome{
			Name:   string(p),
			Result: phaseResultFor(final, string(p)),
		})
	}

	return gen.Generate(prbody.Data{
		WorkflowID:   workflowID,
		TemplateName: templateName,
		BranchName:   final.BranchName,
		Phases:       outcomes,
	})
}

// phaseResultFor extracts phase p's recorded PhaseResult from
// WorkflowState.PhaseResults, or nil if the phase never produced one (e.g.
// it was blocked by an earlier failure).
func phaseResultFor(final *state.WorkflowState, p string) *executor.PhaseResult {
	key := (&executor.PhaseResult{PhaseName: p}).StateKey()
	raw, ok := final.PhaseResults[key]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var pr executor.PhaseResult
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil
	}
	return &pr
}

// enqueuePending inserts PhaseRecords for pending phases, numbered by their
// position in the full phase list so dependency ordinals stay stable across
// a resumed subset.
func (o *Orchestrator) enqueuePending(workflowID, issueID string, all []phase.Name, pending []phase.Name) error {
	numberOf := make(map[phase.Name]int, len(all))
	for i, p := range all {
		numberOf[p] = i + 1
	}

	records := make([]queue.PhaseRecord, 0, len(pending))
	for _, p := range pending {
		num := numberOf[p]
		rec := queue.PhaseRecord{
			QueueID:     fmt.Sprintf("%s-%d", workflowID, num),
			ParentIssue: issueID,
			PhaseNumber: num,
			PhaseName:   string(p),
			PhaseData:   o.phaseDataFor(p),
		}
		if num > 1 {
			prev := num - 1
			rec.DependsOnPhase = &prev
		}
		records = append(records, rec)
	}
	return o.Queue.Enqueue(workflowID, records...)
}

// runInProcess chains pending phases synchronously, used by templates that
// do not need the Coordinator (lightweight). Enqueue only marks the first
// phase of the whole template ready; on a resumed run the first pending
// phase may not be phase 1, so it is promoted to ready by hand before the
// chain starts. Every phase after that is promoted by TriggerNext once its
// predecessor completes, the same mechanism the Coordinator uses.
func (o *Orchestrator) runInProcess(ctx context.Context, workflowID string, pending []phase.Name, trk *tracker.Tracker) error {
	if len(pending) == 0 {
		return nil
	}

	records, err := o.Queue.List(workflowID)
	if err != nil {
		return err
	}
	byName := make(map[string]queue.PhaseRecord, len(records))
	for _, r := range records {
		byName[r.PhaseName] = r
	}

	first, ok := byName[string(pending[0])]
	if ok && first.Status == queue.StatusQueued {
		if err := o.Queue.Mark(workflowID, first.QueueID, queue.StatusReady, ""); err != nil {
			return err
		}
	}

	for range pending {
		rec, err := o.Queue.NextReady(workflowID)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}

		entry, known := phase.Lookup(phase.Name(rec.PhaseName))
		mode := executor.ModeTool
		if known && entry.Mode == "agent" {
			mode = executor.ModeAgent
		}

		wf, err := o.States.Load(workflowID)
		if err != nil {
			return err
		}
		if err := o.Queue.Mark(workflowID, rec.QueueID, queue.StatusRunning, ""); err != nil {
			return err
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

		result, runErr := o.Executor.Run(ctx, in)
		if result != nil {
			if err := o.recordPhaseResult(workflowID, wf, result); err != nil {
				return err
			}
		}
		if runErr != nil || result == nil || !result.Success {
			reason := "phase failed"
			if runErr != nil {
				reason = runErr.Error()
			}
			if _, err := o.Queue.BlockDependents(workflowID, rec.QueueID, reason); err != nil {
				return err
			}
			if !entry.Soft {
				return o.States.MarkTerminal(workflowID, state.StatusFailed)
			}
			continue
		}

		// TriggerNext performs the running->completed transition itself and
		// promotes the next pending phase to ready.
		if _, err := o.Queue.TriggerNext(workflowID, rec.QueueID); err != nil {
			return err
		}
		if trk != nil {
			_ = trk.MarkCompleted(rec.PhaseName) //nolint:errcheck
		}
	}
	return nil
}

// recordPhaseResult persists result under its StateKey in
// WorkflowState.PhaseResults and bumps current_phase, so a phase's build/
// lint/test errors, next_steps, cost_usd, and tokens_used survive past the
// in-process run that produced them. wf is the state as loaded just before
// this phase ran; only its PhaseResults snapshot is reused here to avoid a
// redundant Load.
func (o *Orchestrator) recordPhaseResult(workflowID string, wf *state.WorkflowState, result *executor.PhaseResult) error {
	merged := make(map[string]any, len(wf.PhaseResults)+1)
	for k, v := range wf.PhaseResults {
		merged[k] = v
	}
	merged[result.StateKey()] = result.ToStateValue()
	wf.PhaseResults = merged

	return o.States.Update(workflowID, map[string]any{
		"current_phase": result.PhaseName,
		"phase_results": merged,
	})
}

// remaining returns the phases in full not yet marked completed by trk, so
// a resumed run starts at the first incomplete phase.
func remaining(full []phase.Name, trk *tracker.Tracker) []phase.Name {
	var out []phase.Name
	for _, p := range full {
		if trk.IsCompleted(string(p)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// phaseDataFor builds the PhaseData a PhaseRecord carries for p: the
// configured agent name for agent-mode phases (falling back to the phase
// name itself when PhaseAgents has no entry), or the configured shell
// command for tool-mode phases.
func (o *Orchestrator) phaseDataFor(p phase.Name) map[string]any {
	entry, known := phase.Lookup(p)
	if known && entry.Mode == "agent" {
		agentName := o.PhaseAgents[string(p)]
		if agentName == "" {
			agentName = string(p)
		}
		return map[string]any{"agent": agentName}
	}
	cmd := o.Commands[string(p)]
	if len(cmd) == 0 {
		return nil
	}
	anyCmd := make([]any, len(cmd))
	for i, c := range cmd {
		anyCmd[i] = c
	}
	return map[string]any{"command": anyCmd}
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

func classificationFor(issueClass string) state.Classification {
	switch state.Classification(issueClass) {
	case state.ClassFeature, state.ClassBug, state.ClassChore, state.ClassPatch:
		return state.Classification(issueClass)
	default:
		return state.ClassFeature
	}
}

// brancher is a thin indirection so tests can exercise branch naming without
// importing the worktree package's git-backed Manager.
var brancher = defaultBrancher

func defaultBrancher(classification state.Classification, workflowID, title string) string {
	return fmt.Sprintf("%s/%s-%s", classification, workflowID, slugify(title))
}

func slugify(s string) string {
	out := make([]byte, 0, len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			out = append(out, byte(r))
			lastDash = false
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
			lastDash = false
		default:
			if !lastDash && len(out) > 0 {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}
