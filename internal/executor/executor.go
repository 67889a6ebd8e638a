// Package executor implements the Phase Executor: runs exactly one phase,
// dispatching to either the Agent Runner (agent mode) or an external tool
// subprocess (tool mode) based on the phase's PhaseData.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/forgeflow/forge/internal/agent"
	"github.com/forgeflow/forge/internal/forgeerr"
	"github.com/forgeflow/forge/internal/jsonutil"
	"github.com/forgeflow/forge/internal/observability"
	"github.com/forgeflow/forge/internal/safety"
)

// Mode selects how a phase is executed.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModeTool  Mode = "tool"
)

// maxStdoutInDetails bounds how much raw tool stdout is preserved on a
// SchemaMismatch error, per the truncated-details contract.
const maxStdoutInDetails = 4 * 1024

// PhaseResultError describes one error/failure entry in a PhaseResult.
type PhaseResultError struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Fixable  bool   `json:"fixable,omitempty"`
}

// PhaseResult is the typed outcome of one phase's execution.
type PhaseResult struct {
	PhaseName       string             `json:"phase_name"`
	Success         bool               `json:"success"`
	Summary         map[string]any     `json:"summary,omitempty"`
	Errors          []PhaseResultError `json:"errors,omitempty"`
	NextSteps       []string           `json:"next_steps,omitempty"`
	DurationSeconds float64            `json:"duration_seconds"`
	TokensUsed      *int               `json:"tokens_used,omitempty"`
	CostUSD         *float64           `json:"cost_usd,omitempty"`
}

// Input describes one invocation of the executor.
type Input struct {
	WorkflowID string
	IssueID    string
	PhaseName  string
	WorkingDir string // mandatory for worktree-aware phases
	Mode       Mode

	// Agent mode fields.
	AgentName    string
	Prompt       string
	Model        string
	Effort       string
	AllowedTools string

	// Tool mode fields.
	ToolCommand []string
	Timeout     time.Duration
}

// Executor runs a single phase via either the Agent Runner or an external
// tool subprocess.
type Executor struct {
	Agents  *agent.Registry
	Safety  *safety.Gate
	Emitter *observability.Emitter
	Logger  *log.Logger
}

// New returns an Executor wired to the given agent registry, safety gate,
// and observability emitter.
func New(agents *agent.Registry, gate *safety.Gate, emitter *observability.Emitter, logger *log.Logger) *Executor {
	return &Executor{Agents: agents, Safety: gate, Emitter: emitter, Logger: logger}
}

// Run executes in.Mode and returns a PhaseResult, or an error from the §7
// taxonomy (Timeout, ToolFailure, AgentFailure, SchemaMismatch). Errors are
// never fatal to the caller; they are meant to drive the phase to failed.
func (e *Executor) Run(ctx context.Context, in Input) (*PhaseResult, error) {
	if in.WorkingDir == "" {
		return nil, fmt.Errorf("executor: phase %q: working_dir is required", in.PhaseName)
	}

	switch in.Mode {
	case ModeAgent:
		return e.runAgent(ctx, in)
	case ModeTool:
		return e.runTool(ctx, in)
	default:
		return nil, fmt.Errorf("executor: phase %q: unknown mode %q", in.PhaseName, in.Mode)
	}
}

func (e *Executor) runAgent(ctx context.Context, in Input) (*PhaseResult, error) {
	started := time.Now()

	if e.Safety != nil {
		if err := e.Safety.Check("Agent", map[string]any{"prompt": in.Prompt, "work_dir": in.WorkingDir}); err != nil {
			return nil, fmt.Errorf("executor: phase %q: %w", in.PhaseName, err)
		}
	}

	a, err := e.Agents.Get(in.AgentName)
	if err != nil {
		return nil, fmt.Errorf("executor: phase %q: agent %q: %w", in.PhaseName, in.AgentName, forgeerr.ErrAgentFailure)
	}

	result, err := a.Run(ctx, agent.RunOpts{
		Prompt:       in.Prompt,
		Model:        in.Model,
		Effort:       in.Effort,
		AllowedTools: in.AllowedTools,
		OutputFormat: agent.OutputFormatJSON,
		WorkDir:      in.WorkingDir,
	})
	duration := time.Since(started)

	e.flush(in, duration, err == nil && result != nil && result.Success())

	if err != nil {
		return nil, fmt.Errorf("executor: phase %q: agent %q run: %w", in.PhaseName, in.AgentName, forgeerr.ErrAgentFailure)
	}
	if !result.Success() {
		return &PhaseResult{
			PhaseName:       in.PhaseName,
			Success:         false,
			DurationSeconds: duration.Seconds(),
		}, fmt.Errorf("executor: phase %q: agent %q exited %d: %w", in.PhaseName, in.AgentName, result.ExitCode, forgeerr.ErrAgentFailure)
	}

	pr, err := parsePhaseResult(in.PhaseName, result.Stdout, duration)
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (e *Executor) runTool(ctx context.Context, in Input) (*PhaseResult, error) {
	if len(in.ToolCommand) == 0 {
		return nil, fmt.Errorf("executor: phase %q: tool mode requires a command", in.PhaseName)
	}

	if e.Safety != nil {
		if err := e.Safety.Check("Bash", map[string]any{"command": strings.Join(in.ToolCommand, " ")}); err != nil {
			return nil, fmt.Errorf("executor: phase %q: %w", in.PhaseName, err)
		}
	}

	timeout := in.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(ctx, in.ToolCommand[0], in.ToolCommand[1:]...)
	cmd.Dir = in.WorkingDir
	stdout, runErr := cmd.Output()
	duration := time.Since(started)

	success := runErr == nil
	e.flush(in, duration, success)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("executor: phase %q: %w", in.PhaseName, forgeerr.ErrTimeout)
	}

	pr, err := parsePhaseResult(in.PhaseName, string(stdout), duration)
	if err != nil {
		// SchemaMismatch is treated as ToolFailure with stdout preserved.
		return nil, err
	}
	if runErr != nil && pr.Success {
		// Exit code disagrees with the tool's own success field; trust the
		// process exit status.
		pr.Success = false
	}
	return pr, nil
}

func (e *Executor) flush(in Input, duration time.Duration, success bool) {
	if e.Emitter == nil {
		return
	}
	e.Emitter.LogToolCall(in.WorkflowID, in.IssueID, in.PhaseName, observability.ToolCall{
		ToolName:   toolLabel(in),
		Args:       in.ToolCommand,
		StartedAt:  time.Now().Add(-duration),
		DurationMS: duration.Milliseconds(),
		Success:    success,
	})
}

func toolLabel(in Input) string {
	if in.Mode == ModeAgent {
		return in.AgentName
	}
	if len(in.ToolCommand) > 0 {
		return in.ToolCommand[0]
	}
	return "unknown"
}

// parsePhaseResult extracts and validates the tool-output schema from raw
// stdout. Parse failure becomes ErrSchemaMismatch with truncated stdout
// preserved for the caller to surface.
func parsePhaseResult(phaseName, stdout string, duration time.Duration) (*PhaseResult, error) {
	var raw struct {
		Success bool                  `json:"success"`
		Summary map[string]any        `json:"summary"`
		Errors  []PhaseResultError    `json:"errors"`
		Fails   []PhaseResultError    `json:"failures"`
		Next    []string              `json:"next_steps"`
	}
	if err := jsonutil.ExtractInto(stdout, &raw); err != nil {
		truncated := stdout
		if len(truncated) > maxStdoutInDetails {
			truncated = truncated[:maxStdoutInDetails]
		}
		return nil, fmt.Errorf("executor: phase %q: %w: details=%s", phaseName, forgeerr.ErrSchemaMismatch, truncated)
	}

	errs := raw.Errors
	if len(errs) == 0 {
		errs = raw.Fails
	}

	dur := duration.Seconds()
	if raw.Summary != nil {
		if v, ok := raw.Summary["duration_seconds"].(float64); ok {
			dur = v
		}
	}

	return &PhaseResult{
		PhaseName:       phaseName,
		Success:         raw.Success,
		Summary:         raw.Summary,
		Errors:          errs,
		NextSteps:       raw.Next,
		DurationSeconds: dur,
	}, nil
}

// marshalForDebug renders pr as JSON for debugging.
func marshalForDebug(pr *PhaseResult) ([]byte, error) {
	return json.Marshal(pr)
}

// StateKey returns the WorkflowState.PhaseResults key this result belongs
// under: "external_<phase_name>_results", the tool-output schema's naming
// convention (external_build_results, external_lint_results, ...).
func (pr *PhaseResult) StateKey() string {
	return fmt.Sprintf("external_%s_results", pr.PhaseName)
}

// ToStateValue renders pr into the map[string]any shape persisted under its
// StateKey in WorkflowState.PhaseResults, via a JSON round-trip so the
// stored document matches exactly what a subprocess phase would have
// written directly.
func (pr *PhaseResult) ToStateValue() map[string]any {
	raw, err := json.Marshal(pr)
	if err != nil {
		return map[string]any{"success": pr.Success}
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"success": pr.Success}
	}
	return v
}
