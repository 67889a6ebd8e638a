package cli

import (
	"fmt"

	"github.com/forgeflow/forge/internal/agent"
	"github.com/forgeflow/forge/internal/classify"
	"github.com/forgeflow/forge/internal/config"
	"github.com/forgeflow/forge/internal/executor"
	"github.com/forgeflow/forge/internal/git"
	"github.com/forgeflow/forge/internal/logging"
	"github.com/forgeflow/forge/internal/observability"
	"github.com/forgeflow/forge/internal/orchestrator"
	"github.com/forgeflow/forge/internal/ports"
	"github.com/forgeflow/forge/internal/prbody"
	"github.com/forgeflow/forge/internal/queue"
	"github.com/forgeflow/forge/internal/safety"
	"github.com/forgeflow/forge/internal/state"
	"github.com/forgeflow/forge/internal/vcs"
	"github.com/forgeflow/forge/internal/worktree"
)

// buildOrchestrator wires the workflow components into a single Orchestrator
// using the resolved config. agentsDir roots the Identity & State Store,
// Phase Queue, Tracker, and Coordinator lock files.
func buildOrchestrator(cfg *config.Config, agentsDir string) (*orchestrator.Orchestrator, error) {
	registry, err := buildPhaseAgentRegistry(cfg.Agents, cfg.PhaseAgents)
	if err != nil {
		return nil, fmt.Errorf("building agent registry: %w", err)
	}

	gitClient, err := git.NewGitClient("")
	if err != nil {
		return nil, fmt.Errorf("creating git client: %w", err)
	}

	states := state.NewStore(agentsDir + "/state")
	pool := ports.NewPool(agentsDir+"/ports.json", cfg.Core.PortRangeStart, cfg.Core.PortRangeSize)
	trees := worktree.NewManager(".worktrees", gitClient)
	classifier := classify.NewCache()
	q := queue.NewQueue(agentsDir + "/queue")
	gate := safety.NewGate()
	emitter := observability.NewEmitter(cfg.Project.LogDir, cfg.Core.ObservabilityEndpoint, logging.New("observability"))
	exec := executor.New(registry, gate, emitter, logging.New("executor"))

	orch := orchestrator.New(states, pool, trees, classifier, q, exec, emitter, logging.New("orchestrator"), agentsDir)
	orch.Commands = cfg.PhaseCommands
	orch.PhaseAgents = cfg.PhaseAgents
	orch.VCS = vcs.New(".", logging.New("vcs"))
	orch.PRBody = prbody.New(logging.New("prbody"))
	orch.DryRun = flagDryRun
	return orch, nil
}

// buildPhaseAgentRegistry is buildAgentRegistry plus a second pass that
// registers an agent.Alias for each [phase_agents] entry, so an agent-mode
// phase can look its agent up under its own phase name even though the
// underlying tool (claude/codex/gemini) reports a fixed Name().
func buildPhaseAgentRegistry(agentCfgs map[string]config.AgentConfig, phaseAgents config.PhaseAgentsConfig) (*agent.Registry, error) {
	registry, err := buildAgentRegistry(agentCfgs, "", "")
	if err != nil {
		return nil, err
	}

	for phaseName, toolName := range phaseAgents {
		if phaseName == toolName {
			continue // already registered under its own name
		}
		tool, err := registry.Get(toolName)
		if err != nil {
			return nil, fmt.Errorf("resolving tool %q for phase %q: %w", toolName, phaseName, err)
		}
		if err := registry.Register(agent.Alias(tool, phaseName)); err != nil {
			return nil, fmt.Errorf("registering phase alias %q: %w", phaseName, err)
		}
	}

	return registry, nil
}
