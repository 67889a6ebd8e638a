package config

// NewDefaults returns a Config populated with all default values.
// These defaults match the PRD-specified defaults for a Go CLI project.
func NewDefaults() *Config {
	return &Config{
		Project: ProjectConfig{
			TasksDir:       "docs/tasks",
			TaskStateFile:  "docs/tasks/task-state.conf",
			PhasesConf:     "docs/tasks/phases.conf",
			ProgressFile:   "docs/tasks/PROGRESS.md",
			LogDir:         "scripts/logs",
			PromptDir:      "prompts",
			BranchTemplate: "phase/{phase_id}-{slug}",
		},
		Core: CoreConfig{
			PortRangeStart:             9100,
			PortRangeSize:              100,
			PollIntervalSeconds:        2,
			PhaseTimeoutSecondsDefault: 600,
			WebhookDedupWindowSeconds:  30,
			ExternalToolEnabled:        true,
			StopOnLintFailure:          false,
			LLMQuotaThreshold:          10,
		},
		Agents:    map[string]AgentConfig{},
		Workflows: map[string]WorkflowConfig{},
		PhaseAgents: PhaseAgentsConfig{
			"Plan":     "claude",
			"Review":   "claude",
			"Document": "claude",
		},
	}
}
