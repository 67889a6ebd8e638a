package config

// Config is the top-level configuration structure mapping to forge.toml.
type Config struct {
	Project       ProjectConfig             `toml:"project"`
	Core          CoreConfig                `toml:"core"`
	Agents        map[string]AgentConfig    `toml:"agents"`
	Review        ReviewConfig              `toml:"review"`
	Workflows     map[string]WorkflowConfig `toml:"workflows"`
	PhaseCommands PhaseCommandsConfig       `toml:"phase_commands"`
	PhaseAgents   PhaseAgentsConfig         `toml:"phase_agents"`
}

// CoreConfig maps to the [core] section in forge.toml: the workflow engine's
// own tunables, as distinct from the per-project [project] section.
type CoreConfig struct {
	PortRangeStart             int    `toml:"port_range_start"`
	PortRangeSize              int    `toml:"port_range_size"`
	PollIntervalSeconds        int    `toml:"poll_interval_seconds"`
	PhaseTimeoutSecondsDefault int    `toml:"phase_timeout_seconds_default"`
	WebhookDedupWindowSeconds  int    `toml:"webhook_dedup_window_seconds"`
	ExternalToolEnabled        bool   `toml:"external_tool_enabled"`
	StopOnLintFailure          bool   `toml:"stop_on_lint_failure"`
	ObservabilityEndpoint      string `toml:"observability_endpoint"`
	LLMQuotaThreshold          int    `toml:"llm_quota_threshold"`
}

// PhaseCommandsConfig maps to the [phase_commands] section in forge.toml: the
// shell command a tool-mode phase runs, keyed by phase name (e.g. "Build",
// "Lint", "Test"). Agent-mode phases (Plan, Review, Document) ignore this
// section -- they run through the configured [agents.<name>] entry instead.
type PhaseCommandsConfig map[string][]string

// PhaseAgentsConfig maps to the [phase_agents] section in forge.toml: which
// configured [agents.<name>] entry an agent-mode phase (Plan, Review,
// Document) runs under, keyed by phase name. A phase with no entry here
// falls back to an agent registered under its own name.
type PhaseAgentsConfig map[string]string

// ProjectConfig maps to the [project] section in forge.toml.
type ProjectConfig struct {
	Name                 string   `toml:"name"`
	Language             string   `toml:"language"`
	TasksDir             string   `toml:"tasks_dir"`
	TaskStateFile        string   `toml:"task_state_file"`
	PhasesConf           string   `toml:"phases_conf"`
	ProgressFile         string   `toml:"progress_file"`
	LogDir               string   `toml:"log_dir"`
	PromptDir            string   `toml:"prompt_dir"`
	BranchTemplate       string   `toml:"branch_template"`
	VerificationCommands []string `toml:"verification_commands"`
}

// AgentConfig maps to an [agents.<name>] section in forge.toml.
type AgentConfig struct {
	Command        string `toml:"command"`
	Model          string `toml:"model"`
	Effort         string `toml:"effort"`
	PromptTemplate string `toml:"prompt_template"`
	AllowedTools   string `toml:"allowed_tools"`
}

// ReviewConfig maps to the [review] section in forge.toml.
type ReviewConfig struct {
	Extensions       string `toml:"extensions"`
	RiskPatterns     string `toml:"risk_patterns"`
	PromptsDir       string `toml:"prompts_dir"`
	RulesDir         string `toml:"rules_dir"`
	ProjectBriefFile string `toml:"project_brief_file"`
}

// WorkflowConfig maps to a [workflows.<name>] section in forge.toml.
type WorkflowConfig struct {
	Description string                       `toml:"description"`
	Steps       []string                     `toml:"steps"`
	Transitions map[string]map[string]string `toml:"transitions"`
}
