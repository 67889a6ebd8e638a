package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forge/internal/agent"
	"github.com/forgeflow/forge/internal/config"
	"github.com/forgeflow/forge/internal/logging"
	"github.com/forgeflow/forge/internal/prbody"
	"github.com/forgeflow/forge/internal/vcs"
)

// prFlags holds parsed flag values for the pr command.
type prFlags struct {
	// BaseBranch is the base branch the PR targets.
	BaseBranch string

	// Draft creates the PR in draft state when true.
	Draft bool

	// Title is an optional override for the PR title.
	Title string

	// Labels is a list of label names to apply to the PR (repeatable).
	Labels []string

	// Assignees is a list of GitHub usernames to assign to the PR (repeatable).
	Assignees []string

	// NoSummary skips AI summary generation when true.
	NoSummary bool
}

// newPRCmd creates the "forge pr" command.
func newPRCmd() *cobra.Command {
	var flags prFlags

	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Create a pull request from the current branch",
		Long: `Create a pull request from the current branch via the gh CLI.

The PR body is generated from the workflow's recorded phase outcomes and an
optional AI-generated summary.

Exit codes:
  0 - PR created successfully
  1 - Error during execution

Use --dry-run to preview the PR title and body without creating the PR.`,
		Example: `  # Create PR with defaults (base branch: main)
  forge pr

  # Create a draft PR
  forge pr --draft

  # Create PR with custom title and labels
  forge pr --title "feat: implement T-042" --label "enhancement" --label "ai-generated"

  # Create PR targeting a different base branch
  forge pr --base develop

  # Skip AI summary generation
  forge pr --no-summary

  # Dry-run: show PR title and body without creating
  forge pr --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPR(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.BaseBranch, "base", "main", "Base branch for the pull request")
	cmd.Flags().BoolVar(&flags.Draft, "draft", false, "Create the PR as a draft")
	cmd.Flags().StringVar(&flags.Title, "title", "", "PR title override (default: auto-generated)")
	cmd.Flags().StringArrayVar(&flags.Labels, "label", nil, "Label to apply to the PR (can be repeated)")
	cmd.Flags().StringArrayVar(&flags.Assignees, "assignee", nil, "GitHub username to assign to the PR (can be repeated)")
	cmd.Flags().BoolVar(&flags.NoSummary, "no-summary", false, "Skip AI summary generation")

	return cmd
}

func init() {
	rootCmd.AddCommand(newPRCmd())
}

// runPR is the RunE implementation for the pr command.
func runPR(cmd *cobra.Command, flags prFlags) error {
	logger := logging.New("pr")

	// Step 1: Load and resolve configuration.
	resolved, _, err := loadAndResolveConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := resolved.Config

	// Step 2: Set up signal context for graceful cancellation.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Step 3: Construct the Version Control Host poster.
	poster := vcs.New(".", logger)

	// Step 4: Check prerequisites (gh installed, authenticated, not on base branch).
	if err := poster.CheckPrerequisites(ctx, flags.BaseBranch); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "\nPR creation cancelled.")
			return err
		}
		return fmt.Errorf("pr prerequisites: %w", err)
	}

	// Step 5: Ensure branch is pushed to origin (unless dry-run).
	dryRun := flagDryRun
	if !dryRun {
		if err := poster.EnsureBranchPushed(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(cmd.ErrOrStderr(), "\nPR creation cancelled.")
				return err
			}
			return fmt.Errorf("ensuring branch pushed: %w", err)
		}
	}

	// Step 6: Determine current branch name.
	branchName, err := poster.CurrentBranch(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "\nPR creation cancelled.")
			return err
		}
		// Non-fatal: proceed with empty branch name.
		logger.Warn("could not determine current branch", "error", err)
		branchName = ""
	}

	// Step 7: Resolve optional agent for summary generation and compose the
	// PR body. An empty Summary lets Generate fall back to a structured
	// per-phase summary when no agent is configured or the agent call fails.
	data := prbody.Data{
		BranchName: branchName,
		BaseBranch: flags.BaseBranch,
	}
	if !flags.NoSummary {
		if ag := resolveSummaryAgent(cfg.Agents); ag != nil {
			if summary, sumErr := generatePRSummary(ctx, ag, branchName); sumErr != nil {
				logger.Warn("could not generate PR summary", "error", sumErr)
			} else {
				data.Summary = summary
			}
		}
	}

	bodyGen := prbody.New(logger)
	body, err := bodyGen.Generate(data)
	if err != nil {
		return fmt.Errorf("generating PR body: %w", err)
	}

	// Step 8: Generate PR title (use flag override if provided).
	title := flags.Title
	if title == "" {
		title = prbody.Title(data)
	}

	// Step 9: Handle dry-run mode.
	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Title: %s\n\n", title)
		fmt.Fprintf(cmd.OutOrStdout(), "Body:\n%s\n", body)
		return nil
	}

	// Step 10: Create the PR via gh CLI.
	logger.Info("creating pull request",
		"title", title,
		"base", flags.BaseBranch,
		"draft", flags.Draft,
		"labels", flags.Labels,
		"assignees", flags.Assignees,
	)

	result, err := poster.Create(ctx, vcs.PROpts{
		Title:      title,
		Body:       body,
		BaseBranch: flags.BaseBranch,
		Draft:      flags.Draft,
		Labels:     flags.Labels,
		Assignees:  flags.Assignees,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "\nPR creation cancelled.")
			return err
		}
		return fmt.Errorf("creating pull request: %w", err)
	}

	// Step 11: Print PR URL to stdout on success.
	if result.URL != "" {
		fmt.Fprintln(cmd.OutOrStdout(), result.URL)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Pull request created successfully.")
	}

	logger.Info("pull request created",
		"url", result.URL,
		"number", result.Number,
		"draft", result.Draft,
	)

	return nil
}

// resolveSummaryAgent returns the first fully configured agent, or nil if
// none is available. Registry construction failures are treated as "no
// agent" -- summary generation is best-effort.
func resolveSummaryAgent(agentCfgs map[string]config.AgentConfig) agent.Agent {
	name := firstConfiguredAgentName(agentCfgs)
	if name == "" {
		return nil
	}
	registry, err := buildAgentRegistry(agentCfgs, "", "")
	if err != nil {
		return nil
	}
	ag, err := registry.Get(name)
	if err != nil {
		return nil
	}
	return ag
}

// generatePRSummary asks ag to produce a short natural-language summary of
// the branch's changes for the PR body.
func generatePRSummary(ctx context.Context, ag agent.Agent, branchName string) (string, error) {
	prompt := fmt.Sprintf("Summarize the changes on branch %q in two or three sentences for a pull request description.", branchName)
	result, err := ag.Run(ctx, agent.RunOpts{
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", fmt.Errorf("agent %q exited %d", ag.Name(), result.ExitCode)
	}
	return result.Stdout, nil
}
