package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forge/internal/state"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Workflow lifecycle commands",
	Long:  "Inspect workflows tracked by the Identity & State Store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Print a workflow's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		stateDir := "agents/state"
		if resolved.Config.Project.LogDir != "" {
			stateDir = resolved.Config.Project.LogDir + "/state"
		}
		store := state.NewStore(stateDir)
		wf, err := store.Load(args[0])
		if err != nil {
			return fmt.Errorf("loading workflow %q: %w", args[0], err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "workflow:     %s\n", wf.WorkflowID)
		fmt.Fprintf(cmd.OutOrStdout(), "issue:        %s\n", wf.IssueID)
		fmt.Fprintf(cmd.OutOrStdout(), "template:     %s\n", wf.TemplateName)
		fmt.Fprintf(cmd.OutOrStdout(), "status:       %s\n", wf.Status)
		if wf.CurrentPhase != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "phase:        %s\n", wf.CurrentPhase)
		}
		if wf.BranchName != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "branch:       %s\n", wf.BranchName)
		}
		if wf.WorktreePath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "worktree:     %s\n", wf.WorktreePath)
		}
		return nil
	},
}

func init() {
	workflowCmd.AddCommand(workflowStatusCmd)
	rootCmd.AddCommand(workflowCmd)
}
