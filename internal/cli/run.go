package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forge/internal/logging"
	"github.com/forgeflow/forge/internal/orchestrator"
)

type runFlags struct {
	Template   string
	BaseBranch string
	WorkflowID string
	IssueClass string
	Resume     bool
	WatchAddr  string
}

var rFlags runFlags

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <issue-id> <title>",
		Short: "Start or resume a workflow end-to-end",
		Long: `Run allocates (or resumes) a workflow for an issue, classifies it,
provisions its worktree and ports, then sequences its template's phases
either in-process (lightweight templates) or through the Phase Coordinator
(standard, complex, and complete templates).`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}

	cmd.Flags().StringVar(&rFlags.Template, "template", "", "Explicit template name override; derived from classification when empty")
	cmd.Flags().StringVar(&rFlags.BaseBranch, "base", "main", "Base branch new worktrees are created from")
	cmd.Flags().StringVar(&rFlags.WorkflowID, "workflow-id", "", "Resume an existing workflow id instead of allocating a new one")
	cmd.Flags().StringVar(&rFlags.IssueClass, "class", "", "Issue class override (feature|bug|chore|patch)")
	cmd.Flags().BoolVar(&rFlags.Resume, "resume", false, "Resume a previously started workflow")
	cmd.Flags().StringVar(&rFlags.WatchAddr, "watch-addr", "", "Serve phase_update events over a websocket at this address (e.g. :8910) while running")

	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func runRun(cmd *cobra.Command, args []string) error {
	issueID := args[0]
	title := issueID
	if len(args) > 1 {
		title = args[1]
	}

	resolved, _, err := loadAndResolveConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if flagDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would run workflow for issue %q (template=%q)\n", issueID, rFlags.Template)
		return nil
	}

	agentsDir := "agents"
	if resolved.Config.Project.LogDir != "" {
		agentsDir = resolved.Config.Project.LogDir
	}
	orch, err := buildOrchestrator(resolved.Config, agentsDir)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	logger := logging.New("run")

	if rFlags.WatchAddr != "" {
		server := &http.Server{Addr: rFlags.WatchAddr, Handler: http.HandlerFunc(orch.Hub.ServeHTTP)}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("watch server stopped", "error", err)
			}
		}()
		defer server.Close()
		logger.Info("serving phase updates", "addr", rFlags.WatchAddr)
	}

	req := orchestrator.Request{
		WorkflowID:   rFlags.WorkflowID,
		IssueID:      issueID,
		Title:        title,
		IssueClass:   rFlags.IssueClass,
		TemplateName: rFlags.Template,
		BaseBranch:   rFlags.BaseBranch,
		Resume:       rFlags.Resume,
	}

	wf, err := orch.Start(cmd.Context(), req)
	if err != nil {
		logger.Error("workflow failed", "issue", issueID, "error", err)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: status=%s template=%s branch=%s\n",
		wf.WorkflowID, wf.Status, wf.TemplateName, wf.BranchName)
	return nil
}
