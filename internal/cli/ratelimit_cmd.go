package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forge/internal/logging"
	"github.com/forgeflow/forge/internal/ratelimit"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Remote API quota commands",
	Long:  "Inspect remote LLM and Version Control Host API quota.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print current LLM and Version Control Host quota",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		agentName := firstConfiguredAgentName(resolved.Config.Agents)
		if agentName == "" {
			agentName = "claude"
		}

		probers := map[ratelimit.Backend]ratelimit.Prober{
			ratelimit.BackendLLM: ratelimit.LLMPingProber(agentName),
			ratelimit.BackendVCS: ratelimit.VCSRESTProber,
		}
		guard := ratelimit.NewGuard(probers, logging.New("ratelimit"))

		fmt.Fprint(cmd.OutOrStdout(), guard.StatusMessage(cmd.Context()))
		return nil
	},
}

func init() {
	ratelimitCmd.AddCommand(ratelimitStatusCmd)
	rootCmd.AddCommand(ratelimitCmd)
}
