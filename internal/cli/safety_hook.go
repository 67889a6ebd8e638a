package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forge/internal/forgeerr"
	"github.com/forgeflow/forge/internal/safety"
)

// hookPayload is the subset of a PreToolUse hook event this command reads:
// the tool being invoked and its input parameters.
type hookPayload struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

var safetyHookCmd = &cobra.Command{
	Use:   "safety-hook",
	Short: "PreToolUse hook: block destructive subprocess calls",
	Long: `Reads a PreToolUse hook payload as JSON from stdin, runs it through the
Safety Gate, and exits 2 with a message on stderr when the call is blocked.
Intended to be wired as an agent CLI's PreToolUse hook command.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSafetyHook,
}

func init() {
	rootCmd.AddCommand(safetyHookCmd)
}

func runSafetyHook(cmd *cobra.Command, args []string) error {
	body, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading hook payload: %w", err)
	}

	var payload hookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("parsing hook payload: %w", err)
	}

	gate := safety.NewGate()
	if err := gate.Check(payload.ToolName, payload.ToolInput); err != nil {
		if errors.Is(err, forgeerr.ErrSafetyBlocked) {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		return err
	}

	return nil
}
