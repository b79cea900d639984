package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/output"
	"github.com/abdul-hamid-achik/hitsuite/packages/sse"
)

var followCmd = &cobra.Command{
	Use:   "follow <server-url> <run-id>",
	Short: "Follow a run on a hitsuite server",
	Long: `Print the events of a run started on a hitsuite server as they happen.
Events emitted before following began are replayed first.

Examples:
  hitsuite follow http://localhost:8080 3f6c1a2e-...
  hitsuite follow http://localhost:8080 3f6c1a2e-... -o tap`,
	Args: cobra.ExactArgs(2),
	RunE: followCommand,
}

var (
	followOutputFlag  string
	followNoColorFlag bool
	followVerboseFlag bool
)

func init() {
	followCmd.Flags().StringVarP(&followOutputFlag, "output", "o", output.FormatConsole, "Output format: console, json, junit, tap")
	followCmd.Flags().BoolVar(&followNoColorFlag, "no-color", getEnvBool("HITSUITE_NO_COLOR", false), "Disable colored output (env: HITSUITE_NO_COLOR)")
	followCmd.Flags().BoolVarP(&followVerboseFlag, "verbose", "v", false, "Show STARTED events and response details")
}

func followCommand(cmd *cobra.Command, args []string) error {
	f, err := output.New(strings.ToLower(followOutputFlag), output.Options{
		Writer:  cmd.OutOrStdout(),
		Verbose: followVerboseFlag,
		NoColor: followNoColorFlag,
	})
	if err != nil {
		return usageError(err)
	}

	base := strings.TrimRight(args[0], "/")
	runID := args[1]
	client := sse.NewClient(base + "/v1/runs/" + runID + "/events")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f.FormatHeader(runID)
	var events []testrun.Event
	err = client.Follow(ctx, func(ev testrun.Event) {
		events = append(events, ev)
		f.FormatEvent(ev)
	})
	if err != nil {
		return exitWith(ExitNetworkError, fmt.Errorf("following run %s: %w", runID, err))
	}

	summary := testrun.Summarize(events)
	if err := f.Flush(summary); err != nil {
		return fmt.Errorf("error writing output: %w", err)
	}
	if !summary.Passed() {
		return exitWith(ExitTestFailure, nil)
	}
	return nil
}
