package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/history"
	"github.com/abdul-hamid-achik/hitsuite/packages/output"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `List runs recorded with --history, newest first, or replay the events
of one run through an output format.

Examples:
  hitsuite history --db runs.db
  hitsuite history --db runs.db 3f6c1a2e-... -o junit`,
	Args: cobra.MaximumNArgs(1),
	RunE: historyCommand,
}

var (
	historyDBFlag      string
	historyLimitFlag   int
	historyOutputFlag  string
	historyNoColorFlag bool
)

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", getEnvString("HITSUITE_HISTORY", ""), "SQLite database written by --history (env: HITSUITE_HISTORY)")
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Number of runs to list, 0 for all")
	historyCmd.Flags().StringVarP(&historyOutputFlag, "output", "o", output.FormatConsole, "Output format when replaying a run: console, json, junit, tap")
	historyCmd.Flags().BoolVar(&historyNoColorFlag, "no-color", getEnvBool("HITSUITE_NO_COLOR", false), "Disable colored output (env: HITSUITE_NO_COLOR)")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	path := historyDBFlag
	if path == "" {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		path = cfg.History
	}
	if path == "" {
		return usageError(errors.New("--db is required when no history database is configured"))
	}

	store, err := history.Open(path)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	defer store.Close()

	if len(args) == 1 {
		return replayRun(cmd, store, args[0])
	}
	return listRuns(cmd, store)
}

func listRuns(cmd *cobra.Command, store *history.Store) error {
	runs, err := store.Runs(cmd.Context(), historyLimitFlag)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTEST\tSTARTED\tDURATION\tSUCCEEDED\tFAILED")
	for _, r := range runs {
		duration := "running"
		if r.Finished() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.Name, r.StartedAt.Format(time.RFC3339), duration, r.Succeeded, r.Failed)
	}
	return tw.Flush()
}

func replayRun(cmd *cobra.Command, store *history.Store, id string) error {
	run, err := store.Run(cmd.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		return usageError(err)
	}
	if err != nil {
		return err
	}
	events, err := store.Events(cmd.Context(), id)
	if err != nil {
		return err
	}

	f, err := output.New(strings.ToLower(historyOutputFlag), output.Options{
		Writer:  cmd.OutOrStdout(),
		NoColor: historyNoColorFlag,
	})
	if err != nil {
		return usageError(err)
	}
	f.FormatHeader(run.Name)
	for _, ev := range events {
		f.FormatEvent(ev)
	}
	return f.Flush(testrun.Summarize(events))
}
