package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/collection"
)

var listCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List tests, requests and environments of a collection",
	Long: `List the tests defined in a collection with their entries.

Examples:
  hitsuite list api.yaml
  hitsuite list api.yaml --requests`,
	Args: cobra.ExactArgs(1),
	RunE: listCommand,
}

var listRequestsFlag bool

func init() {
	listCmd.Flags().BoolVar(&listRequestsFlag, "requests", false, "Also list saved requests and environments")
}

func listCommand(cmd *cobra.Command, args []string) error {
	col, err := collection.Load(args[0])
	if err != nil {
		return exitWith(ExitParseError, err)
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "\n%s:\n", args[0])
	for _, spec := range col.Tests() {
		fmt.Fprintf(out, "  - %s\n", spec.Name)
		for i, e := range spec.Entries {
			name := e.Name
			if name == "" {
				if req, ok := col.Request(e.RequestID); ok {
					name = req.DisplayName()
				} else {
					name = e.RequestID + " (unknown request)"
				}
			}
			skip := ""
			if e.Skip {
				skip = " [skip]"
			}
			fmt.Fprintf(out, "    %d. %s%s\n", i, name, skip)
		}
	}

	if !listRequestsFlag {
		return nil
	}

	fmt.Fprintf(out, "\nrequests:\n")
	for _, r := range col.Requests() {
		fmt.Fprintf(out, "  - %s: %s %s\n", r.ID, r.HTTPMethod(), r.URL)
	}
	fmt.Fprintf(out, "\nenvironments:\n")
	for _, e := range col.Environments() {
		active := ""
		if e.Active {
			active = " (active)"
		}
		fmt.Fprintf(out, "  - %s%s\n", e.Name, active)
	}
	return nil
}
