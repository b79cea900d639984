package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/collection"
)

var validateCmd = &cobra.Command{
	Use:   "validate <collection...>",
	Short: "Validate collection files without running them",
	Long: `Check collection files against the collection schema and report
entries that point at unknown requests.

Examples:
  hitsuite validate api.yaml
  hitsuite validate api.yaml admin.yaml --strict`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

var strictFlag bool

func init() {
	validateCmd.Flags().BoolVar(&strictFlag, "strict", false, "Treat warnings as errors")
}

func validateCommand(cmd *cobra.Command, args []string) error {
	hasErrors := false
	for _, path := range args {
		col, err := collection.Load(path)
		if err != nil {
			hasErrors = true
			var verr *collection.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Invalid: %s\n", path)
				for _, p := range verr.Problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
				}
				continue
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", path, err)
			continue
		}

		warnings := col.Lint()
		for _, w := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %s\n", path, w)
		}
		if strictFlag && len(warnings) > 0 {
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s\n", path)
	}

	if hasErrors {
		return exitWith(ExitParseError, errors.New("validation failed"))
	}
	return nil
}
