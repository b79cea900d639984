package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	logLevelFlag string
	configFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "hitsuite",
	Short: "Run collections of saved HTTP requests as tests.",
	Long: `hitsuite runs the tests of a request collection and streams every
request's STARTED, SUCCEEDED and FAILED events to the terminal, a report
file, a SQLite history or any number of HTTP subscribers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code the command chose.
func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		os.Exit(report(err))
	}
}

// report prints err unless it was already shown and returns the exit code.
func report(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitUsageError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", getEnvString("HITSUITE_LOG_LEVEL", "warn"), "Log level: debug, info, warn, error (env: HITSUITE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", getEnvString("HITSUITE_CONFIG", ""), "Path to config file (env: HITSUITE_CONFIG)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. Logs go to stderr so they never mix
// with report output.
func newLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(logLevelFlag)
	if err != nil {
		return nil, usageError(fmt.Errorf("invalid --log-level: %w", err))
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
