package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/export/metrics"
	"github.com/abdul-hamid-achik/hitsuite/packages/notify"
	"github.com/abdul-hamid-achik/hitsuite/packages/output"
)

var runCmd = &cobra.Command{
	Use:   "run [collection] [test...]",
	Short: "Run tests from a collection",
	Long: `Run one or more tests of a collection file. Without test names every
test in the collection runs, one after another.

The collection argument may be left out when the config file names one.

Examples:
  hitsuite run api.yaml
  hitsuite run api.yaml smoke --env staging
  hitsuite run api.yaml smoke --set token=abc --stop-on-failure
  hitsuite run api.yaml smoke -o junit --output-file report.xml
  hitsuite run api.yaml --output json --output-file "reports/{test}.json"
  hitsuite run api.yaml smoke --watch`,
	RunE: runCommand,
}

// testPlaceholder in --output-file is replaced by the test name.
const testPlaceholder = "{test}"

var (
	runFlags          engineFlags
	setFlag           []string
	stopOnFailureFlag bool
	outputFlag        string
	outputFileFlag    string
	verboseFlag       bool
	noColorFlag       bool
	watchFlag         bool
	metricsAddrFlag   string
)

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringArrayVar(&setFlag, "set", nil, "Override a variable for this run, as name=value (repeatable)")
	runCmd.Flags().BoolVar(&stopOnFailureFlag, "stop-on-failure", getEnvBool("HITSUITE_STOP_ON_FAILURE", false), "Stop each test at its first failed request (env: HITSUITE_STOP_ON_FAILURE)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("HITSUITE_OUTPUT", output.FormatConsole), "Output format: console, json, junit, tap (env: HITSUITE_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("HITSUITE_OUTPUT_FILE", ""), "Write output to file; {test} expands to the test name (env: HITSUITE_OUTPUT_FILE)")
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("HITSUITE_VERBOSE", false), "Show STARTED events and response details (env: HITSUITE_VERBOSE)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("HITSUITE_NO_COLOR", false), "Disable colored output (env: HITSUITE_NO_COLOR)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch the collection and re-run on change")
	runCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", getEnvString("HITSUITE_METRICS_ADDR", ""), "Serve Prometheus metrics on this address while running (env: HITSUITE_METRICS_ADDR)")
}

// runOverrides adds the run-only flags to the shared ones.
func runOverrides(cmd *cobra.Command) (*config.Config, error) {
	c, err := runFlags.overrides(cmd)
	if err != nil {
		return nil, err
	}
	if flagSet(cmd, "stop-on-failure", "HITSUITE_STOP_ON_FAILURE") {
		c.StopOnFirstFailure = config.BoolPtr(stopOnFailureFlag)
	}
	if flagSet(cmd, "output", "HITSUITE_OUTPUT") {
		c.Output = outputFlag
	}
	if flagSet(cmd, "output-file", "HITSUITE_OUTPUT_FILE") {
		c.OutputFile = outputFileFlag
	}
	if flagSet(cmd, "verbose", "HITSUITE_VERBOSE") {
		c.Verbose = config.BoolPtr(verboseFlag)
	}
	if flagSet(cmd, "no-color", "HITSUITE_NO_COLOR") {
		c.NoColor = config.BoolPtr(noColorFlag)
	}
	return c, nil
}

// parseAssignments turns name=value pairs into override variables.
func parseAssignments(pairs []string) ([]env.Variable, error) {
	vars := make([]env.Variable, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q (want name=value)", p)
		}
		vars = append(vars, env.Variable{Name: name, Value: value})
	}
	return vars, nil
}

// splitRunArgs separates the collection path from test names. The first
// argument is the collection when it names an existing file or when no
// collection is configured.
func splitRunArgs(args []string, configured string) (string, []string) {
	if len(args) > 0 {
		if info, err := os.Stat(args[0]); (err == nil && !info.IsDir()) || configured == "" {
			return args[0], args[1:]
		}
	}
	return configured, args
}

// runPlan is what one execution of the run command does.
type runPlan struct {
	stack  *stack
	cfg    *config.Config
	tests  []string
	extra  []env.Variable
	out    io.Writer
	errOut io.Writer
}

func runCommand(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	overrides, err := runOverrides(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}
	extra, err := parseAssignments(setFlag)
	if err != nil {
		return usageError(err)
	}

	path, tests := splitRunArgs(args, cfg.Collection)
	format := strings.ToLower(cfg.Output)
	if _, err := output.New(format, output.Options{Writer: io.Discard}); err != nil {
		return usageError(err)
	}

	var rec *metrics.Recorder
	if metricsAddrFlag != "" {
		rec = metrics.NewRecorder()
	}

	st, err := buildStack(cfg, path, logger, rec)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(tests) == 0 {
		for _, spec := range st.collection.Tests() {
			tests = append(tests, spec.Name)
		}
		if len(tests) == 0 {
			return exitWith(ExitParseError, fmt.Errorf("%s defines no tests", path))
		}
	}
	if format != output.FormatConsole && len(tests) > 1 && cfg.OutputFile != "" && !strings.Contains(cfg.OutputFile, testPlaceholder) {
		return usageError(fmt.Errorf("--output-file must contain %s when %s output covers several tests", testPlaceholder, format))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rec != nil {
		go serveMetrics(ctx, metricsAddrFlag, rec, logger)
	}

	plan := &runPlan{
		stack:  st,
		cfg:    cfg,
		tests:  tests,
		extra:  extra,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}

	passed, err := plan.execute(ctx)
	if err != nil {
		return err
	}
	if watchFlag {
		return watch(ctx, plan)
	}
	if !passed {
		return exitWith(ExitTestFailure, nil)
	}
	return nil
}

// execute runs every planned test in order and reports whether all of
// them passed. A cancelled context stops after the current test.
func (p *runPlan) execute(ctx context.Context) (bool, error) {
	allPassed := true
	for _, name := range p.tests {
		if ctx.Err() != nil {
			return false, nil
		}
		passed, err := p.runTest(ctx, name)
		if err != nil {
			return false, err
		}
		allPassed = allPassed && passed
	}
	return allPassed, nil
}

func (p *runPlan) runTest(ctx context.Context, name string) (bool, error) {
	spec, err := p.stack.collection.Test(name)
	if err != nil {
		return false, usageError(err)
	}
	spec.EnvironmentOverrides = append(spec.EnvironmentOverrides, p.extra...)
	if p.cfg.StopOnFirstFailure != nil {
		spec.StopOnFirstFailure = *p.cfg.StopOnFirstFailure
	}

	w, closeOut, err := p.writer(name)
	if err != nil {
		return false, exitWith(ExitConfigError, err)
	}
	defer closeOut()

	f, err := output.New(strings.ToLower(p.cfg.Output), output.Options{
		Writer:  w,
		Verbose: p.cfg.GetVerbose(),
		NoColor: p.cfg.GetNoColor(),
	})
	if err != nil {
		return false, usageError(err)
	}

	res, err := p.stack.engine.Run(ctx, spec, testrun.Hooks{})
	if err != nil {
		return false, exitWith(ExitParseError, err)
	}
	log := p.stack.logger.WithFields(logrus.Fields{"run_id": res.ID, "test": name})

	recorded := make(chan struct{})
	if p.stack.store != nil {
		go func() {
			defer close(recorded)
			// Recording must see the whole run even if ctx is cancelled;
			// cancellation still closes the stream.
			if err := p.stack.store.Record(context.WithoutCancel(ctx), res); err != nil {
				log.WithError(err).Error("recording run history")
			}
		}()
	} else {
		close(recorded)
	}

	summary, err := output.Consume(context.WithoutCancel(ctx), res, f)
	<-recorded
	if err != nil {
		return false, fmt.Errorf("error writing output: %w", err)
	}

	if p.stack.notifier != nil {
		if err := p.stack.notifier.Notify(context.WithoutCancel(ctx), notify.NewRunSummary(res.ID, name, p.stack.envName, summary)); err != nil {
			fmt.Fprintf(p.errOut, "warning: failed to send notification: %v\n", err)
		}
	}
	return summary.Passed(), nil
}

// writer opens the output destination for one test.
func (p *runPlan) writer(test string) (io.Writer, func(), error) {
	if p.cfg.OutputFile == "" {
		return p.out, func() {}, nil
	}
	path := strings.ReplaceAll(p.cfg.OutputFile, testPlaceholder, test)
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, rec *metrics.Recorder, logger logrus.FieldLogger) {
	srv := &nethttp.Server{Addr: addr, Handler: rec.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		logger.WithError(err).Error("metrics server")
	}
}
