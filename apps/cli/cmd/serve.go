package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/export/metrics"
	"github.com/abdul-hamid-achik/hitsuite/packages/server"
)

const readHeaderTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [collection]",
	Short: "Serve a collection over HTTP",
	Long: `Serve the tests of a collection over HTTP. Runs are started with POST
and their events can be followed by any number of clients as a
server-sent event stream, from the beginning, at any time.

Endpoints:
  GET    /healthz
  GET    /metrics
  GET    /v1/status
  POST   /v1/reload
  GET    /v1/tests
  POST   /v1/tests/{name}/runs
  POST   /v1/runs
  GET    /v1/runs
  GET    /v1/runs/{id}
  GET    /v1/runs/{id}/events
  DELETE /v1/runs/{id}

Examples:
  hitsuite serve api.yaml --listen :8080
  hitsuite serve api.yaml --history runs.db --env staging`,
	Args: cobra.MaximumNArgs(1),
	RunE: serveCommand,
}

var (
	serveFlags  engineFlags
	listenFlag  string
	maxRunsFlag int
)

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().StringVarP(&listenFlag, "listen", "l", getEnvString("HITSUITE_LISTEN", config.DefaultListen), "Address to listen on (env: HITSUITE_LISTEN)")
	serveCmd.Flags().IntVar(&maxRunsFlag, "max-runs", getEnvInt("HITSUITE_MAX_RUNS", 100), "Finished runs kept in memory (env: HITSUITE_MAX_RUNS)")
}

func serveCommand(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	overrides, err := serveFlags.overrides(cmd)
	if err != nil {
		return err
	}
	if flagSet(cmd, "listen", "HITSUITE_LISTEN") {
		overrides.Listen = listenFlag
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}

	path := cfg.Collection
	if len(args) == 1 {
		path = args[0]
	}

	rec := metrics.NewRecorder()
	st, err := buildStack(cfg, path, logger, rec)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(rec),
		server.WithEnvironmentName(st.envName),
		server.WithMaxRuns(maxRunsFlag),
	}
	if st.store != nil {
		opts = append(opts, server.WithHistory(st.store))
	}
	if st.notifier != nil {
		opts = append(opts, server.WithNotifier(st.notifier))
	}
	srv := server.NewServer(cfg.Listen, st.collection, st.engine, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return exitWith(ExitNetworkError, err)
	}
	return nil
}
