package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitsuite/packages/collection"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/config"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/export/metrics"
	"github.com/abdul-hamid-achik/hitsuite/packages/history"
	"github.com/abdul-hamid-achik/hitsuite/packages/http"
	"github.com/abdul-hamid-achik/hitsuite/packages/notify"
)

// engineFlags are the flags shared by commands that execute requests.
type engineFlags struct {
	env          string
	envFile      string
	concurrency  int
	rate         float64
	timeout      string
	proxy        string
	insecure     bool
	history      string
	notify       string
	notifyOn     string
	slackWebhook string
	slackChannel string
	webhookURL   string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.env, "env", "e", getEnvString("HITSUITE_ENV", ""), "Collection environment (default: the one marked active) (env: HITSUITE_ENV)")
	fl.StringVar(&f.envFile, "env-file", getEnvString("HITSUITE_ENV_FILE", ""), "Path to .env file with base variables (env: HITSUITE_ENV_FILE)")
	fl.IntVar(&f.concurrency, "concurrency", getEnvInt("HITSUITE_CONCURRENCY", config.DefaultConcurrency), "Maximum requests in flight (env: HITSUITE_CONCURRENCY)")
	fl.Float64Var(&f.rate, "rate", getEnvFloat("HITSUITE_RATE", 0), "Maximum requests started per second, 0 for no limit (env: HITSUITE_RATE)")
	fl.StringVar(&f.timeout, "timeout", getEnvString("HITSUITE_TIMEOUT", "30s"), "Request timeout (e.g., 30s, 1m) (env: HITSUITE_TIMEOUT)")
	fl.StringVar(&f.proxy, "proxy", getEnvString("HITSUITE_PROXY", ""), "Proxy URL for HTTP requests (env: HITSUITE_PROXY)")
	fl.BoolVarP(&f.insecure, "insecure", "k", getEnvBool("HITSUITE_INSECURE", false), "Disable SSL certificate validation (env: HITSUITE_INSECURE)")
	fl.StringVar(&f.history, "history", getEnvString("HITSUITE_HISTORY", ""), "Record runs in this SQLite database (env: HITSUITE_HISTORY)")

	fl.StringVar(&f.notify, "notify", getEnvString("HITSUITE_NOTIFY", ""), "Notification services: slack, webhook (env: HITSUITE_NOTIFY)")
	fl.StringVar(&f.notifyOn, "notify-on", getEnvString("HITSUITE_NOTIFY_ON", ""), "When to notify: always, failure, success, recovery (env: HITSUITE_NOTIFY_ON)")
	fl.StringVar(&f.slackWebhook, "slack-webhook", getEnvString("SLACK_WEBHOOK", ""), "Slack webhook URL (env: SLACK_WEBHOOK)")
	fl.StringVar(&f.slackChannel, "slack-channel", getEnvString("SLACK_CHANNEL", ""), "Slack channel override (env: SLACK_CHANNEL)")
	fl.StringVar(&f.webhookURL, "webhook-url", getEnvString("HITSUITE_WEBHOOK", ""), "Generic webhook URL (env: HITSUITE_WEBHOOK)")
}

// overrides returns the settings given explicitly, as a config to merge
// over the file's.
func (f *engineFlags) overrides(cmd *cobra.Command) (*config.Config, error) {
	c := &config.Config{}
	if flagSet(cmd, "env", "HITSUITE_ENV") {
		c.DefaultEnvironment = f.env
	}
	if flagSet(cmd, "env-file", "HITSUITE_ENV_FILE") {
		c.EnvFile = f.envFile
	}
	if flagSet(cmd, "concurrency", "HITSUITE_CONCURRENCY") {
		if f.concurrency <= 0 {
			return nil, usageError(fmt.Errorf("--concurrency must be positive"))
		}
		c.Concurrency = f.concurrency
	}
	if flagSet(cmd, "rate", "HITSUITE_RATE") {
		if f.rate < 0 {
			return nil, usageError(fmt.Errorf("--rate must not be negative"))
		}
		c.Rate = f.rate
	}
	if flagSet(cmd, "timeout", "HITSUITE_TIMEOUT") {
		d, err := time.ParseDuration(f.timeout)
		if err != nil || d <= 0 {
			return nil, usageError(fmt.Errorf("invalid timeout value %q (use format like 30s, 1m, 500ms)", f.timeout))
		}
		c.Timeout = int(d / time.Millisecond)
	}
	if flagSet(cmd, "proxy", "HITSUITE_PROXY") {
		c.Proxy = f.proxy
	}
	if flagSet(cmd, "insecure", "HITSUITE_INSECURE") {
		c.ValidateSSL = config.BoolPtr(!f.insecure)
	}
	if flagSet(cmd, "history", "HITSUITE_HISTORY") {
		c.History = f.history
	}

	n := &config.NotifyConfig{On: f.notifyOn, SlackChannel: f.slackChannel}
	for _, service := range splitList(f.notify) {
		switch strings.ToLower(service) {
		case "slack":
			if f.slackWebhook == "" {
				return nil, usageError(fmt.Errorf("--slack-webhook is required when using --notify slack"))
			}
			n.SlackWebhook = f.slackWebhook
		case "webhook":
			if f.webhookURL == "" {
				return nil, usageError(fmt.Errorf("--webhook-url is required when using --notify webhook"))
			}
			n.Webhook = f.webhookURL
		default:
			return nil, usageError(fmt.Errorf("unknown notification service %q", service))
		}
	}
	if *n != (config.NotifyConfig{}) {
		c.Notify = n
	}
	return c, nil
}

// loadConfig reads the config file and merges the explicit flags over it.
func loadConfig(overrides *config.Config) (*config.Config, error) {
	file, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, exitWith(ExitConfigError, fmt.Errorf("loading config: %w", err))
	}
	cfg := file.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, exitWith(ExitConfigError, err)
	}
	return cfg, nil
}

// stack is everything needed to run tests of one collection.
type stack struct {
	collection *collection.Collection
	engine     *testrun.Engine
	store      *history.Store
	notifier   *notify.Manager
	envName    string
	logger     *logrus.Logger
}

func (s *stack) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Warn("closing history database")
		}
	}
}

// buildStack loads the collection and wires client, executor, engine,
// history and notifications from cfg. rec may be nil.
func buildStack(cfg *config.Config, path string, logger *logrus.Logger, rec *metrics.Recorder) (*stack, error) {
	if path == "" {
		return nil, usageError(errors.New("no collection given and none configured"))
	}
	col, err := collection.Load(path)
	if err != nil {
		return nil, exitWith(ExitParseError, err)
	}

	selected, err := col.Select(cfg.DefaultEnvironment)
	if err != nil {
		return nil, exitWith(ExitConfigError, err)
	}
	envName := ""
	if selected != nil {
		envName = selected.Name
	}

	var base *env.Environment
	if cfg.EnvFile != "" {
		base, err = env.DotEnvEnvironment(cfg.EnvFile)
		if err != nil {
			return nil, exitWith(ExitConfigError, err)
		}
	}

	client := http.NewClient(
		http.WithTimeout(cfg.TimeoutDuration()),
		http.WithFollowRedirects(cfg.GetFollowRedirects()),
		http.WithMaxRedirects(cfg.MaxRedirects),
		http.WithValidateSSL(cfg.GetValidateSSL()),
		http.WithProxy(cfg.Proxy),
		http.WithDefaultHeaders(cfg.Headers),
		http.WithLogger(logger),
	)
	executor := runner.NewExecutor(client,
		runner.WithEnvironments(col, cfg.DefaultEnvironment),
		runner.WithBaseEnvironment(base),
		runner.WithLogger(logger),
	)

	opts := []testrun.Option{
		testrun.WithConcurrency(cfg.Concurrency),
		testrun.WithRate(cfg.Rate),
		testrun.WithLogger(logger),
	}
	if rec != nil {
		opts = append(opts, testrun.WithObserver(rec))
	}

	s := &stack{
		collection: col,
		engine:     testrun.NewEngine(col, executor, opts...),
		envName:    envName,
		logger:     logger,
	}

	if cfg.History != "" {
		s.store, err = history.Open(cfg.History)
		if err != nil {
			return nil, exitWith(ExitConfigError, err)
		}
	}

	s.notifier, err = buildNotifier(cfg.Notify, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// buildNotifier returns nil when no service is configured.
func buildNotifier(c *config.NotifyConfig, logger *logrus.Logger) (*notify.Manager, error) {
	if c == nil {
		return nil, nil
	}
	on, err := notify.ParseNotifyOn(c.On)
	if err != nil {
		return nil, exitWith(ExitConfigError, err)
	}

	var notifiers []notify.Notifier
	if c.SlackWebhook != "" {
		var opts []notify.SlackOption
		if c.SlackChannel != "" {
			opts = append(opts, notify.WithSlackChannel(c.SlackChannel))
		}
		notifiers = append(notifiers, notify.NewSlackNotifier(c.SlackWebhook, opts...))
	}
	if c.Webhook != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(c.Webhook))
	}
	if len(notifiers) == 0 {
		return nil, nil
	}

	m := notify.NewManager(on, notifiers...)
	m.SetLogger(logger)
	return m, nil
}
