package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the hitsuite configuration
type Config struct {
	Collection         string            `json:"collection,omitempty"`
	DefaultEnvironment string            `json:"defaultEnvironment,omitempty"`
	EnvFile            string            `json:"envFile,omitempty"`
	Timeout            int               `json:"timeout,omitempty"` // milliseconds
	FollowRedirects    *bool             `json:"followRedirects,omitempty"`
	MaxRedirects       int               `json:"maxRedirects,omitempty"`
	ValidateSSL        *bool             `json:"validateSSL,omitempty"`
	Proxy              string            `json:"proxy,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"` // Default headers for all requests
	Concurrency        int               `json:"concurrency,omitempty"`
	Rate               float64           `json:"rate,omitempty"` // dispatches per second, 0 for unlimited
	StopOnFirstFailure *bool             `json:"stopOnFirstFailure,omitempty"`
	Output             string            `json:"output,omitempty"`
	OutputFile         string            `json:"outputFile,omitempty"`
	History            string            `json:"history,omitempty"` // SQLite path
	Listen             string            `json:"listen,omitempty"`
	Verbose            *bool             `json:"verbose,omitempty"`
	NoColor            *bool             `json:"noColor,omitempty"`
	Notify             *NotifyConfig     `json:"notify,omitempty"`
}

// NotifyConfig configures run notifications.
type NotifyConfig struct {
	On           string `json:"on,omitempty"` // always, failure, success, recovery
	SlackWebhook string `json:"slackWebhook,omitempty"`
	SlackChannel string `json:"slackChannel,omitempty"`
	Webhook      string `json:"webhook,omitempty"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

func (c *Config) GetStopOnFirstFailure() bool {
	return getBool(c.StopOnFirstFailure, false)
}

func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// TimeoutDuration returns the request timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".hitsuite.json",
	"hitsuite.config.json",
	".hitsuiterc",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return config, nil
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency must not be negative"))
	}
	if c.Rate < 0 {
		errs = append(errs, errors.New("rate must not be negative"))
	}
	if c.MaxRedirects < 0 {
		errs = append(errs, errors.New("maxRedirects must not be negative"))
	}
	return errors.Join(errs...)
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.Collection != "" {
		result.Collection = other.Collection
	}
	if other.DefaultEnvironment != "" {
		result.DefaultEnvironment = other.DefaultEnvironment
	}
	if other.EnvFile != "" {
		result.EnvFile = other.EnvFile
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.Concurrency > 0 {
		result.Concurrency = other.Concurrency
	}
	if other.Rate > 0 {
		result.Rate = other.Rate
	}
	if other.Output != "" {
		result.Output = other.Output
	}
	if other.OutputFile != "" {
		result.OutputFile = other.OutputFile
	}
	if other.History != "" {
		result.History = other.History
	}
	if other.Listen != "" {
		result.Listen = other.Listen
	}

	// Boolean flags - only override if explicitly set in other config
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.StopOnFirstFailure != nil {
		result.StopOnFirstFailure = other.StopOnFirstFailure
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.Headers) > 0 {
		merged := make(map[string]string, len(result.Headers)+len(other.Headers))
		for k, v := range result.Headers {
			merged[k] = v
		}
		for k, v := range other.Headers {
			merged[k] = v
		}
		result.Headers = merged
	}

	if other.Notify != nil {
		n := NotifyConfig{}
		if result.Notify != nil {
			n = *result.Notify
		}
		if other.Notify.On != "" {
			n.On = other.Notify.On
		}
		if other.Notify.SlackWebhook != "" {
			n.SlackWebhook = other.Notify.SlackWebhook
		}
		if other.Notify.SlackChannel != "" {
			n.SlackChannel = other.Notify.SlackChannel
		}
		if other.Notify.Webhook != "" {
			n.Webhook = other.Notify.Webhook
		}
		result.Notify = &n
	}

	return &result
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
