package config

// Default values used when neither the config file nor flags set them.
const (
	DefaultTimeout      = 30000 // milliseconds
	DefaultMaxRedirects = 10
	DefaultConcurrency  = 5
	DefaultOutput       = "console"
	DefaultListen       = "127.0.0.1:8080"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:         DefaultTimeout,
		FollowRedirects: BoolPtr(true),
		MaxRedirects:    DefaultMaxRedirects,
		ValidateSSL:     BoolPtr(true),
		Concurrency:     DefaultConcurrency,
		Output:          DefaultOutput,
		Listen:          DefaultListen,
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	d := DefaultConfig()
	return c.Collection == d.Collection &&
		c.DefaultEnvironment == d.DefaultEnvironment &&
		c.EnvFile == d.EnvFile &&
		c.Timeout == d.Timeout &&
		c.GetFollowRedirects() == d.GetFollowRedirects() &&
		c.MaxRedirects == d.MaxRedirects &&
		c.GetValidateSSL() == d.GetValidateSSL() &&
		c.Proxy == d.Proxy &&
		len(c.Headers) == 0 &&
		c.Concurrency == d.Concurrency &&
		c.Rate == d.Rate &&
		c.GetStopOnFirstFailure() == d.GetStopOnFirstFailure() &&
		c.Output == d.Output &&
		c.OutputFile == d.OutputFile &&
		c.History == d.History &&
		c.Listen == d.Listen &&
		c.GetVerbose() == d.GetVerbose() &&
		c.GetNoColor() == d.GetNoColor() &&
		c.Notify == nil
}
