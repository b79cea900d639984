package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.True(t, c.IsDefault())
	assert.True(t, c.GetFollowRedirects())
	assert.True(t, c.GetValidateSSL())
	assert.False(t, c.GetStopOnFirstFailure())
	assert.Equal(t, 30*time.Second, c.TimeoutDuration())
	assert.Equal(t, "console", c.Output)
}

func TestFindAndLoadConfig(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		c, err := FindAndLoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.True(t, c.IsDefault())
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		body := `{
  "collection": "api.yaml",
  "defaultEnvironment": "staging",
  "validateSSL": false,
  "concurrency": 2,
  "rate": 10,
  "headers": {"User-Agent": "ci"},
  "notify": {"on": "recovery", "slackWebhook": "https://hooks.example/x"}
}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "hitsuite.config.json"), []byte(body), 0644))

		c, err := FindAndLoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "api.yaml", c.Collection)
		assert.Equal(t, "staging", c.DefaultEnvironment)
		assert.False(t, c.GetValidateSSL())
		assert.True(t, c.GetFollowRedirects(), "unset keys keep their defaults")
		assert.Equal(t, 2, c.Concurrency)
		assert.Equal(t, 10.0, c.Rate)
		assert.Equal(t, DefaultTimeout, c.Timeout)
		require.NotNil(t, c.Notify)
		assert.Equal(t, "recovery", c.Notify.On)
	})

	t.Run("invalid values", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".hitsuite.json"), []byte(`{"rate": -1}`), 0644))
		_, err := FindAndLoadConfig(dir)
		assert.ErrorContains(t, err, "rate must not be negative")
	})

	t.Run("malformed json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".hitsuite.json"), []byte(`{`), 0644))
		_, err := FindAndLoadConfig(dir)
		assert.Error(t, err)
	})
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Headers = map[string]string{"A": "1", "B": "1"}
	base.Notify = &NotifyConfig{On: "failure", SlackWebhook: "https://hooks.example/x"}

	merged := base.Merge(&Config{
		DefaultEnvironment: "prod",
		FollowRedirects:    BoolPtr(false),
		StopOnFirstFailure: BoolPtr(true),
		Headers:            map[string]string{"B": "2"},
		Notify:             &NotifyConfig{On: "always"},
		Rate:               5,
	})

	assert.Equal(t, "prod", merged.DefaultEnvironment)
	assert.False(t, merged.GetFollowRedirects())
	assert.True(t, merged.GetStopOnFirstFailure())
	assert.True(t, merged.GetValidateSSL())
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, merged.Headers)
	assert.Equal(t, &NotifyConfig{On: "always", SlackWebhook: "https://hooks.example/x"}, merged.Notify)
	assert.Equal(t, 5.0, merged.Rate)

	// The receiver is left untouched.
	assert.Equal(t, "1", base.Headers["B"])
	assert.Equal(t, "failure", base.Notify.On)
	assert.Same(t, base, base.Merge(nil))
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".hitsuite.json")
	c := DefaultConfig()
	c.History = "runs.db"
	require.NoError(t, c.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "runs.db", loaded.History)
}
