package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironbell/sourced/pkg/sourced/config"
)

func TestConfig_Accessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":     "balances",
		"enabled":  true,
		"count":    42,
		"big":      int64(1 << 40),
		"ratio":    1.5,
		"whole":    float64(7),
		"interval": "250ms",
		"types":    []any{"a", "b"},
	})

	assert.Equal(t, "balances", cfg.String("name", "fallback"))
	assert.Equal(t, "fallback", cfg.String("missing", "fallback"))

	assert.True(t, cfg.Bool("enabled", false))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, 42, cfg.Int("count", 0))
	assert.Equal(t, 9, cfg.Int("missing", 9))
	assert.Equal(t, int64(1<<40), cfg.Int64("big", 0))
	assert.Equal(t, 1.5, cfg.Float("ratio", 0))
	assert.Equal(t, 7.0, cfg.Float("whole", 0))

	assert.Equal(t, 250*time.Millisecond, cfg.Duration("interval", time.Second))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("types", nil))

	assert.True(t, cfg.Has("name"))
	assert.False(t, cfg.Has("missing"))
}

func TestConfig_WrongTypeFallsBack(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":     123,
		"count":    "not a number",
		"fraction": 1.5,
		"types":    []any{"a", 2},
	})

	assert.Equal(t, "fallback", cfg.String("name", "fallback"))
	assert.Equal(t, 9, cfg.Int("count", 9))

	// A fractional float does not silently truncate to an int.
	assert.Equal(t, 9, cfg.Int("fraction", 9))

	assert.Equal(t, []string{"x"}, cfg.StringSlice("types", []string{"x"}))
}

func TestConfig_DurationForms(t *testing.T) {
	cfg := config.New(map[string]any{
		"str":     "1m30s",
		"seconds": 30,
		"float":   0.5,
		"bad":     "not a duration",
	})

	assert.Equal(t, 90*time.Second, cfg.Duration("str", 0))
	assert.Equal(t, 30*time.Second, cfg.Duration("seconds", 0))
	assert.Equal(t, 500*time.Millisecond, cfg.Duration("float", 0))
	assert.Equal(t, time.Minute, cfg.Duration("bad", time.Minute))
}

func TestConfig_Sub(t *testing.T) {
	cfg := config.New(map[string]any{
		"retry": map[string]any{
			"max_attempts": 5,
		},
		"scalar": "nope",
	})

	assert.Equal(t, 5, cfg.Sub("retry").Int("max_attempts", 0))
	assert.Equal(t, 3, cfg.Sub("missing").Int("max_attempts", 3))
	assert.Equal(t, 3, cfg.Sub("scalar").Int("max_attempts", 3))
}

func TestConfig_NilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.Equal(t, "fallback", cfg.String("anything", "fallback"))
	assert.False(t, cfg.Has("anything"))
}

const yamlConfig = `
retry:
  max_attempts: 5
  base_delay: 50ms
  backoff_multiplier: 3.0
breaker:
  failure_threshold: 2
  recovery_timeout: 10s
`

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(yamlConfig))
	require.NoError(t, err)

	retry := cfg.Sub("retry")
	assert.Equal(t, 5, retry.Int("max_attempts", 0))
	assert.Equal(t, 50*time.Millisecond, retry.Duration("base_delay", 0))
	assert.Equal(t, 3.0, retry.Float("backoff_multiplier", 0))
}

func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte("retry: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"breaker":{"failure_threshold":2,"recovery_timeout":"10s"}}`))
	require.NoError(t, err)

	breaker := cfg.Sub("breaker")
	assert.Equal(t, 2, breaker.Int("failure_threshold", 0))
	assert.Equal(t, 10*time.Second, breaker.Duration("recovery_timeout", 0))
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := config.FromJSON([]byte(`{"broken"`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlConfig), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sub("retry").Int("max_attempts", 0))

	jsonPath := filepath.Join(dir, "pipeline.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"balances"}`), 0o644))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "balances", cfg.String("name", ""))
}

func TestFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	require.NoError(t, os.WriteFile(path, []byte("a = 1"), 0o644))

	_, err := config.FromFile(path)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

func TestFromFile_Missing(t *testing.T) {
	_, err := config.FromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
