package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.True(t, Default().UseSSL())
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("s3:\n  endpoint: localhost:9000\n  region: eu-west-1\nserver:\n  session_ttl: 30m\n"), 0o600))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "localhost:9000", cfg.S3.Endpoint)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL)
	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddress)
	assert.Equal(t, DefaultStoreURL(), cfg.Store.URL)
	assert.False(t, cfg.UseSSL())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestLoadBadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("s3: [unclosed"), 0o600))

	_, err := Load(cfgPath)
	assert.ErrorContains(t, err, "parse config file")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"IRON_ENDPOINT":             "minio:9000",
		"IRON_REGION":               "ap-south-1",
		"IRON_USE_SSL":              "true",
		"IRON_RETRIES":              "3",
		"IRON_KV_URL":               "redis://cache:6379/1",
		"IRON_SESSION_TTL":          "1h",
		"IRON_TRACING_ENABLED":      "1",
		"IRON_TRACING_SAMPLE_RATIO": "0.25",
	}))
	require.NoError(t, err)

	assert.Equal(t, "minio:9000", cfg.S3.Endpoint)
	assert.Equal(t, "ap-south-1", cfg.S3.Region)
	assert.True(t, cfg.UseSSL(), "explicit setting beats the endpoint heuristic")
	assert.Equal(t, 3, cfg.S3.Retries)
	assert.Equal(t, 3, cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.URL)
	assert.Equal(t, time.Hour, cfg.Server.SessionTTL)
	assert.True(t, cfg.Tracing.Enabled)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRatio, 1e-9)
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"IRON_USE_SSL":     "sometimes",
		"IRON_RETRIES":     "many",
		"IRON_SESSION_TTL": "forever",
	}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "IRON_USE_SSL")
	assert.ErrorContains(t, err, "IRON_RETRIES")
	assert.ErrorContains(t, err, "IRON_SESSION_TTL")
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.S3.Endpoint = ""
	cfg.Log.Format = "xml"
	cfg.Log.Level = "loud"
	cfg.Tracing.SampleRatio = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "s3.endpoint is required")
	assert.ErrorContains(t, err, "log.format")
	assert.ErrorContains(t, err, "log.level")
	assert.ErrorContains(t, err, "tracing.sample_ratio")
}

func TestBaseCredentials(t *testing.T) {
	cfg := Default()
	cfg.S3.Endpoint = "http://localhost:9000"

	base := cfg.BaseCredentials()
	assert.Equal(t, "localhost:9000", base.Endpoint)
	assert.False(t, base.UseSSL)
	assert.Empty(t, base.SecretAccessKey)
}
