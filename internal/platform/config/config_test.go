package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Capture.EnrollmentFrames)
	assert.Equal(t, 3, cfg.Capture.VerificationFrames)
	assert.Equal(t, 800*time.Millisecond, cfg.Capture.Interval)
	assert.Equal(t, 2, cfg.Verification.FailureThreshold)
	assert.Equal(t, 6, cfg.Verification.CredentialMaxLength)
	assert.Zero(t, cfg.Gateway.Timeout, "collaborator calls are unbounded by default")
	assert.Equal(t, 2*time.Minute, cfg.Server.FlowIdleTTL)
	assert.True(t, cfg.UsesDevSigningKey())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"IRISVAULT_ADDR":                  ":9000",
		"IRISVAULT_GATEWAY_URL":           "http://bank.internal/api",
		"IRISVAULT_GATEWAY_TIMEOUT":       "15s",
		"IRISVAULT_FAILURE_THRESHOLD":     "3",
		"IRISVAULT_AUDIT_SINK":            "kafka",
		"IRISVAULT_KAFKA_BROKERS":         "k1:9092, k2:9092,",
		"IRISVAULT_ALLOW_INSECURE_ORIGIN": "true",
		"IRISVAULT_RATE_LIMIT_DISABLED":   "true",
		"IRISVAULT_FLOW_IDLE_TTL":         "45s",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "http://bank.internal/api", cfg.Gateway.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 3, cfg.Verification.FailureThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.KafkaBrokers)
	assert.True(t, cfg.Server.AllowInsecureOrigin)
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 45*time.Second, cfg.Server.FlowIdleTTL)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"IRISVAULT_GATEWAY_TIMEOUT":   "soon",
		"IRISVAULT_FAILURE_THRESHOLD": "two",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IRISVAULT_GATEWAY_TIMEOUT")
	assert.Contains(t, err.Error(), "IRISVAULT_FAILURE_THRESHOLD")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"snapshot without url", func(c *Config) { c.Camera.Source = "snapshot" }, "snapshot URL"},
		{"unknown camera", func(c *Config) { c.Camera.Source = "webcam" }, "unknown camera source"},
		{"postgres without dsn", func(c *Config) { c.Audit.Sink = "postgres" }, "database URL"},
		{"kafka without brokers", func(c *Config) { c.Audit.Sink = "kafka" }, "brokers"},
		{"unknown capture mode", func(c *Config) { c.Capture.Mode = "burst" }, "unknown capture mode"},
		{"zero threshold", func(c *Config) { c.Verification.FailureThreshold = 0 }, "failure threshold"},
		{"empty signing key", func(c *Config) { c.Handoff.SigningKey = "" }, "signing key"},
		{"negative idle ttl", func(c *Config) { c.Server.FlowIdleTTL = -time.Second }, "idle TTL"},
		{"zero rate limit", func(c *Config) { c.RateLimit.AccountLookups = 0 }, "rate limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway:
  base_url: http://collaborator:8000/api
capture:
  interval: 500ms
verification:
  failure_threshold: 4
audit:
  sink: postgres
  database_url: postgres://kiosk@db/audit
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://collaborator:8000/api", cfg.Gateway.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.Interval)
	assert.Equal(t, 4, cfg.Verification.FailureThreshold)
	assert.Equal(t, "postgres", cfg.Audit.Sink)
	assert.Equal(t, 5, cfg.Capture.EnrollmentFrames, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
