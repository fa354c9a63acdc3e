package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkintolaX/sureinv-financing/internal/core"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sureinv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultMatchesCoreParams(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, core.DefaultParams(), cfg.Params())
	assert.Equal(t, 30*24*time.Hour, cfg.Settlement.GracePeriod)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
log_level: debug
server:
  grpc_addr: ":7000"
pipeline:
  persist_flush_timeout: 25ms
settlement:
  grace_period: 168h
  protocol_fee_bps: 500
  weights:
    amount: 200
    term: 200
    credit: 100
    industry: 100
    history: 100
`)
	t.Setenv("SUREINV_GRPC_ADDR", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":7000", cfg.Server.GRPCAddr)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr, "unset keys keep defaults")
	assert.Equal(t, 25*time.Millisecond, cfg.Pipeline.PersistFlushTimeout)
	assert.Equal(t, int64(7*86400), cfg.Params().GracePeriodSeconds)
	assert.Equal(t, int64(500), cfg.Params().ProtocolFeeBps)
	assert.Equal(t, int64(200), cfg.Params().Risk.Weights.Amount)
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	path := writeFile(t, "settlement:\n  grace_days: 30\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grace_days")
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.decodeYAML(nil))
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverridesFile(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.decodeYAML([]byte("nats:\n  url: nats://file:4222\n")))

	err := cfg.applyEnv(envMap(map[string]string{
		"SUREINV_NATS_URL":         "nats://env:4222",
		"SUREINV_GRACE_PERIOD":     "48h",
		"SUREINV_PROTOCOL_FEE_BPS": "250",
		"SUREINV_NATS_ENABLED":     "false",
		"SUREINV_JWT_SECRET":       "s3cret",
	}))
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, int64(2*86400), cfg.Params().GracePeriodSeconds)
	assert.Equal(t, int64(250), cfg.Params().ProtocolFeeBps)
}

func TestEnvParseErrorsAreJoined(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"SUREINV_PERSIST_BATCH_SIZE": "lots",
		"SUREINV_GRACE_PERIOD":       "30 days",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUREINV_PERSIST_BATCH_SIZE")
	assert.Contains(t, err.Error(), "SUREINV_GRACE_PERIOD")
}

func TestValidateRejectsBadSettlement(t *testing.T) {
	cases := map[string]func(*Config){
		"zero grace":        func(c *Config) { c.Settlement.GracePeriod = 0 },
		"negative bps":      func(c *Config) { c.Settlement.LateFeeDailyBps = -1 },
		"weight over 1000":  func(c *Config) { c.Settlement.Weights.Credit = 1001 },
		"no dsn":            func(c *Config) { c.Postgres.DSN = "" },
		"nats without url":  func(c *Config) { c.NATS.URL = "" },
		"zero channel size": func(c *Config) { c.Pipeline.PublishChanSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
