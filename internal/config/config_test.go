package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	for _, env := range Environments() {
		cfg, err := Resolve(env)
		require.NoError(t, err, env)
		assert.Equal(t, env, cfg.Environment)
		assert.NotEmpty(t, cfg.AccountContractID)
		assert.NotEmpty(t, cfg.BridgeContractID)
		assert.NotEmpty(t, cfg.NearRPCEndpoints)
	}

	mainnet, err := Resolve(types.EnvironmentMainnet)
	require.NoError(t, err)
	assert.True(t, mainnet.IsMainnet())
	assert.Equal(t, "nbtc.bridge.near", mainnet.BTCToken)

	_, err = Resolve("staging")
	assert.Error(t, err)
}

func TestResolveReturnsCopy(t *testing.T) {
	first, err := Resolve(types.EnvironmentTestnet)
	require.NoError(t, err)
	first.NearRPCEndpoints[0] = "http://mutated"

	second, err := Resolve(types.EnvironmentTestnet)
	require.NoError(t, err)
	assert.NotEqual(t, "http://mutated", second.NearRPCEndpoints[0])
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SATOSHI_ENVIRONMENT", "dev")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, types.EnvironmentDev, cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, 1, cfg.Relay.Retries)
	assert.Equal(t, 100, cfg.Relay.BTCFailedStatus)
	assert.Equal(t, 3*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Second, cfg.Polling.BridgeInterval)
	assert.Equal(t, 360, cfg.Polling.BridgeMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Polling.NearInterval)
	assert.Equal(t, 180, cfg.Polling.NearMaxAttempts)
	assert.Equal(t, "auto", cfg.Gas.Strategy)
	assert.Equal(t, "memory", cfg.Session.Driver)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: mainnet
server:
  port: 9000
near:
  rpc_endpoints:
    - http://localhost:3030
relay:
  base_url: http://relay.local
  retries: 3
gas:
  strategy: btc
session:
  driver: leveldb
  path: /tmp/session
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SATOSHI_SERVER_PORT", "9100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, types.EnvironmentMainnet, cfg.Environment)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Relay.Retries)
	assert.Equal(t, "btc", cfg.Gas.Strategy)
	assert.Equal(t, "leveldb", cfg.Session.Driver)

	env, err := cfg.EnvConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3030"}, env.NearRPCEndpoints)
	assert.Equal(t, "http://relay.local", env.BaseURL)
	assert.Equal(t, "https://mempool.space/api", env.BTCExplorerURL)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: types.EnvironmentTestnet,
			Relay:       RelayConfig{Timeout: time.Second, Retries: 1, BTCFailedStatus: 100},
			Polling: PollingConfig{
				BridgeInterval: time.Second, BridgeMaxAttempts: 1,
				NearInterval: time.Second, NearMaxAttempts: 1,
			},
			Gas:     GasConfig{Strategy: "auto"},
			Session: SessionConfig{Driver: "memory"},
		}
	}
	require.NoError(t, ValidateConfig(valid()))

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"unknown gas strategy", func(c *Config) { c.Gas.Strategy = "eth" }},
		{"zero relay timeout", func(c *Config) { c.Relay.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Relay.Retries = -1 }},
		{"failed status overlaps success", func(c *Config) { c.Relay.BTCFailedStatus = 3 }},
		{"zero attempts", func(c *Config) { c.Polling.NearMaxAttempts = 0 }},
		{"zero interval", func(c *Config) { c.Polling.BridgeInterval = 0 }},
		{"leveldb without path", func(c *Config) { c.Session.Driver = "leveldb" }},
		{"postgres without dsn", func(c *Config) { c.Session.Driver = "postgres" }},
		{"unknown session driver", func(c *Config) { c.Session.Driver = "redis" }},
		{"events without urls", func(c *Config) { c.Events.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}
