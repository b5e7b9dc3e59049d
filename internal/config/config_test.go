package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, "app:\n  name: upkeep-automator\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "upkeep-automator", cfg.App.Name)
	assert.Equal(t, "anvil", cfg.Chain.DefaultNetwork)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Chain.Networks["anvil"])
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.SubmitTimeout)
	assert.Equal(t, 20*time.Second, cfg.Coordinator.ConfirmTimeout)
	assert.Equal(t, 3, cfg.Coordinator.FeeRetryAttempts)
	assert.Equal(t, time.Second, cfg.Coordinator.FeeRetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
chain:
  default_network: sepolia
  networks:
    sepolia: https://rpc.sepolia.example
coordinator:
  submit_timeout: 45s
  fee_retry_attempts: 5
server:
  port: 8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sepolia", cfg.Chain.DefaultNetwork)
	assert.Equal(t, "https://rpc.sepolia.example", cfg.Chain.Networks["sepolia"])
	assert.Equal(t, 45*time.Second, cfg.Coordinator.SubmitTimeout)
	assert.Equal(t, 5, cfg.Coordinator.FeeRetryAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ANVIL_RPC_URL", "http://localhost:9999")
	t.Setenv("DEPLOYLOCALAUTOMATOR_CONTRACT_ADDRESS", "0x1234567890123456789012345678901234567890")
	t.Setenv("AUTOMATOR_PRIVATE_KEY", "0xabc123")
	t.Setenv("DATABASE_URL", "/tmp/override.db")

	path := writeConfigFile(t, "app:\n  name: upkeep-automator\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", cfg.Chain.Networks["anvil"])
	assert.Equal(t, "0x1234567890123456789012345678901234567890", cfg.Chain.DeployerAddress)
	assert.Equal(t, "0xabc123", cfg.Chain.PrivateKey)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.ConnectionString)
}

func validConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			Networks:        map[string]string{"anvil": "http://127.0.0.1:8545"},
			DefaultNetwork:  "anvil",
			DeployerAddress: "0x1234567890123456789012345678901234567890",
			PrivateKey:      "0xabc123",
		},
		Storage: StorageConfig{ConnectionString: "./data/automator.db"},
		Coordinator: CoordinatorConfig{
			SubmitTimeout:  30 * time.Second,
			ConfirmTimeout: 20 * time.Second,
		},
		Watcher: WatcherConfig{PollInterval: 2 * time.Second},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no networks", func(c *Config) { c.Chain.Networks = nil }},
		{"default network unconfigured", func(c *Config) { c.Chain.DefaultNetwork = "mainnet" }},
		{"missing deployer", func(c *Config) { c.Chain.DeployerAddress = "" }},
		{"missing private key", func(c *Config) { c.Chain.PrivateKey = "" }},
		{"missing connection string", func(c *Config) { c.Storage.ConnectionString = "" }},
		{"zero submit timeout", func(c *Config) { c.Coordinator.SubmitTimeout = 0 }},
		{"zero confirm timeout", func(c *Config) { c.Coordinator.ConfirmTimeout = 0 }},
		{"zero poll interval", func(c *Config) { c.Watcher.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
