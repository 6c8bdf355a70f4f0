package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
chain:
  node_url: http://localhost:8545
  network_id: 31337
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
storage:
  type: sqlite
  connection_string: /tmp/bounties.db
sync:
  from_block: "1200"
  chunk_size: 5000
  concurrent_chunks: 4
  schedule_interval: 2m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8545", cfg.Chain.NodeURL)
	assert.Equal(t, 31337, cfg.Chain.NetworkID)
	assert.Equal(t, uint64(5000), cfg.Sync.ChunkSize)
	assert.Equal(t, 4, cfg.Sync.ConcurrentChunks)
	assert.Equal(t, 2*time.Minute, cfg.Sync.ScheduleInterval)

	// defaults
	assert.Equal(t, int32(18), cfg.Sync.AmountDecimals)
	assert.Equal(t, 30*time.Second, cfg.Chain.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)

	block, err := cfg.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), block)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SYNC_FROM_BLOCK", "777")
	t.Setenv("BOUNTY_SYNC_SYNC_CHUNK_SIZE", "250")
	t.Setenv("DATABASE_URL", "postgres://sync:secret@db:5432/bounties?sslmode=disable")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "777", cfg.Sync.FromBlock)
	assert.Equal(t, uint64(250), cfg.Sync.ChunkSize)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Contains(t, cfg.Storage.ConnectionString, "db:5432")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no node", func(c *Config) { c.Chain.NodeURL = "" }},
		{"no contract", func(c *Config) { c.Chain.ContractAddress = "" }},
		{"no storage", func(c *Config) { c.Storage.ConnectionString = "" }},
		{"zero chunk", func(c *Config) { c.Sync.ChunkSize = 0 }},
		{"zero workers", func(c *Config) { c.Sync.ConcurrentChunks = 0 }},
		{"strict bad checkpoint", func(c *Config) {
			c.Sync.StrictCheckpoint = true
			c.Sync.FromBlock = "latest"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseCheckpoint(t *testing.T) {
	block, err := ParseCheckpoint("")
	require.NoError(t, err)
	assert.Zero(t, block)

	block, err = ParseCheckpoint(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block)

	for _, bad := range []string{"-1", "0x10", "abc", "1.5"} {
		_, err := ParseCheckpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckpointLenientAndStrict(t *testing.T) {
	cfg := &Config{Sync: SyncConfig{FromBlock: "not-a-number"}}

	block, err := cfg.Checkpoint()
	require.NoError(t, err)
	assert.Zero(t, block)

	cfg.Sync.StrictCheckpoint = true
	_, err = cfg.Checkpoint()
	assert.Error(t, err)
}
