package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gojodb.yaml")
	yamlBody := `
storage:
  data_file: /tmp/custom.db
  pool_size: 64
btree:
  leaf_max_size: 128
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.db", cfg.Storage.DataFile)
	require.Equal(t, 64, cfg.Storage.PoolSize)
	require.Equal(t, 128, cfg.BTree.LeafMaxSize)
	// Fields the file didn't mention keep their defaults.
	require.Equal(t, 255, cfg.BTree.InternalMaxSize)
	require.Equal(t, 2, cfg.Storage.ReplacerK)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pool size", func(c *Config) { c.Storage.PoolSize = 0 }},
		{"replacer k", func(c *Config) { c.Storage.ReplacerK = 0 }},
		{"leaf max size", func(c *Config) { c.BTree.LeafMaxSize = 2 }},
		{"internal max size", func(c *Config) { c.BTree.InternalMaxSize = 2 }},
		{"cycle interval", func(c *Config) { c.LockManager.CycleDetectionInterval = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
