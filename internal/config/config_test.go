package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeYAML(t, "node_id: n1\npeers:\n  - n2\n  - n3\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "n1", cfg.NodeID)
	require.Equal(t, []string{"n2", "n3"}, cfg.Peers)
	require.Equal(t, 150*time.Millisecond, cfg.ElectionTimeoutMin())
	require.Equal(t, 300*time.Millisecond, cfg.ElectionTimeoutMax())
	require.Equal(t, 50*time.Millisecond, cfg.HeartbeatInterval())
}

func TestLoadRejectsInvertedElectionTimeouts(t *testing.T) {
	path := writeYAML(t, "node_id: n1\nelection_timeout_min_ms: 300\nelection_timeout_max_ms: 150\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsHeartbeatNotBelowElectionMin(t *testing.T) {
	path := writeYAML(t, "node_id: n1\nheartbeat_interval_ms: 200\nelection_timeout_min_ms: 150\nelection_timeout_max_ms: 300\n")
	_, err := Load(path)
	require.Error(t, err)
}
