// Package config loads node configuration from a YAML file with
// environment-variable overrides, using cleanenv.
package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

// Config is the full set of options enumerated for a node: its identity,
// peer list, Raft timing, and where it keeps durable state.
type Config struct {
	NodeID string   `yaml:"node_id" env:"NYCONSENSUS_NODE_ID" env-required:"true"`
	Peers  []string `yaml:"peers" env:"NYCONSENSUS_PEERS" env-separator:","`

	// PeerRaftAddrs and PeerClientAddrs map every cluster member's node id
	// (including this node's own) to its raft-internal and client-facing
	// dial addresses, respectively.
	PeerRaftAddrs   map[string]string `yaml:"peer_raft_addrs"`
	PeerClientAddrs map[string]string `yaml:"peer_client_addrs"`

	BindAddr    string `yaml:"bind_addr" env:"NYCONSENSUS_BIND_ADDR" env-default:"127.0.0.1:7000"`
	ClientAddr  string `yaml:"client_addr" env:"NYCONSENSUS_CLIENT_ADDR" env-default:"127.0.0.1:7100"`
	MetricsAddr string `yaml:"metrics_addr" env:"NYCONSENSUS_METRICS_ADDR" env-default:"127.0.0.1:9100"`

	ElectionTimeoutMinMs int `yaml:"election_timeout_min_ms" env:"NYCONSENSUS_ELECTION_TIMEOUT_MIN_MS" env-default:"150"`
	ElectionTimeoutMaxMs int `yaml:"election_timeout_max_ms" env:"NYCONSENSUS_ELECTION_TIMEOUT_MAX_MS" env-default:"300"`
	HeartbeatIntervalMs  int `yaml:"heartbeat_interval_ms" env:"NYCONSENSUS_HEARTBEAT_INTERVAL_MS" env-default:"50"`
	RPCTimeoutMs         int `yaml:"rpc_timeout_ms" env:"NYCONSENSUS_RPC_TIMEOUT_MS" env-default:"1000"`
	MaxBatchEntries      int `yaml:"max_batch_entries" env:"NYCONSENSUS_MAX_BATCH_ENTRIES" env-default:"64"`

	PersistencePath string `yaml:"persistence_path" env:"NYCONSENSUS_PERSISTENCE_PATH" env-default:"./data/raft.db"`

	Environment string `yaml:"environment" env:"NYCONSENSUS_ENV" env-default:"development"`
}

// Load reads the YAML file at path (an error if it cannot be read) and then
// applies any NYCONSENSUS_* env var overrides on top, matching cleanenv's
// usual file-then-env precedence.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if c.ElectionTimeoutMaxMs <= c.ElectionTimeoutMinMs {
		return errors.New("config: election_timeout_max_ms must exceed election_timeout_min_ms")
	}
	if c.HeartbeatIntervalMs <= 0 {
		return errors.New("config: heartbeat_interval_ms must be positive")
	}
	if c.HeartbeatIntervalMs >= c.ElectionTimeoutMinMs {
		return errors.New("config: heartbeat_interval_ms should be well under election_timeout_min_ms")
	}
	return nil
}

// ElectionTimeoutMin returns the configured minimum election timeout as a
// time.Duration.
func (c Config) ElectionTimeoutMin() time.Duration {
	return time.Duration(c.ElectionTimeoutMinMs) * time.Millisecond
}

// ElectionTimeoutMax returns the configured maximum election timeout as a
// time.Duration.
func (c Config) ElectionTimeoutMax() time.Duration {
	return time.Duration(c.ElectionTimeoutMaxMs) * time.Millisecond
}

// HeartbeatInterval returns the configured heartbeat interval as a
// time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// RPCTimeout returns the configured per-RPC timeout as a time.Duration.
func (c Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}
