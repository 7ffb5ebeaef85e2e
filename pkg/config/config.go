package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cascadedb/cascade/pkg/log"
)

// ObjectStoreConfig selects and configures the object store backend a
// compute node or compactor writes SSTs to.
type ObjectStoreConfig struct {
	// Kind is "fs" or "memory". "memory" is for tests and single-process
	// demos; it never survives a restart.
	Kind string `yaml:"kind"`
	// Dir is the root directory when Kind is "fs".
	Dir string `yaml:"dir"`
}

// RaftConfig configures the meta store's replicated command log.
type RaftConfig struct {
	// Peers lists every meta replica as nodeID@host:port (its node id and
	// Raft address), including this one.
	Peers []string `yaml:"peers"`
	// Bootstrap is true only on the replica that forms the initial quorum.
	Bootstrap bool `yaml:"bootstrap"`
}

// TLSConfig turns on mTLS between cluster roles via pkg/security's
// certificate authority.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// ClusterID seeds the CA's at-rest encryption key (pkg/security.
	// DeriveKeyFromClusterID) and must match across every node in a
	// cluster for meta to decrypt a CA it didn't just create.
	ClusterID string `yaml:"cluster_id"`
}

// Config is the merged configuration for any of the three Cascade roles.
// A given process only reads the fields its role needs and ignores the
// rest, so one topology file can describe an entire cluster.
type Config struct {
	NodeID    string            `yaml:"node_id"`
	DataDir   string            `yaml:"data_dir"`
	BindAddr  string            `yaml:"bind_addr"`
	MetaAddr  string            `yaml:"meta_addr"`
	Raft      RaftConfig        `yaml:"raft"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	TLS       TLSConfig         `yaml:"tls"`
	LogLevel  string            `yaml:"log_level"`
	LogJSON   bool              `yaml:"log_json"`
	MetricsAddr string          `yaml:"metrics_addr"`
}

// Default returns a Config with values suitable for a single-node,
// in-memory demo: no file, no flags, everything local.
func Default() *Config {
	return &Config{
		NodeID:      "node-1",
		DataDir:     "./data",
		BindAddr:    "127.0.0.1:7070",
		MetaAddr:    "127.0.0.1:7070",
		LogLevel:    string(log.InfoLevel),
		MetricsAddr: "127.0.0.1:9090",
		ObjectStore: ObjectStoreConfig{Kind: "memory"},
	}
}

// Load reads path (if non-empty) as YAML over Default()'s values, then
// applies any flags the caller registered on cmd that were explicitly
// set, in that precedence order: defaults < file < flags.
func Load(path string, cmd *cobra.Command) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cmd != nil {
		applyFlag(cmd, "node-id", &cfg.NodeID)
		applyFlag(cmd, "data-dir", &cfg.DataDir)
		applyFlag(cmd, "bind-addr", &cfg.BindAddr)
		applyFlag(cmd, "meta-addr", &cfg.MetaAddr)
		applyFlag(cmd, "log-level", &cfg.LogLevel)
		applyFlag(cmd, "metrics-addr", &cfg.MetricsAddr)
		applyBoolFlag(cmd, "log-json", &cfg.LogJSON)
		applyBoolFlag(cmd, "tls", &cfg.TLS.Enabled)
		applyFlag(cmd, "tls-cluster-id", &cfg.TLS.ClusterID)
	}

	return cfg, nil
}

// applyFlag overwrites *dst with cmd's flag value for name, but only if
// the user actually set the flag — an unset flag must not clobber a
// value the YAML file already supplied.
func applyFlag(cmd *cobra.Command, name string, dst *string) {
	flag := cmd.Flags().Lookup(name)
	if flag == nil || !flag.Changed {
		return
	}
	v, err := cmd.Flags().GetString(name)
	if err == nil {
		*dst = v
	}
}

func applyBoolFlag(cmd *cobra.Command, name string, dst *bool) {
	flag := cmd.Flags().Lookup(name)
	if flag == nil || !flag.Changed {
		return
	}
	v, err := cmd.Flags().GetBool(name)
	if err == nil {
		*dst = v
	}
}
