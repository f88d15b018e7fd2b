// Package config loads the node's runtime configuration (spec.md §6) from
// YAML, following the teacher's config/nodes.go loader idiom.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every option spec.md §6 names.
type Config struct {
	DataDir string `yaml:"data_dir"`

	GenesisTimeMs  uint64  `yaml:"genesis_time_ms"`
	SlotDurationMs uint64  `yaml:"slot_duration_ms"`
	EpochLength    uint64  `yaml:"epoch_length"`
	Tau            float64 `yaml:"tau"`

	MinFee uint64 `yaml:"min_fee"`
	FeeA   uint64 `yaml:"fee_a"`
	FeeB   uint64 `yaml:"fee_b"`
	FeeC   uint64 `yaml:"fee_c"`

	MaxMempoolSize uint64 `yaml:"max_mempool_size"`
	MaxBatchSize   int    `yaml:"max_batch_size"`
	MaxBlockAge    uint64 `yaml:"max_block_age"`

	ListenAddrs []string `yaml:"listen_addrs"`
	Bootnodes   []string `yaml:"bootnodes"`
}

// Default returns the configuration defaults named in spec.md §6.
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		SlotDurationMs: 500,
		EpochLength:    43200,
		Tau:            1.0,
		MinFee:         1,
		FeeA:           1,
		FeeB:           1,
		FeeC:           1,
		MaxMempoolSize: 10000,
		MaxBatchSize:   1000,
		MaxBlockAge:    32,
	}
}

// Load reads a YAML config file over the defaults, so a file only needs to
// override the fields it cares about.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// bootnodeEntry is the legacy named-field bootnode format the teacher's
// nodes.yaml loader also accepts, kept for config files shared with the
// teacher's bootnode lists.
type bootnodeEntry struct {
	Multiaddr string `yaml:"multiaddr"`
}

// LoadBootnodes loads a nodes.yaml file of bootnode addresses, accepting
// either the teacher's legacy struct format ([{multiaddr: "/ip4/..."}]) or a
// plain string list, falling back from the former to the latter exactly as
// the teacher's config/nodes.go does.
func LoadBootnodes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}

	var entries []bootnodeEntry
	if err := yaml.Unmarshal(data, &entries); err == nil && len(entries) > 0 && entries[0].Multiaddr != "" {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Multiaddr != "" {
				out = append(out, e.Multiaddr)
			}
		}
		return out, nil
	}

	var strs []string
	if err := yaml.Unmarshal(data, &strs); err != nil {
		return nil, fmt.Errorf("parse nodes: %w", err)
	}
	return strs, nil
}
