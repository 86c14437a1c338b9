package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Shard defines a set of symbols that should be fetched using a specific
// source IP. Useful on multi-homed hosts where each address carries its own
// share of the vendor rate limit.
type Shard struct {
	IP      string   `yaml:"ip"`
	Symbols []string `yaml:"symbols"`
}

// Shards represents the full shard configuration.
type Shards struct {
	Shards []Shard `yaml:"shards"`
}

// LoadShards loads shard configuration from the given path.
func LoadShards(path string) (*Shards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg Shards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	for i, s := range cfg.Shards {
		if len(s.Symbols) == 0 {
			return nil, fmt.Errorf("shard %d has no symbols", i)
		}
	}
	return &cfg, nil
}
