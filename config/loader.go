package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads, decodes, and validates a patch configuration file at path,
// returning a validated PatchConfig or the accumulated ValidationError.
func Load(path string) (*PatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw TOML patch-config bytes.
func Parse(data []byte) (*PatchConfig, error) {
	var cfg PatchConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: decode toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
