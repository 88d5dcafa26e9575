// ABOUTME: Optional pipecraft.yaml defaults for the CLI, overridable by flags.
// ABOUTME: loadFileConfig never errors on a missing file; it only errors on malformed YAML.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig holds CLI defaults read from an optional pipecraft.yaml in the
// current directory.
type fileConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	RetryPolicy string `yaml:"retry_policy"`
	LogsDir     string `yaml:"logs_dir"`
}

// loadFileConfig reads path and parses it as YAML. A missing file yields a
// zero-value fileConfig rather than an error.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
