package pagekeeper

import "github.com/hazyhaar/pagekeeper/internal/config"

// Config is the top-level pagekeeper configuration. Re-exported from internal.
type Config = config.Config

// TimingConfig tunes the scheduler.
type TimingConfig = config.TimingConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// StatusConfig controls the local HTTP API.
type StatusConfig = config.StatusConfig

// LoadConfigFile reads and validates a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}
