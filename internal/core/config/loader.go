package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Pipeline.SchedulerInterval == 0 {
		cfg.Pipeline.SchedulerInterval = 5 * time.Second
	}
	if cfg.Pipeline.SchedulerBatch == 0 {
		cfg.Pipeline.SchedulerBatch = 100
	}
	if cfg.Pipeline.Backoff.BaseDelay == 0 {
		cfg.Pipeline.Backoff.BaseDelay = 5 * time.Second
	}
	if cfg.Pipeline.Backoff.Multiplier == 0 {
		cfg.Pipeline.Backoff.Multiplier = 2
	}
	if cfg.Pipeline.Backoff.MaxDelay == 0 {
		cfg.Pipeline.Backoff.MaxDelay = 5 * time.Minute
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.SweepInterval == 0 {
		cfg.Audit.SweepInterval = time.Hour
	}
}
