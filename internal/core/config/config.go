package config

import (
	"time"

	redisclient "github.com/waltergaltieri/postia/internal/infra/redis"
	"github.com/waltergaltieri/postia/internal/infra/storage/postgres"
	"github.com/waltergaltieri/postia/internal/pipeline/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Pipeline PipelineConfig     `yaml:"pipeline"`
	Pricing  PricingConfig      `yaml:"pricing"`
	Audit    AuditConfig        `yaml:"audit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PipelineConfig holds orchestration and recovery policy.
type PipelineConfig struct {
	Recovery          recovery.Config  `yaml:"recovery"`
	Backoff           recovery.Backoff `yaml:"backoff"`
	SchedulerInterval time.Duration    `yaml:"scheduler_interval"`
	SchedulerBatch    int              `yaml:"scheduler_batch"`
}

// PricingConfig overrides built-in operation costs (operation name -> cost).
type PricingConfig struct {
	Overrides map[string]int64 `yaml:"overrides"`
}

// AuditConfig holds the retention policy.
type AuditConfig struct {
	RetentionDays int           `yaml:"retention_days"` // 0 = keep forever
	SweepInterval time.Duration `yaml:"sweep_interval"`
}
