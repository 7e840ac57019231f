// Package config loads the hub daemon's configuration from YAML, with
// defaults matching a single-node development deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the hub daemon's full runtime configuration.
type Config struct {
	NodeID string `yaml:"node_id"`

	QUICAddress    string `yaml:"quic_address"`
	MetricsAddress string `yaml:"metrics_address"`
	HealthAddress  string `yaml:"health_address"`

	KeysDirectory string `yaml:"keys_directory"`
	BoltPath      string `yaml:"bolt_path"`
	SQLitePath    string `yaml:"sqlite_path"`

	ChunkSize            int64         `yaml:"chunk_size"`
	MaxConcurrentTransfers int         `yaml:"max_concurrent_transfers"`
	CleanupDelay         time.Duration `yaml:"cleanup_delay"`
	DedupTTL             time.Duration `yaml:"dedup_ttl"`
	DedupMaxEntries      int           `yaml:"dedup_max_entries"`
	TransferTimeout      time.Duration `yaml:"transfer_timeout"`

	SizeWarningThreshold int64 `yaml:"size_warning_threshold"`
	SizeLimit            int64 `yaml:"size_limit"`

	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`

	SweepSchedule string `yaml:"sweep_schedule"`

	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	keysDir := filepath.Join(homeDir, ".local", "share", "collabhub", "keys")

	return &Config{
		NodeID:                 "node-local",
		QUICAddress:            ":4433",
		MetricsAddress:         "127.0.0.1:9090",
		HealthAddress:          "127.0.0.1:8081",
		KeysDirectory:          keysDir,
		BoltPath:               filepath.Join(homeDir, ".local", "share", "collabhub", "documents.db"),
		SQLitePath:             filepath.Join(homeDir, ".local", "share", "collabhub", "transfers.db"),
		ChunkSize:              65536,
		MaxConcurrentTransfers: 10,
		CleanupDelay:           60 * time.Second,
		DedupTTL:               5 * time.Minute,
		DedupMaxEntries:        100_000,
		TransferTimeout:        2 * time.Minute,
		SizeWarningThreshold:   0,
		SizeLimit:              0,
		RateLimitPerSecond:     50,
		RateLimitBurst:         100,
		SweepSchedule:          "@every 1m",
		JaegerEndpoint:         "",
	}
}

// LoadConfig reads configPath as YAML and overlays it onto DefaultConfig.
// An empty configPath returns the defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	return cfg, nil
}
