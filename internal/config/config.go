package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"drivenav/internal/model"
)

// Config holds process-level settings. Values come from an optional YAML
// file, with environment variables taking precedence.
type Config struct {
	Port        string               `yaml:"port"`
	DatabaseURL string               `yaml:"database_url"`
	RedisURL    string               `yaml:"redis_url"`
	Tracking    model.TrackingConfig `yaml:"tracking"`
}

// Load reads the config file named by CONFIG_FILE (default config.yaml, if
// present), then applies env overrides. A missing file is not an error.
func Load() (Config, error) {
	cfg := Config{Port: "8080", Tracking: model.DefaultTrackingConfig()}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if cfg.Tracking.HistoryCapacity <= 0 {
		cfg.Tracking.HistoryCapacity = model.DefaultTrackingConfig().HistoryCapacity
	}
	return cfg, nil
}
