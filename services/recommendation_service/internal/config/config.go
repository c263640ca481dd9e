package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServiceConfig struct {
	Name     string `yaml:"name"`
	HTTPAddr string `yaml:"http_addr"`
}

// NATSConfig is optional; an empty URL leaves the service HTTP-only.
type NATSConfig struct {
	URL               string `yaml:"url"`
	SubjectRequests   string `yaml:"subject_requests"`
	SubjectAdvisories string `yaml:"subject_advisories"`
	QueueGroup        string `yaml:"queue_group"`
}

type RulesConfig struct {
	// RulesPath is a YAML catalog; empty selects the built-in catalog.
	RulesPath string `yaml:"rules_path"`
	Watch     bool   `yaml:"watch"`
}

type ModelsConfig struct {
	DefaultTrees []string `yaml:"default_trees"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	WriteAudit  bool   `yaml:"write_audit"`
}

type Config struct {
	ConfigVersion int           `yaml:"config_version"`
	Service       ServiceConfig `yaml:"service"`
	NATS          NATSConfig    `yaml:"nats"`
	Rules         RulesConfig   `yaml:"rules"`
	Models        ModelsConfig  `yaml:"models"`
	Cache         CacheConfig   `yaml:"cache"`
	Storage       StorageConfig `yaml:"storage"`
	Timeout       time.Duration `yaml:"-"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Service.HTTPAddr == "" {
		return nil, fmt.Errorf("service.http_addr is required")
	}
	if cfg.Rules.Watch && cfg.Rules.RulesPath == "" {
		return nil, fmt.Errorf("rules.watch requires rules.rules_path")
	}
	if cfg.Storage.WriteAudit && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("storage.write_audit requires storage.postgres_dsn")
	}

	if cfg.NATS.SubjectRequests == "" {
		cfg.NATS.SubjectRequests = "recommendation.requests"
	}
	if cfg.NATS.SubjectAdvisories == "" {
		cfg.NATS.SubjectAdvisories = "recommendation.advisories"
	}
	if cfg.NATS.QueueGroup == "" {
		cfg.NATS.QueueGroup = "recommendation-service"
	}
	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 1024
	}

	cfg.Timeout = 5 * time.Second
	return &cfg, nil
}
