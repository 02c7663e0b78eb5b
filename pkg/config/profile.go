package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML configuration file shape. Environment
// variables win over profile values.
type Profile struct {
	DatabaseURL string          `yaml:"database_url"`
	BodyRoot    string          `yaml:"body_root"`
	LogLevel    string          `yaml:"log_level"`
	XRPL        XRPLConfig      `yaml:"xrpl"`
	Worker      WorkerConfig    `yaml:"worker"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// LoadWithProfile loads a YAML profile and layers environment configuration
// on top of it. A missing path is not an error; env-only configuration is a
// supported deployment.
func LoadWithProfile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	// Env defaults only yield to the profile where env was not explicitly set.
	if os.Getenv("NEXUS_DATABASE_URL") == "" && profile.DatabaseURL != "" {
		cfg.DatabaseURL = profile.DatabaseURL
	}
	if os.Getenv("NEXUS_BODY_ROOT") == "" && profile.BodyRoot != "" {
		cfg.BodyRoot = profile.BodyRoot
	}
	if os.Getenv("NEXUS_LOG_LEVEL") == "" && profile.LogLevel != "" {
		cfg.LogLevel = profile.LogLevel
	}
	if os.Getenv("NEXUS_XRPL_ENDPOINT") == "" && profile.XRPL.Endpoint != "" {
		cfg.XRPL.Endpoint = profile.XRPL.Endpoint
	}
	if os.Getenv("NEXUS_XRPL_ACCOUNT") == "" && profile.XRPL.Account != "" {
		cfg.XRPL.Account = profile.XRPL.Account
	}
	if os.Getenv("NEXUS_XRPL_KEY_ID") == "" && profile.XRPL.KeyID != "" {
		cfg.XRPL.KeyID = profile.XRPL.KeyID
	}
	if profile.XRPL.RateLimit > 0 {
		cfg.XRPL.RateLimit = profile.XRPL.RateLimit
	}
	if profile.XRPL.RateBurst > 0 {
		cfg.XRPL.RateBurst = profile.XRPL.RateBurst
	}
	if profile.Worker.IntervalSeconds > 0 && os.Getenv("NEXUS_WORKER_INTERVAL_SECONDS") == "" {
		cfg.Worker.IntervalSeconds = profile.Worker.IntervalSeconds
	}
	if profile.Worker.BatchLimit > 0 {
		cfg.Worker.BatchLimit = profile.Worker.BatchLimit
	}
	if os.Getenv("NEXUS_OTLP_ENDPOINT") == "" && profile.Telemetry.OTLPEndpoint != "" {
		cfg.Telemetry = profile.Telemetry
	}
	return cfg, nil
}
