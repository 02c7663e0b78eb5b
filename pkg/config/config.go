// Package config loads runtime configuration from the environment, with an
// optional YAML profile file layered underneath for things that do not
// belong in env vars (endpoints, rate limits, worker cadence).
package config

import (
	"os"
	"strconv"
)

// Config holds the full runtime configuration.
type Config struct {
	DatabaseURL string
	BodyRoot    string
	LogLevel    string
	XRPL        XRPLConfig
	Worker      WorkerConfig
	Telemetry   TelemetryConfig
}

// XRPLConfig configures the witness backend. The signing key itself never
// appears here; only its public identifier does.
type XRPLConfig struct {
	Endpoint  string  `yaml:"endpoint"`
	Account   string  `yaml:"account"`
	KeyID     string  `yaml:"key_id"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// WorkerConfig controls the attestation worker's cadence.
type WorkerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchLimit      int `yaml:"batch_limit"`
}

// TelemetryConfig controls OTLP export. An empty endpoint leaves telemetry
// off entirely.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Load loads configuration from environment variables with sensible local
// defaults. A postgres:// DATABASE_URL selects the Postgres driver; anything
// else is treated as a SQLite path.
func Load() *Config {
	dbURL := os.Getenv("NEXUS_DATABASE_URL")
	if dbURL == "" {
		dbURL = "nexus.db"
	}

	bodyRoot := os.Getenv("NEXUS_BODY_ROOT")
	if bodyRoot == "" {
		bodyRoot = "bodies"
	}

	logLevel := os.Getenv("NEXUS_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		BodyRoot:    bodyRoot,
		LogLevel:    logLevel,
		XRPL: XRPLConfig{
			Endpoint:  os.Getenv("NEXUS_XRPL_ENDPOINT"),
			Account:   os.Getenv("NEXUS_XRPL_ACCOUNT"),
			KeyID:     os.Getenv("NEXUS_XRPL_KEY_ID"),
			RateLimit: 5,
			RateBurst: 5,
		},
		Worker: WorkerConfig{
			IntervalSeconds: 30,
			BatchLimit:      1,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("NEXUS_OTLP_ENDPOINT"),
			Insecure:     os.Getenv("NEXUS_OTLP_TLS") == "",
		},
	}
	if cfg.XRPL.Endpoint == "" {
		cfg.XRPL.Endpoint = "https://s.altnet.rippletest.net:51234"
	}
	if v := os.Getenv("NEXUS_WORKER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.IntervalSeconds = n
		}
	}
	return cfg
}
