// Package config loads the tunables of spec §6. It mirrors the teacher's
// internal/config/config.go nested-struct-with-json/yaml-tags convention and
// environment-variable-override style, but the surface is the monitoring/
// retraining tunable table instead of an HTTP server's settings: a YAML
// file provides the base (github.com/joho/godotenv's .env-to-process-env
// loading mirrors the teacher's loadEnvFile, then environment variables
// override individual fields), matching cmd/optimization/main.go's
// -config flag pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §6, plus the ambient stack's
// settings (database, observability).
type Config struct {
	Environment string `yaml:"environment"`

	Database      DatabaseConfig      `yaml:"database"`
	ReferenceDB   ReferenceDBConfig   `yaml:"reference_db"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`

	Monitoring Monitoring `yaml:"monitoring"`
	Decision   Decision   `yaml:"decision"`
}

// DatabaseConfig is the Postgres connection used for the ledger, decision
// log, and registry, following the teacher's DatabaseConfig field set.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ReferenceDBConfig is the embedded SQLite manifest used by internal/baseline
// to verify a reference digest without a Postgres round trip.
type ReferenceDBConfig struct {
	ManifestPath  string `yaml:"manifest_path"`
	BaselinePath  string `yaml:"baseline_path"`
}

// CacheConfig is the Redis GetProduction cache plus the model_promoted
// pub/sub channel.
type CacheConfig struct {
	Addr             string        `yaml:"addr"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	ProductionTTL    time.Duration `yaml:"production_ttl"`
	PromotionChannel string        `yaml:"promotion_channel"`
}

// ObservabilityConfig controls logging and metrics, following the teacher's
// ObservabilityConfig field set.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
}

// ArtifactsConfig is the content-addressed local directory for drift and
// evaluation artifact bodies.
type ArtifactsConfig struct {
	Directory string `yaml:"directory"`
}

// Monitoring holds C3's tunables.
type Monitoring struct {
	IntervalS         int     `yaml:"monitoring_interval_s"`
	LookbackH         int     `yaml:"monitoring_lookback_h"`
	MinSamples        int     `yaml:"min_samples_for_monitoring"`
	DriftPThreshold   float64 `yaml:"drift_p_threshold"`
	EffectSizeFloor   float64 `yaml:"drift_effect_size_floor"`
	DatasetThreshold  float64 `yaml:"dataset_drift_threshold"`
	TrendWindowSize   int     `yaml:"trend_window_size"`
}

// Decision holds C4/C5's tunables.
type Decision struct {
	MinSamplesForDecision int           `yaml:"min_samples_for_decision"`
	MinCoveragePct        float64       `yaml:"min_coverage_pct"`
	PromotionCooldownDays int           `yaml:"promotion_cooldown_days"`
	MinF1ImprovementPct   float64       `yaml:"min_f1_improvement_pct"`
	MaxBrierDegradation   float64       `yaml:"max_brier_degradation"`
	MinSegmentF1DropPct   float64       `yaml:"min_segment_f1_drop"`
	SegmentMin            int           `yaml:"segment_min"`
	TrainingWindowH       int           `yaml:"training_window_h"`
	TestFraction          float64       `yaml:"test_fraction"`
	TrainingTimeoutS      int           `yaml:"training_timeout_s"`
	StagingTTLS           int           `yaml:"staging_ttl_s"`
	SegmentSpecs          []SegmentSpec `yaml:"segment_specs"`
}

// SegmentSpec is a declarative bucket-over-a-feature fairness segment, fixed
// at configuration time per spec §4.5/§9 Open Question 3.
type SegmentSpec struct {
	Feature        string    `yaml:"feature"`
	PercentileCuts []float64 `yaml:"percentile_cuts"`
}

// Default returns the system-level defaults enumerated in spec §6.
func Default() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Username:        "postgres",
			Database:        "sentryml",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		ReferenceDB: ReferenceDBConfig{
			ManifestPath: "./data/reference_manifest.sqlite3",
			BaselinePath: "./data/reference_baseline.json",
		},
		Cache: CacheConfig{
			Addr:             "localhost:6379",
			ProductionTTL:    5 * time.Minute,
			PromotionChannel: "model_promoted",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			MetricsAddr:    ":9090",
			TracingEnabled: true,
		},
		Artifacts: ArtifactsConfig{
			Directory: "./data/artifacts",
		},
		Monitoring: Monitoring{
			IntervalS:        300,
			LookbackH:        24,
			MinSamples:       200,
			DriftPThreshold:  0.05,
			EffectSizeFloor:  0.1,
			DatasetThreshold: 0.30,
			TrendWindowSize:  10,
		},
		Decision: Decision{
			MinSamplesForDecision: 200,
			MinCoveragePct:        30.0,
			PromotionCooldownDays: 7,
			MinF1ImprovementPct:   2.0,
			MaxBrierDegradation:   0.01,
			MinSegmentF1DropPct:   1.0,
			SegmentMin:            50,
			TrainingWindowH:       168,
			TestFraction:          0.2,
			TrainingTimeoutS:      3600,
			StagingTTLS:           604800,
			SegmentSpecs: []SegmentSpec{
				{Feature: "age", PercentileCuts: []float64{1.0 / 3, 2.0 / 3}},
				{Feature: "MonthlyIncome", PercentileCuts: []float64{1.0 / 3, 2.0 / 3}},
			},
		},
	}
}

// Load reads the YAML file at path over the defaults, then overlays a local
// .env file (if present) and explicit environment variables, following the
// teacher's cmd/optimization/main.go -config flag plus loadEnvFile pattern.
// An empty path skips the YAML step and returns defaults with env overlays
// applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// .env is optional local overlay; absence is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTRYML_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SENTRYML_DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("SENTRYML_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SENTRYML_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTRYML_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("SENTRYML_ENV"); v != "" {
		cfg.Environment = v
	}
}

// Validate sanity-checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Monitoring.DatasetThreshold <= 0 || c.Monitoring.DatasetThreshold > 1 {
		return fmt.Errorf("invalid dataset_drift_threshold: %f", c.Monitoring.DatasetThreshold)
	}
	if c.Decision.TestFraction <= 0 || c.Decision.TestFraction >= 1 {
		return fmt.Errorf("invalid test_fraction: %f", c.Decision.TestFraction)
	}
	if c.Decision.SegmentMin <= 0 {
		return fmt.Errorf("segment_min must be positive")
	}
	return nil
}
