package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config struct to hold the configuration settings
type Config struct {
	Postgres      PostgresConfig      `yaml:"postgres"`
	NATS          NATSConfig          `yaml:"nats"`
	HTTP          HTTPConfig          `yaml:"http"`
	JWT           JWTConfig           `yaml:"jwt"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Storage       StorageConfig       `yaml:"storage"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Session       SessionConfig       `yaml:"session"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Repair        RepairConfig        `yaml:"repair"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig holds NATS configuration. An empty URL selects the in-process bus.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// HTTPConfig holds the listener for the websocket and polling endpoints.
type HTTPConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// JWTConfig holds the secret used to verify player tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// AnalysisConfig describes the external analysis provider.
type AnalysisConfig struct {
	BaseURL       string        `yaml:"base_url"`
	TokenURL      string        `yaml:"token_url"`
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    uint64        `yaml:"max_retries"`
}

// StorageConfig describes the S3-compatible bucket holding images.
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// ScoringConfig holds score calculator tuning.
type ScoringConfig struct {
	FluencyThreshold float64 `yaml:"fluency_threshold"`
	DefaultStrategy  string  `yaml:"default_strategy"`
}

// SessionConfig tunes the round session protocol.
type SessionConfig struct {
	EvaluatePollInterval time.Duration `yaml:"evaluate_poll_interval"`
	EvaluateTimeout      time.Duration `yaml:"evaluate_timeout"`
	DefaultModel         string        `yaml:"default_model"`
}

// PipelineConfig tunes the job queue.
type PipelineConfig struct {
	QueueWorkers int           `yaml:"queue_workers"`
	TaskMaxAge   time.Duration `yaml:"task_max_age"`
}

// RepairConfig schedules the repair sweep.
type RepairConfig struct {
	Schedule  string        `yaml:"schedule"`
	Timezone  string        `yaml:"timezone"`
	BatchSize int           `yaml:"batch_size"`
	MinAge    time.Duration `yaml:"min_age"`
}

// ObservabilityConfig holds configuration for observability components
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsAddress string `yaml:"metrics_address"`
	Environment    string `yaml:"environment"`
}

// LoadConfig loads the configuration from a YAML file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		// If the file is not found, try loading from environment variables
		return loadConfigFromEnv()
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func loadConfigFromEnv() (*Config, error) {
	var cfg Config
	applyEnv(&cfg)
	cfg.applyDefaults()

	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.HTTP.Address, "HTTP_ADDRESS")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(v, ",")
	}
	setString(&cfg.JWT.Secret, "JWT_SECRET")

	setString(&cfg.Analysis.BaseURL, "ANALYSIS_BASE_URL")
	setString(&cfg.Analysis.TokenURL, "ANALYSIS_TOKEN_URL")
	setString(&cfg.Analysis.ClientID, "ANALYSIS_CLIENT_ID")
	setString(&cfg.Analysis.ClientSecret, "ANALYSIS_CLIENT_SECRET")
	setFloat(&cfg.Analysis.RatePerSecond, "ANALYSIS_RATE_PER_SECOND")
	setInt(&cfg.Analysis.Burst, "ANALYSIS_BURST")
	setDuration(&cfg.Analysis.Timeout, "ANALYSIS_TIMEOUT")
	if v := os.Getenv("ANALYSIS_MAX_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Analysis.MaxRetries = n
		}
	}

	setString(&cfg.Storage.Bucket, "STORAGE_BUCKET")
	setString(&cfg.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&cfg.Storage.Region, "STORAGE_REGION")
	setString(&cfg.Storage.AccessKeyID, "STORAGE_ACCESS_KEY_ID")
	setString(&cfg.Storage.SecretAccessKey, "STORAGE_SECRET_ACCESS_KEY")
	setString(&cfg.Storage.PublicBaseURL, "STORAGE_PUBLIC_BASE_URL")

	setFloat(&cfg.Scoring.FluencyThreshold, "SCORING_FLUENCY_THRESHOLD")
	setString(&cfg.Scoring.DefaultStrategy, "SCORING_DEFAULT_STRATEGY")

	setDuration(&cfg.Session.EvaluatePollInterval, "SESSION_EVALUATE_POLL_INTERVAL")
	setDuration(&cfg.Session.EvaluateTimeout, "SESSION_EVALUATE_TIMEOUT")
	setString(&cfg.Session.DefaultModel, "SESSION_DEFAULT_MODEL")

	setInt(&cfg.Pipeline.QueueWorkers, "PIPELINE_QUEUE_WORKERS")
	setDuration(&cfg.Pipeline.TaskMaxAge, "PIPELINE_TASK_MAX_AGE")

	setString(&cfg.Repair.Schedule, "REPAIR_SCHEDULE")
	setString(&cfg.Repair.Timezone, "REPAIR_TIMEZONE")
	setInt(&cfg.Repair.BatchSize, "REPAIR_BATCH_SIZE")
	setDuration(&cfg.Repair.MinAge, "REPAIR_MIN_AGE")

	setString(&cfg.Observability.LogLevel, "LOG_LEVEL")
	setString(&cfg.Observability.MetricsAddress, "METRICS_ADDRESS")
	setString(&cfg.Observability.Environment, "ENV")
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8000"
	}
	if c.Analysis.RatePerSecond == 0 {
		c.Analysis.RatePerSecond = 5
	}
	if c.Analysis.Burst == 0 {
		c.Analysis.Burst = 5
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = 60 * time.Second
	}
	if c.Analysis.MaxRetries == 0 {
		c.Analysis.MaxRetries = 3
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "auto"
	}
	if c.Scoring.FluencyThreshold == 0 {
		c.Scoring.FluencyThreshold = 0.01
	}
	if c.Scoring.DefaultStrategy == "" {
		c.Scoring.DefaultStrategy = "formula"
	}
	if c.Session.EvaluatePollInterval == 0 {
		c.Session.EvaluatePollInterval = time.Second
	}
	if c.Session.EvaluateTimeout == 0 {
		c.Session.EvaluateTimeout = 30 * time.Second
	}
	if c.Session.DefaultModel == "" {
		c.Session.DefaultModel = "gpt-4o-mini"
	}
	if c.Pipeline.QueueWorkers == 0 {
		c.Pipeline.QueueWorkers = 25
	}
	if c.Pipeline.TaskMaxAge == 0 {
		c.Pipeline.TaskMaxAge = 10 * time.Minute
	}
	if c.Repair.Schedule == "" {
		c.Repair.Schedule = "0 5 * * *"
	}
	if c.Repair.Timezone == "" {
		c.Repair.Timezone = "Asia/Tokyo"
	}
	if c.Repair.BatchSize == 0 {
		c.Repair.BatchSize = 200
	}
	if c.Repair.MinAge == 0 {
		c.Repair.MinAge = 10 * time.Minute
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = "development"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
