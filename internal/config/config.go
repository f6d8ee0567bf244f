// Package config loads the single process-wide configuration document
// (§6) via viper, mirroring the teacher's mapstructure-tagged sub-struct
// layout in internal/config/config.go.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the swarm kernel.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	TokenBudget TokenBudgetConfig `mapstructure:"token_budget"`
	Consensus   ConsensusConfig   `mapstructure:"consensus"`
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat"`
	Pattern     PatternConfig     `mapstructure:"pattern"`
	Predictive  PredictiveConfig  `mapstructure:"predictive"`
	Patterns    PatternsStorageConfig `mapstructure:"patterns"`
	Topology    TopologyConfig    `mapstructure:"topology"`
	Resources   ResourcesConfig   `mapstructure:"resources"`

	Memory      MemoryConfig      `mapstructure:"memory"`
	MetricsStore MetricsStoreConfig `mapstructure:"metrics_store"`
	API         APIConfig         `mapstructure:"api"`
}

// TokenBudgetConfig configures the ResourceController's token axis (§4.2, §6).
type TokenBudgetConfig struct {
	TotalBudget         int64   `mapstructure:"total_budget" validate:"gt=0"`
	WarningThreshold1   int64   `mapstructure:"warning_threshold_1"`
	WarningThreshold2   int64   `mapstructure:"warning_threshold_2"`
	DefaultSwarmLimit   int64   `mapstructure:"default_swarm_limit"`
	ReserveBuffer       int64   `mapstructure:"reserve_buffer"`
	EnableAutoRebalance bool    `mapstructure:"enable_auto_rebalance"`
	SwarmWarningRatio   float64 `mapstructure:"swarm_warning_ratio"`
	SwarmCriticalRatio  float64 `mapstructure:"swarm_critical_ratio"`
}

// ConsensusConfig configures the default consensus algorithm and threshold.
type ConsensusConfig struct {
	DefaultAlgorithm string        `mapstructure:"default_algorithm"`
	Threshold        float64       `mapstructure:"threshold"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	HistorySize      int           `mapstructure:"history_size"`
}

// HeartbeatConfig tunes the heartbeat monitor (§4.5).
type HeartbeatConfig struct {
	IntervalMs        int64  `mapstructure:"interval_ms"`
	FailureThreshold  int    `mapstructure:"failure_threshold"`
	HistorySize       int    `mapstructure:"history_size"`
	CheckIntervalMs   int64  `mapstructure:"check_interval_ms"`
	InitialState      string `mapstructure:"initial_state"` // HEALTHY | UNKNOWN, see DESIGN.md Open Question #2
}

// PatternConfig tunes the pattern learner/matcher (§4.6).
type PatternConfig struct {
	MinOccurrences     int     `mapstructure:"min_occurrences"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MatchThreshold     float64 `mapstructure:"match_threshold"`
	SequenceN          int     `mapstructure:"sequence_n"`
	CorrelationWindowMs int64  `mapstructure:"correlation_window_ms"`
	MaxSequenceLength  int     `mapstructure:"max_sequence_length"`
}

// PredictiveConfig tunes predictive healing (§4.6).
type PredictiveConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	AutoApply           bool    `mapstructure:"auto_apply"`
}

// PatternsStorageConfig controls the pattern collector's persistence (§6).
type PatternsStorageConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	RetentionDays        int    `mapstructure:"retention_days"`
	Storage              string `mapstructure:"storage"` // "log" | "datedir"
	Root                 string `mapstructure:"root"`
	CompressionThreshold int    `mapstructure:"compression_threshold_days"`
}

// TopologyConfig tunes the adaptive topology manager (§4.1).
type TopologyConfig struct {
	DefaultMode            string  `mapstructure:"default_mode"`
	AdaptationThreshold    float64 `mapstructure:"adaptation_threshold"`
	RingSequentialScoreMin float64 `mapstructure:"ring_sequential_score_min"`
	MeshMaxAgents          int     `mapstructure:"mesh_max_agents"`
	StarMaxAgents          int     `mapstructure:"star_max_agents"`
	RequireEmptyChildren   bool    `mapstructure:"require_empty_children"`

	// SigningSecret, when set, enables capability-token minting on agent
	// registration (see internal/topology/credential.go). Left blank by
	// default: the feature is opt-in for multi-process deployments.
	SigningSecret string `mapstructure:"signing_secret"`
}

// ResourcesConfig tunes queue/bottleneck thresholds (§4.2, §4.6).
type ResourcesConfig struct {
	BacklogThreshold     int     `mapstructure:"backlog_threshold"`
	HighPriorityShareMax float64 `mapstructure:"high_priority_share_max"`
	QuotaWarningRatio    float64 `mapstructure:"quota_warning_ratio"`
	PollIntervalMs       int64   `mapstructure:"poll_interval_ms"`
}

// MemoryConfig selects and configures MemoryProvider backends.
type MemoryConfig struct {
	Backend  string         `mapstructure:"backend"` // "memory" | "redis" | "postgres"
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the volatile MemoryProvider backend.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// PostgresConfig configures the persistent MemoryProvider and MetricsStore backends.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GetDSN builds a postgres connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// MetricsStoreConfig configures the reference MetricsStore.
type MetricsStoreConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Async   bool           `mapstructure:"async_writer"`
	BufferSize int         `mapstructure:"buffer_size"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// APIConfig configures the optional HTTP control surface.
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("token_budget.total_budget", 200000)
	v.SetDefault("token_budget.warning_threshold_1", 150000)
	v.SetDefault("token_budget.warning_threshold_2", 180000)
	v.SetDefault("token_budget.default_swarm_limit", 20000)
	v.SetDefault("token_budget.reserve_buffer", 10000)
	v.SetDefault("token_budget.enable_auto_rebalance", true)
	v.SetDefault("token_budget.swarm_warning_ratio", 0.75)
	v.SetDefault("token_budget.swarm_critical_ratio", 0.90)

	v.SetDefault("consensus.default_algorithm", "quorum")
	v.SetDefault("consensus.threshold", 0.5)
	v.SetDefault("consensus.default_timeout", "5s")
	v.SetDefault("consensus.history_size", 200)

	v.SetDefault("heartbeat.interval_ms", 1000)
	v.SetDefault("heartbeat.failure_threshold", 3)
	v.SetDefault("heartbeat.history_size", 100)
	v.SetDefault("heartbeat.check_interval_ms", 1000)
	v.SetDefault("heartbeat.initial_state", "HEALTHY")

	v.SetDefault("pattern.min_occurrences", 3)
	v.SetDefault("pattern.confidence_threshold", 0.6)
	v.SetDefault("pattern.match_threshold", 0.8)
	v.SetDefault("pattern.sequence_n", 3)
	v.SetDefault("pattern.correlation_window_ms", 5000)
	v.SetDefault("pattern.max_sequence_length", 10)

	v.SetDefault("predictive.confidence_threshold", 0.7)
	v.SetDefault("predictive.auto_apply", false)

	v.SetDefault("patterns.enabled", true)
	v.SetDefault("patterns.retention_days", 30)
	v.SetDefault("patterns.storage", "log")
	v.SetDefault("patterns.root", "./data/patterns")
	v.SetDefault("patterns.compression_threshold_days", 7)

	v.SetDefault("topology.default_mode", "mesh")
	v.SetDefault("topology.adaptation_threshold", 10.0)
	v.SetDefault("topology.ring_sequential_score_min", 0.9)
	v.SetDefault("topology.mesh_max_agents", 5)
	v.SetDefault("topology.star_max_agents", 10)
	v.SetDefault("topology.require_empty_children", false)
	v.SetDefault("topology.signing_secret", "")

	v.SetDefault("resources.backlog_threshold", 50)
	v.SetDefault("resources.high_priority_share_max", 0.2)
	v.SetDefault("resources.quota_warning_ratio", 0.9)
	v.SetDefault("resources.poll_interval_ms", 50)

	v.SetDefault("memory.backend", "memory")
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.pool_size", 10)
	v.SetDefault("memory.postgres.ssl_mode", "disable")
	v.SetDefault("memory.postgres.max_open_conns", 10)
	v.SetDefault("memory.postgres.max_idle_conns", 5)

	v.SetDefault("metrics_store.enabled", false)
	v.SetDefault("metrics_store.async_writer", true)
	v.SetDefault("metrics_store.buffer_size", 1000)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8088")
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
}

// Load reads configuration from an optional JSON file plus MOAIFLOW_*
// environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MOAIFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration built entirely from defaults,
// convenient for tests.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are internally consistent; this can only happen if a
		// default violates its own validation tag, which is a bug.
		panic(fmt.Sprintf("default config failed validation: %v", err))
	}
	return cfg
}

func validateConfig(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.TokenBudget.ReserveBuffer >= cfg.TokenBudget.TotalBudget {
		return fmt.Errorf("token_budget.reserve_buffer must be smaller than total_budget")
	}
	switch cfg.Consensus.DefaultAlgorithm {
	case "quorum", "weighted", "byzantine":
	default:
		return fmt.Errorf("consensus.default_algorithm must be one of quorum|weighted|byzantine, got %q", cfg.Consensus.DefaultAlgorithm)
	}
	switch cfg.Patterns.Storage {
	case "log", "datedir":
	default:
		return fmt.Errorf("patterns.storage must be one of log|datedir, got %q", cfg.Patterns.Storage)
	}
	return nil
}
