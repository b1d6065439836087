package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the coordination engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  ClientsConfig  `yaml:"clients"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Arbiter  ArbiterConfig  `yaml:"arbiter"`
	Safety   SafetyConfig   `yaml:"safety"`
	Rules    RulesConfig    `yaml:"rules"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP control-plane listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups the downstream integrations.
type ClientsConfig struct {
	Executor    ExecutorClientConfig    `yaml:"executor"`
	Recommender RecommenderClientConfig `yaml:"recommender"`
	Metrics     MetricsClientConfig     `yaml:"metrics"`
}

// ExecutorClientConfig configures the remediation executor endpoint.
type ExecutorClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// RecommenderClientConfig configures the AI recommendation service. Leaving
// BaseURL empty disables the AI path and escalates everything a rule cannot
// handle.
type RecommenderClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsClientConfig configures the metrics backend used for outcome
// verification.
type MetricsClientConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	Timeout        time.Duration `yaml:"timeout"`
	SettleWindow   time.Duration `yaml:"settleWindow"`
	RecoveryFactor float64       `yaml:"recoveryFactor"`
}

// EnsembleConfig controls how detector votes are combined.
type EnsembleConfig struct {
	Strategy          string  `yaml:"strategy"`
	MajorityK         int     `yaml:"majorityK"`
	WeightedThreshold float64 `yaml:"weightedThreshold"`
	ZScoreThreshold   float64 `yaml:"zscoreThreshold"`
}

// ArbiterConfig controls decision arbitration thresholds.
type ArbiterConfig struct {
	HighConfidence   float64       `yaml:"highConfidence"`
	LowConfidence    float64       `yaml:"lowConfidence"`
	RecommendTimeout time.Duration `yaml:"recommendTimeout"`
}

// SafetyConfig controls circuit breakers and action execution limits.
type SafetyConfig struct {
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
	ExecTimeout      time.Duration `yaml:"execTimeout"`
}

// RulesConfig controls rule-pack loading and hot reload.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// StorageConfig controls the local decision archive.
type StorageConfig struct {
	Path             string        `yaml:"path"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// CacheConfig controls Redis-backed shared state and snapshots.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	SnapshotTTL  time.Duration `yaml:"snapshotTTL"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("COORD_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Executor:    ExecutorClientConfig{Timeout: 30 * time.Second},
			Recommender: RecommenderClientConfig{Timeout: 5 * time.Second},
			Metrics: MetricsClientConfig{
				Timeout:        5 * time.Second,
				SettleWindow:   30 * time.Second,
				RecoveryFactor: 0.9,
			},
		},
		Ensemble: EnsembleConfig{
			Strategy:          "majority",
			WeightedThreshold: 0.5,
			ZScoreThreshold:   2.5,
		},
		Arbiter: ArbiterConfig{
			HighConfidence:   0.90,
			LowConfidence:    0.75,
			RecommendTimeout: 5 * time.Second,
		},
		Safety: SafetyConfig{
			BreakerThreshold: 3,
			BreakerReset:     5 * time.Minute,
			ExecTimeout:      30 * time.Second,
		},
		Rules: RulesConfig{
			Path:  "configs/rules/default.yaml",
			Watch: false,
		},
		Storage: StorageConfig{
			Path:             "coord-engine.db",
			SnapshotInterval: time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "logs/audit.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 90,
			Compress:   true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COORD_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("COORD_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("COORD_EXECUTOR_BASE_URL"); v != "" {
		cfg.Clients.Executor.BaseURL = v
	}
	if v := os.Getenv("COORD_RECOMMENDER_BASE_URL"); v != "" {
		cfg.Clients.Recommender.BaseURL = v
	}
	if v := os.Getenv("COORD_RECOMMENDER_API_KEY"); v != "" {
		cfg.Clients.Recommender.APIKey = v
	}
	if v := os.Getenv("COORD_METRICS_BASE_URL"); v != "" {
		cfg.Clients.Metrics.BaseURL = v
	}
	if v := os.Getenv("COORD_ENSEMBLE_STRATEGY"); v != "" {
		cfg.Ensemble.Strategy = v
	}
	if v := os.Getenv("COORD_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("COORD_RULES_WATCH"); v != "" {
		cfg.Rules.Watch = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("COORD_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("COORD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COORD_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("COORD_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("COORD_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("COORD_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("COORD_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("COORD_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("COORD_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("COORD_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("COORD_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("COORD_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Safety.BreakerThreshold = n
		}
	}
	if v := os.Getenv("COORD_BREAKER_RESET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Safety.BreakerReset = d
		}
	}
	if v := os.Getenv("COORD_EXEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Safety.ExecTimeout = d
		}
	}
	if v := os.Getenv("COORD_ARBITER_HIGH_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Arbiter.HighConfidence = f
		}
	}
	if v := os.Getenv("COORD_ARBITER_LOW_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Arbiter.LowConfidence = f
		}
	}
}
