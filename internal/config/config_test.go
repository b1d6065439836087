package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":8085" {
		t.Errorf("server address = %s", cfg.Server.Address)
	}
	if cfg.Server.MetricsAddress != ":2112" {
		t.Errorf("metrics address = %s", cfg.Server.MetricsAddress)
	}
	if cfg.Ensemble.Strategy != "majority" {
		t.Errorf("strategy = %s", cfg.Ensemble.Strategy)
	}
	if cfg.Arbiter.HighConfidence != 0.90 || cfg.Arbiter.LowConfidence != 0.75 {
		t.Errorf("arbiter thresholds = %v / %v", cfg.Arbiter.HighConfidence, cfg.Arbiter.LowConfidence)
	}
	if cfg.Safety.BreakerThreshold != 3 || cfg.Safety.BreakerReset != 5*time.Minute {
		t.Errorf("safety = %+v", cfg.Safety)
	}
	if cfg.Clients.Metrics.RecoveryFactor != 0.9 {
		t.Errorf("recovery factor = %v", cfg.Clients.Metrics.RecoveryFactor)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Path != "logs/audit.log" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Cache.Enabled {
		t.Error("cache enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  address: ":9000"
  gracefulTimeout: 20s
clients:
  executor:
    baseURL: "http://executor.internal:8080"
    timeout: 45s
ensemble:
  strategy: weighted
  weightedThreshold: 0.6
rules:
  path: /etc/coord/rules.yaml
  watch: true
logging:
  level: debug
  json: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("server address = %s", cfg.Server.Address)
	}
	if cfg.Server.GracefulTimeout != 20*time.Second {
		t.Errorf("graceful timeout = %v", cfg.Server.GracefulTimeout)
	}
	if cfg.Clients.Executor.BaseURL != "http://executor.internal:8080" {
		t.Errorf("executor base URL = %s", cfg.Clients.Executor.BaseURL)
	}
	if cfg.Clients.Executor.Timeout != 45*time.Second {
		t.Errorf("executor timeout = %v", cfg.Clients.Executor.Timeout)
	}
	if cfg.Ensemble.Strategy != "weighted" || cfg.Ensemble.WeightedThreshold != 0.6 {
		t.Errorf("ensemble = %+v", cfg.Ensemble)
	}
	if cfg.Rules.Path != "/etc/coord/rules.yaml" || !cfg.Rules.Watch {
		t.Errorf("rules = %+v", cfg.Rules)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}

	// Untouched sections keep defaults.
	if cfg.Safety.BreakerThreshold != 3 {
		t.Errorf("safety defaults lost: %+v", cfg.Safety)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COORD_SERVER_ADDRESS", ":7777")
	t.Setenv("COORD_EXECUTOR_BASE_URL", "http://exec:1234")
	t.Setenv("COORD_ENSEMBLE_STRATEGY", "all")
	t.Setenv("COORD_RULES_WATCH", "true")
	t.Setenv("COORD_LOG_FORMAT", "json")
	t.Setenv("COORD_CACHE_ENABLED", "1")
	t.Setenv("COORD_CACHE_ADDR", "redis:6379")
	t.Setenv("COORD_BREAKER_THRESHOLD", "5")
	t.Setenv("COORD_BREAKER_RESET", "90s")
	t.Setenv("COORD_ARBITER_HIGH_CONFIDENCE", "0.85")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":7777" {
		t.Errorf("server address = %s", cfg.Server.Address)
	}
	if cfg.Clients.Executor.BaseURL != "http://exec:1234" {
		t.Errorf("executor base URL = %s", cfg.Clients.Executor.BaseURL)
	}
	if cfg.Ensemble.Strategy != "all" {
		t.Errorf("strategy = %s", cfg.Ensemble.Strategy)
	}
	if !cfg.Rules.Watch {
		t.Error("rules watch not enabled")
	}
	if !cfg.Logging.JSON {
		t.Error("log format override ignored")
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "redis:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Safety.BreakerThreshold != 5 || cfg.Safety.BreakerReset != 90*time.Second {
		t.Errorf("safety = %+v", cfg.Safety)
	}
	if cfg.Arbiter.HighConfidence != 0.85 {
		t.Errorf("arbiter high confidence = %v", cfg.Arbiter.HighConfidence)
	}
}

func TestEnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("COORD_BREAKER_THRESHOLD", "not-a-number")
	t.Setenv("COORD_BREAKER_RESET", "bogus")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Safety.BreakerThreshold != 3 || cfg.Safety.BreakerReset != 5*time.Minute {
		t.Errorf("malformed overrides applied: %+v", cfg.Safety)
	}
}

func TestEnvFallbackConfigPath(t *testing.T) {
	content := "server:\n  address: \":6500\"\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COORD_ENGINE_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":6500" {
		t.Errorf("server address = %s", cfg.Server.Address)
	}
}
