package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
db:
  dsn: postgres://db.internal:5432/scraper
  max_open_conns: 16
redis:
  addr: redis.internal:6379
  db: 2
scraper:
  max_pages: 10
  min_delay_ms: 500
  max_delay_ms: 1500
  poll_interval_seconds: 1
breaker:
  threshold: 3
pool:
  hard_limit_minutes: 10
  soft_limit_minutes: 8
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.DB.DSN != "postgres://db.internal:5432/scraper" || cfg.DB.MaxOpenConns != 16 {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("expected redis overrides to apply: %+v", cfg.Redis)
	}
	if cfg.Breaker.Threshold != 3 {
		t.Fatalf("expected breaker threshold 3, got %d", cfg.Breaker.Threshold)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging to be disabled")
	}
	if got := cfg.PollInterval(); got != time.Second {
		t.Fatalf("expected poll interval 1s, got %v", got)
	}
	minDelay, maxDelay := cfg.DelayBounds()
	if minDelay != 500*time.Millisecond || maxDelay != 1500*time.Millisecond {
		t.Fatalf("expected delay bounds 500ms..1500ms, got %v..%v", minDelay, maxDelay)
	}
	hard, soft := cfg.PoolLimits()
	if hard != 10*time.Minute || soft != 8*time.Minute {
		t.Fatalf("expected pool limits 10m/8m, got %v/%v", hard, soft)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scraper.MaxPages != 25 {
		t.Fatalf("expected default page cap 25, got %d", cfg.Scraper.MaxPages)
	}
	if cfg.Breaker.Threshold != 5 {
		t.Fatalf("expected default breaker threshold 5, got %d", cfg.Breaker.Threshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	bad := cfg
	bad.Server.Port = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero port")
	}

	bad = cfg
	bad.Scraper.MinDelayMs = 2000
	bad.Scraper.MaxDelayMs = 1000
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for inverted delay bounds")
	}

	bad = cfg
	bad.Pool.SoftLimitMinutes = 60
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for soft limit above hard limit")
	}

	bad = cfg
	bad.Auth.Enabled = true
	bad.Auth.APIKey = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for enabled auth without key")
	}
}
