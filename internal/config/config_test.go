package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
items:
  viewing_duration_max_sec: 30
  direct_default_max_replays: 2
  direct_ttl_ceiling: 12h
sweep:
  interval: 30s
limits:
  create_per_minute: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Items.ViewingDurationMaxSec != 30 {
		t.Fatalf("unexpected viewing_duration_max_sec: %d", cfg.Items.ViewingDurationMaxSec)
	}
	if cfg.Items.DirectDefaultMaxReplays != 2 {
		t.Fatalf("unexpected direct_default_max_replays: %d", cfg.Items.DirectDefaultMaxReplays)
	}
	if cfg.Items.DirectTTLCeiling.String() != "12h0m0s" {
		t.Fatalf("unexpected direct_ttl_ceiling: %s", cfg.Items.DirectTTLCeiling)
	}
	if cfg.Sweep.Interval.String() != "30s" {
		t.Fatalf("unexpected sweep interval: %s", cfg.Sweep.Interval)
	}
	if cfg.Limits.CreatePerMinute != 5 {
		t.Fatalf("unexpected create_per_minute: %d", cfg.Limits.CreatePerMinute)
	}

	if cfg.Items.ViewingDurationMinSec != 1 {
		t.Fatalf("viewing_duration_min_sec default should stay 1, got %d", cfg.Items.ViewingDurationMinSec)
	}
	if cfg.Items.BroadcastTTL.String() != "24h0m0s" {
		t.Fatalf("broadcast_ttl default should stay 24h, got %s", cfg.Items.BroadcastTTL)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http addr default should stay :8080, got %s", cfg.HTTP.Addr)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("POSTGRES_DSN", "postgres://env:env@db:5432/peek")
	t.Setenv("ITEMS_BROADCAST_TTL", "48h")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Postgres.DSN != "postgres://env:env@db:5432/peek" {
		t.Fatalf("unexpected postgres dsn: %s", cfg.Postgres.DSN)
	}
	if cfg.Items.BroadcastTTL.String() != "48h0m0s" {
		t.Fatalf("unexpected broadcast ttl: %s", cfg.Items.BroadcastTTL)
	}
	if cfg.Sweep.Interval.String() != "15s" {
		t.Fatalf("unexpected sweep interval: %s", cfg.Sweep.Interval)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis db: %d", cfg.Redis.DB)
	}
}

func TestLoadRejectsMalformedEnvDuration(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SWEEP_INTERVAL", "soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for malformed SWEEP_INTERVAL")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_WRITE_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"POSTGRES_DSN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"S3_ENDPOINT",
		"S3_ACCESS_KEY",
		"S3_SECRET_KEY",
		"S3_BUCKET",
		"S3_USE_SSL",
		"AMQP_URL",
		"AMQP_EXCHANGE",
		"AMQP_ROUTING_KEY",
		"AMQP_QUEUE",
		"AUTH_TOKEN_SECRET",
		"SWEEP_TOKEN",
		"ITEMS_VIEWING_DURATION_MIN_SEC",
		"ITEMS_VIEWING_DURATION_MAX_SEC",
		"ITEMS_DIRECT_DEFAULT_MAX_REPLAYS",
		"ITEMS_DIRECT_TTL_CEILING",
		"ITEMS_BROADCAST_TTL",
		"ITEMS_PREVIEW_URL_TTL",
		"SWEEP_INTERVAL",
		"SWEEP_BATCH_LIMIT",
	} {
		t.Setenv(key, "")
	}
}
