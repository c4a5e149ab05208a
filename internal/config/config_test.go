package config

import (
	"testing"

	"stockcast/internal/domain"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "PORT", "WATCHLIST", "ML_ENABLED", "ML_INTERVAL", "ML_HORIZON_BARS", "ML_TRAIN_HOUR_UTC", "ENSEMBLE_CONFIG"} {
		t.Setenv(key, "")
	}

	cfg := Load(zerolog.Nop())
	if cfg.RedisURL != "localhost:6379" {
		t.Fatalf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default port, got %s", cfg.HTTPPort)
	}
	if cfg.MLEnabled {
		t.Fatal("ml should be disabled by default")
	}
	if cfg.MLInterval != "1h" || cfg.MLHorizonBars != 4 || cfg.MLTrainHourUTC != 22 {
		t.Fatalf("unexpected ml defaults: %+v", cfg)
	}
	if len(cfg.Watchlist) != len(domain.DefaultWatchlist) {
		t.Fatalf("expected default watchlist, got %v", cfg.Watchlist)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("WATCHLIST", " aapl, msft ,,")
	t.Setenv("ML_ENABLED", "TRUE")
	t.Setenv("ML_INTERVAL", "1d")
	t.Setenv("ML_HORIZON_BARS", "2")
	t.Setenv("ENSEMBLE_CONFIG", "/etc/stockcast/ensemble.yaml")
	t.Setenv("API_KEY", " s3cret ")
	t.Setenv("ML_TRAIN_ON_START", "true")

	cfg := Load(zerolog.Nop())
	if cfg.DatabaseURL != "postgres://example" || cfg.RedisURL != "redis:6379" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Watchlist) != 2 || cfg.Watchlist[0] != "AAPL" || cfg.Watchlist[1] != "MSFT" {
		t.Fatalf("unexpected watchlist: %v", cfg.Watchlist)
	}
	if !cfg.MLEnabled || cfg.MLInterval != "1d" || cfg.MLHorizonBars != 2 {
		t.Fatalf("unexpected ml config: %+v", cfg)
	}
	if cfg.EnsembleConfigPath != "/etc/stockcast/ensemble.yaml" {
		t.Fatalf("unexpected ensemble path %q", cfg.EnsembleConfigPath)
	}
	if cfg.APIKey != "s3cret" || !cfg.MLTrainOnStart {
		t.Fatalf("unexpected api/startup config: %+v", cfg)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ML_INTERVAL", "5m")
	t.Setenv("ML_HORIZON_BARS", "bad")
	t.Setenv("ML_TRAIN_HOUR_UTC", "24")

	cfg := Load(zerolog.Nop())
	if cfg.MLInterval != "1h" {
		t.Fatalf("unsupported interval should fall back, got %s", cfg.MLInterval)
	}
	if cfg.MLHorizonBars != 4 {
		t.Fatalf("invalid horizon should fall back, got %d", cfg.MLHorizonBars)
	}
	if cfg.MLTrainHourUTC != 22 {
		t.Fatalf("out of range hour should fall back, got %d", cfg.MLTrainHourUTC)
	}
}
