// Package config loads process settings from the environment and the
// ensemble definition from a YAML file.
package config

import (
	"os"
	"strconv"
	"strings"

	"stockcast/internal/domain"

	"github.com/rs/zerolog"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	HTTPPort    string
	LogLevel    string
	LogFormat   string
	// APIKey guards the mutating ML endpoints. Empty disables the check.
	APIKey string

	// EnsembleConfigPath points at the YAML ensemble definition. Empty
	// means built-in defaults.
	EnsembleConfigPath string

	Watchlist []string

	MLEnabled         bool
	MLInterval        string
	MLHorizonBars     int
	MLTrainWindowDays int
	MLInferPollSecs   int
	MLResolvePollSecs int
	MLTrainHourUTC    int
	MLMinTrainSamples int
	MLValidateOnTrain bool
	MLTrainOnStart    bool
}

// Load reads the environment. Invalid numeric values fall back to their
// defaults with a warning.
func Load(log zerolog.Logger) *Config {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		HTTPPort:           envString("PORT", "8080"),
		LogLevel:           envString("LOG_LEVEL", "info"),
		LogFormat:          envString("LOG_FORMAT", "json"),
		EnsembleConfigPath: strings.TrimSpace(os.Getenv("ENSEMBLE_CONFIG")),
		APIKey:             strings.TrimSpace(os.Getenv("API_KEY")),
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.Watchlist = domain.DefaultWatchlist
	if v := strings.TrimSpace(os.Getenv("WATCHLIST")); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Watchlist = symbols
		}
	}

	cfg.MLEnabled = envBool("ML_ENABLED")
	cfg.MLValidateOnTrain = envBool("ML_VALIDATE_ON_TRAIN")
	cfg.MLTrainOnStart = envBool("ML_TRAIN_ON_START")

	cfg.MLInterval = envString("ML_INTERVAL", "1h")
	if !domain.IsSupportedInterval(cfg.MLInterval) {
		log.Warn().Str("interval", cfg.MLInterval).Msg("unsupported ML_INTERVAL, defaulting to 1h")
		cfg.MLInterval = "1h"
	}

	cfg.MLHorizonBars = envInt(log, "ML_HORIZON_BARS", 4, 1, 0)
	cfg.MLTrainWindowDays = envInt(log, "ML_TRAIN_WINDOW_DAYS", 180, 1, 0)
	cfg.MLInferPollSecs = envInt(log, "ML_INFER_POLL_SECS", 900, 1, 0)
	cfg.MLResolvePollSecs = envInt(log, "ML_RESOLVE_POLL_SECS", 1800, 1, 0)
	cfg.MLTrainHourUTC = envInt(log, "ML_TRAIN_HOUR_UTC", 22, 0, 23)
	cfg.MLMinTrainSamples = envInt(log, "ML_MIN_TRAIN_SAMPLES", 500, 1, 0)

	return cfg
}

// LabelSpan is how many pooled feature rows one target reaches forward:
// rows interleave every watched symbol per bar and a target closes
// MLHorizonBars bars later.
func (c *Config) LabelSpan() int {
	return max(1, c.MLHorizonBars) * max(1, len(c.Watchlist))
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true")
}

// envInt parses key within [lo, hi]; hi <= 0 means unbounded.
func envInt(log zerolog.Logger, key string, fallback, lo, hi int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || (hi > 0 && n > hi) {
		log.Warn().Str("key", key).Str("value", v).Int("default", fallback).Msg("invalid setting, using default")
		return fallback
	}
	return n
}
