package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the full runtime configuration. Only BOT_TOKEN is
// required; everything else has a sensible default so the addon runs
// with an empty environment beyond the token.
type AppConfig struct {
	// BotToken authenticates against the Telegram Bot API. Required;
	// startup fails fast without it.
	BotToken string

	LogLevel string

	// DBPath is the SQLite file; /data is the addon's persistent volume.
	DBPath string

	// MoMoURL overrides the ISCIII dataset endpoint (tests, mirrors).
	MoMoURL string

	// HTTPTimeout bounds a single outbound fetch attempt.
	HTTPTimeout time.Duration

	Port string

	// Staleness policy.
	GracePeriod    time.Duration
	RefreshTimeout time.Duration
	LookbackDays   int

	// Retry budget for transient provider failures.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Query tuning.
	AnomalyThreshold float64
	TrendMinDelta    float64

	// Multi-step command sessions.
	SessionTimeout time.Duration
	SessionSweep   time.Duration

	// Nightly refresh and default notification time, on Timezone.
	RefreshHour   int
	RefreshMinute int
	NotifyHour    int
	NotifyMinute  int
	Timezone      *time.Location
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is not set; configure it in the addon options")
	}

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.DBPath = getenvDefault("MOMO_DB_PATH", "/data/momo_bot.db")
	cfg.MoMoURL = os.Getenv("MOMO_DATA_URL")
	cfg.Port = getenvDefault("PORT", "8080")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("MOMO_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.GracePeriod, err = getenvDuration("MOMO_GRACE_PERIOD", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshTimeout, err = getenvDuration("MOMO_REFRESH_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffInitial, err = getenvDuration("MOMO_BACKOFF_INITIAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = getenvDuration("MOMO_BACKOFF_MAX", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTimeout, err = getenvDuration("MOMO_SESSION_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionSweep, err = getenvDuration("MOMO_SESSION_SWEEP", time.Minute); err != nil {
		return nil, err
	}

	cfg.LookbackDays = getenvInt("MOMO_LOOKBACK_DAYS", 60)
	cfg.MaxRetries = getenvInt("MOMO_MAX_RETRIES", 2)
	cfg.AnomalyThreshold = getenvFloat("MOMO_ANOMALY_THRESHOLD", 15)
	cfg.TrendMinDelta = getenvFloat("MOMO_TREND_MIN_DELTA", 0.5)

	// The dataset is published nightly; 04:00 Madrid time matches the
	// provider's publication schedule.
	cfg.RefreshHour = getenvInt("MOMO_REFRESH_HOUR", 4)
	cfg.RefreshMinute = getenvInt("MOMO_REFRESH_MINUTE", 0)
	cfg.NotifyHour = getenvInt("MOMO_NOTIFY_HOUR", 12)
	cfg.NotifyMinute = getenvInt("MOMO_NOTIFY_MINUTE", 0)

	tzName := getenvDefault("MOMO_TIMEZONE", "Europe/Madrid")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid MOMO_TIMEZONE %q: %w", tzName, err)
	}
	cfg.Timezone = loc

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
