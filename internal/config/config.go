package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjannette/trahn-marketdata/internal/repository"
)

const (
	CachePolicyCalendarDay = "calendar-day"
	CachePolicyRolling     = "rolling"
)

var defaultExcludeSymbols = []string{
	"USDT", "USDC", "DAI", "BUSD", "TUSD", "USDP", "FDUSD", "USDE", "PYUSD", "USDS",
}

type Config struct {
	// Secrets (from .env)
	CoinGeckoAPIKey string
	WebhookURL      string
	BotName         string
	APIKey          string
	CORSAllowOrigin string

	// Database
	DBDriver   string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	SQLitePath string

	// Upstream market data
	CoinGeckoBaseURL   string
	MinRequestInterval time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RequestTimeout     time.Duration

	Pipeline Pipeline

	// Analytics
	MetricsWindow int

	// Timing
	ScheduleInterval time.Duration
	APIPort          int

	// Logging
	LogLevel  string
	LogFormat string
}

// Pipeline holds the knobs of a single ETL run. It can be seeded from the
// YAML file named by ETL_CONFIG_FILE; environment variables take precedence.
type Pipeline struct {
	TopN                      int           `yaml:"top_n"`
	Days                      int           `yaml:"days"`
	VsCurrency                string        `yaml:"vs_currency"`
	ExcludeSymbols            []string      `yaml:"exclude_symbols"`
	ExcludeStablecoinCategory bool          `yaml:"exclude_stablecoin_category"`
	MaxPages                  int           `yaml:"max_pages"`
	Concurrency               int           `yaml:"concurrency"`
	CacheDir                  string        `yaml:"cache_dir"`
	CachePolicy               string        `yaml:"cache_policy"`
	CacheTTL                  time.Duration `yaml:"cache_ttl"`
	Timezone                  string        `yaml:"timezone"`
	ChunkSize                 int           `yaml:"chunk_size"`
	RefreshMetrics            bool          `yaml:"refresh_metrics"`
	MinAssets                 int           `yaml:"min_assets"`
	MaxRejectRatio            float64       `yaml:"max_reject_ratio"`
}

func defaultPipeline() Pipeline {
	return Pipeline{
		TopN:                      20,
		Days:                      30,
		VsCurrency:                "usd",
		ExcludeSymbols:            append([]string(nil), defaultExcludeSymbols...),
		ExcludeStablecoinCategory: true,
		MaxPages:                  5,
		Concurrency:               4,
		CacheDir:                  "data/raw/coingecko",
		CachePolicy:               CachePolicyCalendarDay,
		CacheTTL:                  time.Hour,
		Timezone:                  "UTC",
		ChunkSize:                 1000,
		RefreshMetrics:            true,
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	p := defaultPipeline()
	if path := os.Getenv("ETL_CONFIG_FILE"); path != "" {
		if err := loadPipelineFile(path, &p); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		// Secrets
		CoinGeckoAPIKey: envStr("COINGECKO_API_KEY", ""),
		WebhookURL:      envStr("WEBHOOK_URL", ""),
		BotName:         envStr("BOT_NAME", "TrahnMarketData"),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		// Database
		DBDriver:   strings.ToLower(envStr("DB_DRIVER", "postgres")),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "trahn_marketdata"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		SQLitePath: envStr("SQLITE_PATH", "data/marketdata.db"),

		// Upstream
		CoinGeckoBaseURL:   envStr("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
		MinRequestInterval: envDuration("ETL_MIN_REQUEST_INTERVAL", 2500*time.Millisecond),
		RetryMaxAttempts:   envInt("ETL_RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:     envDuration("ETL_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:      envDuration("ETL_RETRY_MAX_DELAY", 60*time.Second),
		RequestTimeout:     envDuration("ETL_REQUEST_TIMEOUT", 30*time.Second),

		Pipeline: Pipeline{
			TopN:                      envInt("ETL_TOP_N", p.TopN),
			Days:                      envInt("ETL_DAYS", p.Days),
			VsCurrency:                strings.ToLower(envStr("ETL_VS_CURRENCY", p.VsCurrency)),
			ExcludeSymbols:            envList("ETL_EXCLUDE_SYMBOLS", p.ExcludeSymbols),
			ExcludeStablecoinCategory: envBool("ETL_EXCLUDE_STABLECOIN_CATEGORY", p.ExcludeStablecoinCategory),
			MaxPages:                  envInt("ETL_MAX_PAGES", p.MaxPages),
			Concurrency:               envInt("ETL_CONCURRENCY", p.Concurrency),
			CacheDir:                  envStr("ETL_CACHE_DIR", p.CacheDir),
			CachePolicy:               strings.ToLower(envStr("ETL_CACHE_POLICY", p.CachePolicy)),
			CacheTTL:                  envDuration("ETL_CACHE_TTL", p.CacheTTL),
			Timezone:                  envStr("ETL_TIMEZONE", p.Timezone),
			ChunkSize:                 envInt("ETL_CHUNK_SIZE", p.ChunkSize),
			RefreshMetrics:            envBool("ETL_REFRESH_METRICS", p.RefreshMetrics),
			MinAssets:                 envInt("ETL_MIN_ASSETS", p.MinAssets),
			MaxRejectRatio:            envFloat("ETL_MAX_REJECT_RATIO", p.MaxRejectRatio),
		},

		MetricsWindow: envInt("METRICS_WINDOW", 30),

		ScheduleInterval: envDuration("ETL_SCHEDULE_INTERVAL", 24*time.Hour),
		APIPort:          envInt("API_PORT", 3001),

		LogLevel:  strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envStr("LOG_FORMAT", "text")),
	}

	return cfg, nil
}

func loadPipelineFile(path string, p *Pipeline) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []string

	switch c.DBDriver {
	case "postgres":
		if c.DBUser == "" {
			errs = append(errs, "DB_USER is required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}

	p := c.Pipeline
	if p.TopN <= 0 {
		errs = append(errs, "ETL_TOP_N must be positive")
	}
	if p.Days <= 0 {
		errs = append(errs, "ETL_DAYS must be positive")
	}
	if p.Concurrency <= 0 {
		errs = append(errs, "ETL_CONCURRENCY must be positive")
	}
	if p.ChunkSize <= 0 || p.ChunkSize > repository.MaxChunkSize {
		errs = append(errs, fmt.Sprintf("ETL_CHUNK_SIZE must be between 1 and %d", repository.MaxChunkSize))
	}
	if p.CachePolicy != CachePolicyCalendarDay && p.CachePolicy != CachePolicyRolling {
		errs = append(errs, fmt.Sprintf("ETL_CACHE_POLICY must be %s or %s", CachePolicyCalendarDay, CachePolicyRolling))
	}
	if p.CachePolicy == CachePolicyRolling && p.CacheTTL <= 0 {
		errs = append(errs, "ETL_CACHE_TTL must be positive for the rolling cache policy")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("ETL_TIMEZONE %q is not a known location", p.Timezone))
	}
	if p.MaxRejectRatio < 0 || p.MaxRejectRatio > 1 {
		errs = append(errs, "ETL_MAX_REJECT_RATIO must be between 0 and 1")
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, "ETL_RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.MetricsWindow < 2 {
		errs = append(errs, "METRICS_WINDOW must be at least 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Location resolves the canonical timezone used for calendar dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogSummary reports the effective configuration without secrets.
func (c *Config) LogSummary(logger *slog.Logger) {
	p := c.Pipeline
	logger.Info("configuration",
		"db_driver", c.DBDriver,
		"top_n", p.TopN,
		"days", p.Days,
		"vs_currency", p.VsCurrency,
		"exclude_symbols", strings.Join(p.ExcludeSymbols, ","),
		"exclude_stablecoin_category", p.ExcludeStablecoinCategory,
		"concurrency", p.Concurrency,
		"cache_dir", p.CacheDir,
		"cache_policy", p.CachePolicy,
		"timezone", p.Timezone,
		"metrics_window", c.MetricsWindow,
		"coingecko_key", boolLabel(c.CoinGeckoAPIKey != "", "configured", "not set"),
		"api_auth", boolLabel(c.APIKey != "", "enabled", "disabled"),
	)
	if c.APIKey == "" {
		logger.Warn("API_KEY not set, REST API has no authentication")
	}
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
