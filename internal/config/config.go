package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App struct {
		Env string `koanf:"env"`
	} `koanf:"app"`

	Log struct {
		Level     string `koanf:"level"`
		Format    string `koanf:"format"`
		Component string `koanf:"component"`
		Source    bool   `koanf:"source"`
	} `koanf:"log"`

	DB struct {
		Driver   string `koanf:"driver"` // mysql | postgres | sqlite
		DSN      string `koanf:"dsn"`
		Host     string `koanf:"host"`
		Port     string `koanf:"port"`
		User     string `koanf:"user"`
		Password string `koanf:"password"`
		Name     string `koanf:"name"`
	} `koanf:"db"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	GRPC struct {
		Host      string  `koanf:"host"`
		Port      string  `koanf:"port"`
		RateLimit float64 `koanf:"rate_limit"` // requests per second across the server, 0 disables
		Burst     int     `koanf:"burst"`
	} `koanf:"grpc"`

	HTTP struct {
		Enabled        bool          `koanf:"enabled"`
		Host           string        `koanf:"host"`
		Port           string        `koanf:"port"`
		RequestsPerMin int           `koanf:"requests_per_min"`
		AllowedOrigins []string      `koanf:"allowed_origins"`
		ReadTimeout    time.Duration `koanf:"read_timeout"`
	} `koanf:"http"`

	Cache CacheConfig `koanf:"cache"`
	Feed  FeedConfig  `koanf:"feed"`

	Limits struct {
		Swipe   LimitPolicy `koanf:"swipe"`
		Like    LimitPolicy `koanf:"like"`
		Message LimitPolicy `koanf:"message"`
	} `koanf:"limits"`

	Lock struct {
		TTL            time.Duration `koanf:"ttl"`
		Attempts       int           `koanf:"attempts"`
		InitialBackoff time.Duration `koanf:"initial_backoff"`
		MaxBackoff     time.Duration `koanf:"max_backoff"`
	} `koanf:"lock"`

	Swipe struct {
		MaxBatchSize int `koanf:"max_batch_size"`
	} `koanf:"swipe"`

	Curation struct {
		Enabled       bool   `koanf:"enabled"`
		Schedule      string `koanf:"schedule"`
		DecaySchedule string `koanf:"decay_schedule"`
		PoolSize      int    `koanf:"pool_size"`
	} `koanf:"curation"`
}

type CacheConfig struct {
	FeedTTL         time.Duration `koanf:"feed_ttl"`
	ProfileTTL      time.Duration `koanf:"profile_ttl"`
	CountTTL        time.Duration `koanf:"count_ttl"`
	CuratedTTL      time.Duration `koanf:"curated_ttl"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type FeedConfig struct {
	Cap                 int     `koanf:"cap"`
	DefaultLimit        int     `koanf:"default_limit"`
	MaxLimit            int     `koanf:"max_limit"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	ExplorationFraction float64 `koanf:"exploration_fraction"`
	QualityLimit        int     `koanf:"quality_limit"`
	Parallelism         int     `koanf:"parallelism"`
	PoolSize            int     `koanf:"pool_size"`
}

// LimitPolicy describes one action quota. Kind is "token_bucket" or "fixed_window".
type LimitPolicy struct {
	Kind     string        `koanf:"kind"`
	Capacity int64         `koanf:"capacity"`
	Refill   float64       `koanf:"refill"` // tokens per second, token bucket only
	Window   time.Duration `koanf:"window"` // fixed window only
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	var c Config

	c.App.Env = "production"

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Component = "grpc_server"

	c.DB.Driver = "mysql"
	c.DB.Host = "localhost"
	c.DB.Port = "3306"
	c.DB.User = "root"
	c.DB.Password = "root"
	c.DB.Name = "muzz"

	c.Redis.Addr = "localhost:6379"

	c.GRPC.Host = "127.0.0.1"
	c.GRPC.Port = "50051"
	c.GRPC.RateLimit = 500
	c.GRPC.Burst = 100

	c.HTTP.Enabled = true
	c.HTTP.Host = "127.0.0.1"
	c.HTTP.Port = "8080"
	c.HTTP.RequestsPerMin = 600
	c.HTTP.AllowedOrigins = []string{"*"}
	c.HTTP.ReadTimeout = 10 * time.Second

	c.Cache = CacheConfig{
		FeedTTL:         5 * time.Minute,
		ProfileTTL:      2 * time.Minute,
		CountTTL:        30 * time.Second,
		CuratedTTL:      24 * time.Hour,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}

	c.Feed = FeedConfig{
		Cap:                 30,
		DefaultLimit:        20,
		MaxLimit:            50,
		ConfidenceThreshold: 0.7,
		ExplorationFraction: 0.15,
		QualityLimit:        3,
		Parallelism:         8,
		PoolSize:            500,
	}

	c.Limits.Swipe = LimitPolicy{Kind: "token_bucket", Capacity: 30, Refill: 1}
	c.Limits.Like = LimitPolicy{Kind: "fixed_window", Capacity: 100, Window: 24 * time.Hour}
	c.Limits.Message = LimitPolicy{Kind: "token_bucket", Capacity: 20, Refill: 0.5}

	c.Lock.TTL = 5 * time.Second
	c.Lock.Attempts = 5
	c.Lock.InitialBackoff = 20 * time.Millisecond
	c.Lock.MaxBackoff = 250 * time.Millisecond

	c.Swipe.MaxBatchSize = 50

	c.Curation.Enabled = true
	c.Curation.Schedule = "@daily"
	c.Curation.DecaySchedule = "@every 6h"
	c.Curation.PoolSize = 2000

	return c
}

// New loads configuration and falls back to defaults when loading fails.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Warn("config load failed, using defaults", "error", err)
		d := Defaults()
		return &d
	}
	return cfg
}

// Load layers defaults, an optional YAML file (CONFIG_PATH) and environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	// comma separated lists arrive from the environment as plain strings
	if origins, ok := k.Get("http.allowed_origins").(string); ok {
		_ = k.Set("http.allowed_origins", splitList(origins))
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DB.DSN == "" {
		cfg.DB.DSN = BuildDSN(cfg)
	}
	return cfg, nil
}

// BuildDSN assembles a driver specific DSN from the DB parts.
func BuildDSN(cfg *Config) string {
	switch cfg.DB.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name,
		)
	case "sqlite":
		return fmt.Sprintf("file:%s.db?_busy_timeout=5000", cfg.DB.Name)
	default:
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}
}

// envKeys maps supported environment variables to config paths.
var envKeys = map[string]string{
	"ENV":                  "app.env",
	"LOG_LEVEL":            "log.level",
	"LOG_FORMAT":           "log.format",
	"LOG_COMPONENT":        "log.component",
	"LOG_SOURCE":           "log.source",
	"DB_DRIVER":            "db.driver",
	"MYSQL_DSN":            "db.dsn",
	"DATABASE_DSN":         "db.dsn",
	"DB_HOST":              "db.host",
	"DB_PORT":              "db.port",
	"DB_USER":              "db.user",
	"DB_PASSWORD":          "db.password",
	"DB_NAME":              "db.name",
	"REDIS_ADDR":           "redis.addr",
	"REDIS_PASSWORD":       "redis.password",
	"REDIS_DB":             "redis.db",
	"GRPC_HOST":            "grpc.host",
	"GRPC_PORT":            "grpc.port",
	"GRPC_RATE_LIMIT":      "grpc.rate_limit",
	"HTTP_ENABLED":         "http.enabled",
	"HTTP_HOST":            "http.host",
	"HTTP_PORT":            "http.port",
	"HTTP_RATE_PER_MIN":    "http.requests_per_min",
	"HTTP_ALLOWED_ORIGINS": "http.allowed_origins",
	"FEED_CACHE_TTL":       "cache.feed_ttl",
	"PROFILE_CACHE_TTL":    "cache.profile_ttl",
	"FEED_CAP":             "feed.cap",
	"FEED_MAX_LIMIT":       "feed.max_limit",
	"FEED_THRESHOLD":       "feed.confidence_threshold",
	"FEED_EXPLORATION":     "feed.exploration_fraction",
	"LIKE_DAILY_LIMIT":     "limits.like.capacity",
	"SWIPE_BURST":          "limits.swipe.capacity",
	"SWIPE_REFILL":         "limits.swipe.refill",
	"LOCK_TTL":             "lock.ttl",
	"LOCK_ATTEMPTS":        "lock.attempts",
	"SWIPE_MAX_BATCH":      "swipe.max_batch_size",
	"CURATION_ENABLED":     "curation.enabled",
	"CURATION_SCHEDULE":    "curation.schedule",
}

// envKey returns "" for variables that are not part of the config, which koanf skips.
func envKey(k string) string {
	return envKeys[strings.ToUpper(strings.TrimSpace(k))]
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
