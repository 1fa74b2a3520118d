package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterhellberg/duration"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Quiz      QuizConfig      `mapstructure:"quiz"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Jobs      JobsConfig      `mapstructure:"jobs"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver    string // mysql, postgres, sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"ssl_mode"`
	// Path is used by the sqlite driver
	Path string
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int `mapstructure:"pool_size"`
}

// LogConfig File 为空时只输出到控制台
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TracingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	SampleRatio       float64 `mapstructure:"sample_ratio"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// QuizConfig 测验引擎策略
type QuizConfig struct {
	RecomputeAnalyticsOnComplete bool `mapstructure:"recompute_analytics_on_complete"`
}

type AnalyticsConfig struct {
	// StaleAfter accepts day units, e.g. "1d" or "36h"
	StaleAfter string `mapstructure:"stale_after"`
	CacheTTL   string `mapstructure:"cache_ttl"`

	staleAfter time.Duration
	cacheTTL   time.Duration
}

func (a AnalyticsConfig) StaleAfterDuration() time.Duration {
	return a.staleAfter
}

func (a AnalyticsConfig) CacheTTLDuration() time.Duration {
	return a.cacheTTL
}

// LedgerConfig 教师收益账本
type LedgerConfig struct {
	// CommissionBPS is the platform cut in basis points (3000 = 30.00%)
	CommissionBPS    int64 `mapstructure:"commission_bps"`
	MinPayoutCents   int64 `mapstructure:"min_payout_cents"`
	Currency         string
	ProvisionRetries int `mapstructure:"provision_retries"`
}

type MessagingConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
}

type JobsConfig struct {
	AnalyticsRefresh     string `mapstructure:"analytics_refresh"`
	AnalyticsConcurrency int    `mapstructure:"analytics_concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "coursehub.db")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("rate_limit.max_requests", 100000)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("quiz.recompute_analytics_on_complete", false)
	v.SetDefault("analytics.stale_after", "P1D")
	v.SetDefault("analytics.cache_ttl", "PT1H")
	v.SetDefault("ledger.commission_bps", 3000)
	v.SetDefault("ledger.min_payout_cents", 1000)
	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.provision_retries", 3)
	v.SetDefault("messaging.port", "5672")
	v.SetDefault("jobs.analytics_refresh", "@hourly")
	v.SetDefault("jobs.analytics_concurrency", 4)
}

func LoadConfig(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("COURSEHUB")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// RabbitMQ
	v.BindEnv("messaging.enabled", "RABBITMQ_ENABLED")
	v.BindEnv("messaging.host", "RABBITMQ_HOST")
	v.BindEnv("messaging.port", "RABBITMQ_PORT")
	v.BindEnv("messaging.user", "RABBITMQ_USER")
	v.BindEnv("messaging.password", "RABBITMQ_PASSWORD")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}

	var err error
	if c.Analytics.staleAfter, err = parseDuration(c.Analytics.StaleAfter, 24*time.Hour); err != nil {
		return fmt.Errorf("analytics.stale_after: %w", err)
	}
	if c.Analytics.cacheTTL, err = parseDuration(c.Analytics.CacheTTL, time.Hour); err != nil {
		return fmt.Errorf("analytics.cache_ttl: %w", err)
	}

	if c.Ledger.CommissionBPS < 0 || c.Ledger.CommissionBPS > 10000 {
		return fmt.Errorf("ledger.commission_bps must be within 0..10000, got %d", c.Ledger.CommissionBPS)
	}
	if c.Ledger.MinPayoutCents <= 0 {
		c.Ledger.MinPayoutCents = 1000
	}
	if c.Ledger.ProvisionRetries <= 0 {
		c.Ledger.ProvisionRetries = 3
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within 0..1, got %v", c.Tracing.SampleRatio)
	}
	if c.Jobs.AnalyticsConcurrency <= 0 {
		c.Jobs.AnalyticsConcurrency = 4
	}

	if c.Database.Driver == "sqlite" && c.Database.Path != ":memory:" {
		if dir := filepath.Dir(c.Database.Path); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				os.MkdirAll(dir, 0755)
			}
		}
	}
	return nil
}

// parseDuration 支持 RFC3339 写法 (P1D、PT1H)、按天简写 (2d) 以及 Go 写法 (90m)
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}

	var (
		d   time.Duration
		err error
	)
	switch {
	case strings.HasPrefix(s, "P"):
		d, err = duration.Parse(s)
	case strings.HasSuffix(s, "d"):
		d, err = duration.Parse("P" + strings.TrimSuffix(s, "d") + "D")
	default:
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// Default returns a config with every default applied, used by tests and the sqlite dev profile.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: unmarshal defaults: %v", err))
	}
	// 内置默认值必须能通过校验
	if err := cfg.normalize(); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}
