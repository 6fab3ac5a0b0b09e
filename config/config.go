package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Coincapflow CoincapflowConfig `yaml:"coincapflow"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Source      SourceConfig      `yaml:"source"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type CoincapflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	PushgatewayURL string           `yaml:"pushgateway_url"`
	Job            string           `yaml:"job"`
	ListenAddr     string           `yaml:"listen_addr"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type SourceConfig struct {
	Coincap CoincapConfig `yaml:"coincap"`
}

type CoincapConfig struct {
	BaseURL         string               `yaml:"base_url"`
	APIKey          string               `yaml:"api_key"`
	UserAgent       string               `yaml:"user_agent"`
	Timeout         time.Duration        `yaml:"timeout"`
	LocalIP         string               `yaml:"local_ip"`
	ConnectionPool  ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit       RateLimitConfig      `yaml:"rate_limit"`
	AssetsLimit     int                  `yaml:"assets_limit"`
	ExchangesLimit  int                  `yaml:"exchanges_limit"`
	HistoryInterval string               `yaml:"history_interval"`
	Markets         MarketsFilterConfig  `yaml:"markets"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// MarketsFilterConfig is the fixed asset/quote filter of the global trading pairs listing.
type MarketsFilterConfig struct {
	AssetID string `yaml:"asset_id"`
	QuoteID string `yaml:"quote_id"`
}

type PipelineConfig struct {
	Interval     time.Duration      `yaml:"interval"`
	MarketTrades MarketTradesConfig `yaml:"market_trades"`
}

type MarketTradesConfig struct {
	// Match is "exchange" (every listing row of a paired exchange goes to every pair of
	// that exchange) or "pair" (exchange, base and quote ids must all agree).
	Match string `yaml:"match"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

type PostgresConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	SSLMode        string        `yaml:"ssl_mode"`
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CreateDatabase bool          `yaml:"create_database"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Compression     string `yaml:"compression"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	MatchByExchange = "exchange"
	MatchByPair     = "pair"
)

// Default returns the configuration used for every key the YAML file leaves out.
func Default() Config {
	return Config{
		Coincapflow: CoincapflowConfig{Name: "coincapflow", Version: "dev"},
		Metrics: MetricsConfig{
			Job:        "coincapflow",
			CloudWatch: CloudWatchConfig{Namespace: "CoincapFlow", Dashboard: "CoincapFlow"},
		},
		Source: SourceConfig{
			Coincap: CoincapConfig{
				BaseURL:   "https://api.coincap.io/v2/",
				UserAgent: "coincapflow/1.0",
				Timeout:   30 * time.Second,
				ConnectionPool: ConnectionPoolConfig{
					MaxIdleConns:    4,
					MaxConnsPerHost: 4,
					IdleConnTimeout: 90 * time.Second,
				},
				RateLimit:       RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1},
				AssetsLimit:     50,
				ExchangesLimit:  20,
				HistoryInterval: "d1",
				Markets:         MarketsFilterConfig{AssetID: "bitcoin", QuoteID: "tether"},
			},
		},
		Pipeline: PipelineConfig{
			Interval:     24 * time.Hour,
			MarketTrades: MarketTradesConfig{Match: MatchByExchange},
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				Database:       "DE-Coincap",
				SSLMode:        "disable",
				MaxConns:       5,
				ConnectTimeout: 10 * time.Second,
			},
			S3: S3Config{Prefix: "coincapflow", Compression: "snappy"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(resolveEnvSpecificPath(path, DefaultConfigPath, EnvironmentConfigPaths))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployment secrets live in the environment (or .env) rather than YAML.
func applyEnvOverrides(config *Config) {
	pg := &config.Storage.Postgres
	if v := os.Getenv("DB_USER"); v != "" {
		pg.User = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		pg.Password = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		pg.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			pg.Port = port
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		pg.Database = strings.TrimSpace(v)
	}

	cc := &config.Source.Coincap
	if v := os.Getenv("COINCAP_API_KEY"); v != "" {
		cc.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("COINCAP_BASE_URL"); v != "" {
		cc.BaseURL = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		config.Metrics.PushgatewayURL = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Coincapflow.Name == "" {
		return fmt.Errorf("coincapflow.name is required")
	}

	cc := cfg.Source.Coincap
	if cc.BaseURL == "" {
		return fmt.Errorf("source.coincap.base_url is required")
	}
	if cc.AssetsLimit <= 0 {
		return fmt.Errorf("source.coincap.assets_limit must be greater than 0")
	}
	if cc.ExchangesLimit <= 0 {
		return fmt.Errorf("source.coincap.exchanges_limit must be greater than 0")
	}
	if cc.HistoryInterval == "" {
		return fmt.Errorf("source.coincap.history_interval is required")
	}
	if cc.Markets.AssetID == "" || cc.Markets.QuoteID == "" {
		return fmt.Errorf("source.coincap.markets.asset_id and quote_id are required")
	}
	if cc.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("source.coincap.rate_limit.requests_per_second must not be negative")
	}

	switch cfg.Pipeline.MarketTrades.Match {
	case MatchByExchange, MatchByPair:
	default:
		return fmt.Errorf("pipeline.market_trades.match must be %q or %q", MatchByExchange, MatchByPair)
	}
	if cfg.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.interval must be greater than 0")
	}

	pg := cfg.Storage.Postgres
	if pg.Database == "" {
		return fmt.Errorf("storage.postgres.database is required")
	}
	if pg.Port <= 0 || pg.Port > 65535 {
		return fmt.Errorf("storage.postgres.port %d is out of range", pg.Port)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
