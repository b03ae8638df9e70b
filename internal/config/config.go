// Package config loads the process configuration from the environment, an
// optional .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeyMemcachedEndpoint = "MEMCACHED_CONFIGURATION_ENDPOINT"
	KeyTableName         = "TABLE_NAME"
	KeyAWSRegion         = "AWS_REGION"
	KeyUseCache          = "USE_CACHE"
	KeyStoreBackend      = "STORE_BACKEND"
	KeyDynamoDBEndpoint  = "DYNAMODB_ENDPOINT"
	KeyCacheBackend      = "CACHE_BACKEND"
	KeyRedisAddr         = "REDIS_ADDR"
	KeyRedisPassword     = "REDIS_PASSWORD"
	KeyRedisDB           = "REDIS_DB"
	KeyCacheSize         = "CACHE_SIZE"
	KeyPayloadCodec      = "PAYLOAD_CODEC"
	KeyPointTTL          = "POINT_TTL"
	KeyListTTL           = "LIST_TTL"
	KeyListInvalidation  = "LIST_INVALIDATION"
	KeyCacheTimeout      = "CACHE_TIMEOUT"
	KeyStoreTimeout      = "STORE_TIMEOUT"
	KeyListenAddr        = "LISTEN_ADDR"
	KeyShutdownTimeout   = "SHUTDOWN_TIMEOUT"
	KeyMetrics           = "METRICS"
)

// Store backends.
const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Cache backends.
const (
	CacheMemcached = "memcached"
	CacheRedis     = "redis"
	CacheMemory    = "memory"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsLog        = "log"
	MetricsNone       = "none"
)

var defaults = map[string]any{
	KeyMemcachedEndpoint: "",
	KeyTableName:         "",
	KeyAWSRegion:         "",
	KeyUseCache:          false,
	KeyStoreBackend:      StoreDynamoDB,
	KeyDynamoDBEndpoint:  "",
	KeyCacheBackend:      CacheMemcached,
	KeyRedisAddr:         "",
	KeyRedisPassword:     "",
	KeyRedisDB:           0,
	KeyCacheSize:         10000,
	KeyPayloadCodec:      "none",
	KeyPointTTL:          5 * time.Minute,
	KeyListTTL:           time.Minute,
	KeyListInvalidation:  false,
	KeyCacheTimeout:      250 * time.Millisecond,
	KeyStoreTimeout:      5 * time.Second,
	KeyListenAddr:        ":8080",
	KeyShutdownTimeout:   10 * time.Second,
	KeyMetrics:           MetricsPrometheus,
}

// Config is the process configuration. It is read once at start.
type Config struct {
	MemcachedEndpoint string `mapstructure:"MEMCACHED_CONFIGURATION_ENDPOINT"`
	TableName         string `mapstructure:"TABLE_NAME"`
	AWSRegion         string `mapstructure:"AWS_REGION"`
	UseCache          bool   `mapstructure:"USE_CACHE"`

	StoreBackend     string `mapstructure:"STORE_BACKEND"`
	DynamoDBEndpoint string `mapstructure:"DYNAMODB_ENDPOINT"`

	CacheBackend  string `mapstructure:"CACHE_BACKEND"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	CacheSize     int    `mapstructure:"CACHE_SIZE"`
	PayloadCodec  string `mapstructure:"PAYLOAD_CODEC"`

	PointTTL         time.Duration `mapstructure:"POINT_TTL"`
	ListTTL          time.Duration `mapstructure:"LIST_TTL"`
	ListInvalidation bool          `mapstructure:"LIST_INVALIDATION"`
	CacheTimeout     time.Duration `mapstructure:"CACHE_TIMEOUT"`
	StoreTimeout     time.Duration `mapstructure:"STORE_TIMEOUT"`

	ListenAddr      string        `mapstructure:"LISTEN_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	Metrics         string        `mapstructure:"METRICS"`
}

// NewViper returns a viper instance with defaults set and every key bound to
// its environment variable. If envFile is non-empty it is loaded into the
// environment first; otherwise a ./.env file is loaded when present.
// Variables already set in the environment win over the file.
func NewViper(envFile string) (*viper.Viper, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
		_ = v.BindEnv(k)
	}
	return v, nil
}

// Decode reads the configuration held by v and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewViper followed by Decode.
func Load(envFile string) (*Config, error) {
	v, err := NewViper(envFile)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	c.PayloadCodec = strings.ToLower(strings.TrimSpace(c.PayloadCodec))
	c.Metrics = strings.ToLower(strings.TrimSpace(c.Metrics))
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreDynamoDB:
		if c.TableName == "" {
			errs = append(errs, fmt.Errorf("%s is required for the %s store", KeyTableName, StoreDynamoDB))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown store backend %q", KeyStoreBackend, c.StoreBackend))
	}

	if c.UseCache {
		switch c.CacheBackend {
		case CacheMemcached:
			if c.MemcachedEndpoint == "" {
				errs = append(errs, fmt.Errorf("%s is required when %s is true", KeyMemcachedEndpoint, KeyUseCache))
			}
		case CacheRedis:
			if c.RedisAddr == "" {
				errs = append(errs, fmt.Errorf("%s is required for the %s cache", KeyRedisAddr, CacheRedis))
			}
		case CacheMemory:
			if c.CacheSize < 1 {
				errs = append(errs, fmt.Errorf("%s must be positive", KeyCacheSize))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown cache backend %q", KeyCacheBackend, c.CacheBackend))
		}
	}

	switch c.PayloadCodec {
	case "none", "gzip", "zstd":
	default:
		errs = append(errs, fmt.Errorf("%s: unknown codec %q", KeyPayloadCodec, c.PayloadCodec))
	}

	switch c.Metrics {
	case MetricsPrometheus, MetricsLog, MetricsNone:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown metrics backend %q", KeyMetrics, c.Metrics))
	}

	for key, d := range map[string]time.Duration{
		KeyPointTTL:        c.PointTTL,
		KeyListTTL:         c.ListTTL,
		KeyCacheTimeout:    c.CacheTimeout,
		KeyStoreTimeout:    c.StoreTimeout,
		KeyShutdownTimeout: c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	if c.ListenAddr == "" {
		errs = append(errs, errors.New(KeyListenAddr+" is required"))
	}

	return errors.Join(errs...)
}

// String implements fmt.Stringer. Secrets are masked.
func (c *Config) String() string {
	var sb strings.Builder
	line := func(key string, value any) {
		fmt.Fprintf(&sb, "  %s: %v\n", key, value)
	}

	sb.WriteString("\n")
	line(KeyMemcachedEndpoint, c.MemcachedEndpoint)
	line(KeyTableName, c.TableName)
	line(KeyAWSRegion, c.AWSRegion)
	line(KeyUseCache, c.UseCache)
	line(KeyStoreBackend, c.StoreBackend)
	line(KeyDynamoDBEndpoint, c.DynamoDBEndpoint)
	line(KeyCacheBackend, c.CacheBackend)
	line(KeyRedisAddr, c.RedisAddr)
	if c.RedisPassword != "" {
		line(KeyRedisPassword, "********")
	} else {
		line(KeyRedisPassword, "(empty)")
	}
	line(KeyRedisDB, c.RedisDB)
	line(KeyCacheSize, c.CacheSize)
	line(KeyPayloadCodec, c.PayloadCodec)
	line(KeyPointTTL, c.PointTTL)
	line(KeyListTTL, c.ListTTL)
	line(KeyListInvalidation, c.ListInvalidation)
	line(KeyCacheTimeout, c.CacheTimeout)
	line(KeyStoreTimeout, c.StoreTimeout)
	line(KeyListenAddr, c.ListenAddr)
	line(KeyShutdownTimeout, c.ShutdownTimeout)
	line(KeyMetrics, c.Metrics)
	return sb.String()
}
