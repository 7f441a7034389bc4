package config

import (
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"threescale-authorizer/internal/domain"
)

// Mode selects the authorization flow for the whole process.
type Mode string

const (
	ModeUserKey Mode = "user_key"
	ModeOAuth   Mode = "oauth"
)

// ParseMode normalises the auth type setting. An empty value selects the user key flow.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "user_key", "userkey":
		return ModeUserKey, nil
	case "oauth":
		return ModeOAuth, nil
	default:
		return "", domain.ErrUnknownMode
	}
}

// Config holds the full application configuration, loaded from a YAML file and
// overridden by environment variables.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Authority   AuthorityConfig   `yaml:"authority"`
	Cache       CacheConfig       `yaml:"cache"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Reporter    ReporterConfig    `yaml:"reporter"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Ops         OpsConfig         `yaml:"ops"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port" envconfig:"PORT"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`         // Path to the log file, empty logs to stdout only
	Level      string `yaml:"level"`        // Logging verbosity level
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Max log file size before rotation (in MB)
	MaxBackups int    `yaml:"max_backups"`  // Number of old log files to retain
	MaxAgeDays int    `yaml:"max_age_days"` // Number of days to retain old log files
	Compress   bool   `yaml:"compress"`     // Whether to compress old log files
}

// AuthorityConfig describes the 3scale Service Management API.
type AuthorityConfig struct {
	Host         string        `yaml:"host" envconfig:"THREESCALE_BACKEND_HOST" validate:"required,url"`
	ProviderKey  string        `yaml:"provider_key" envconfig:"THREESCALE_PROVIDER_KEY" validate:"required_if=AuthType user_key"`
	ServiceID    string        `yaml:"service_id" envconfig:"THREESCALE_SERVICE_ID" validate:"required"`
	ServiceToken string        `yaml:"service_token" envconfig:"THREESCALE_SERVICE_TOKEN" validate:"required_if=AuthType oauth"`
	AuthType     Mode          `yaml:"auth_type" envconfig:"THREESCALE_AUTH_TYPE" validate:"oneof=user_key oauth"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"THREESCALE_TIMEOUT" validate:"gt=0"`
}

// CacheConfig points at the Redis instance holding token entries.
type CacheConfig struct {
	Host      string        `yaml:"host" envconfig:"ELASTICACHE_ENDPOINT" validate:"required"`
	Port      string        `yaml:"port" envconfig:"ELASTICACHE_PORT"`
	Password  string        `yaml:"password" envconfig:"ELASTICACHE_PASSWORD"`
	DB        int           `yaml:"db" validate:"gte=0"`
	KeyPrefix string        `yaml:"key_prefix"`          // empty keeps tokens as bare keys
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"` // 0 keeps entries until deleted
	OpTimeout time.Duration `yaml:"op_timeout" validate:"gt=0"`
}

// Addr returns host:port for the cache, accepting a host that already carries a port.
func (c CacheConfig) Addr() string {
	if c.Port == "" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// DispatchConfig names the Redis stream used as the async reporting channel.
type DispatchConfig struct {
	Stream         string        `yaml:"stream" envconfig:"AUTHREP_STREAM" validate:"required"`
	Group          string        `yaml:"group" envconfig:"AUTHREP_GROUP" validate:"required"`
	MaxLen         int64         `yaml:"max_len" validate:"gte=0"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gt=0"`
}

// ReporterConfig tunes the stream consumer of cmd/authrep-worker.
type ReporterConfig struct {
	Workers   int           `yaml:"workers" validate:"gt=0"`
	BatchSize int64         `yaml:"batch_size" validate:"gt=0"`
	Block     time.Duration `yaml:"block" validate:"gt=0"`
	ClaimIdle time.Duration `yaml:"claim_idle" validate:"gt=0"`
}

type RateLimiterConfig struct {
	Interval          time.Duration `yaml:"interval" validate:"gt=0"`
	EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	UserLimit         int           `yaml:"user_limit" validate:"gte=0"`
	RedisDB           int           `yaml:"redis_db" validate:"gte=0"`
}

// OpsConfig lists the keys accepted on /ops endpoints. Keys in the Redis set
// named by KeySet are merged in and reloaded every ReloadInterval.
type OpsConfig struct {
	APIKeys        []string      `yaml:"api_keys" envconfig:"OPS_API_KEYS"`
	KeySet         string        `yaml:"key_set" envconfig:"OPS_KEY_SET"`
	ReloadInterval time.Duration `yaml:"reload_interval" validate:"gte=0"`
}

// Load loads the configuration. You can override the path via CONFIG_PATH.
// Without CONFIG_PATH a missing default file is tolerated and the environment alone is used.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/authorizer.yaml"
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return finish(Config{})
		}
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from the specified YAML file path, then applies
// environment overrides and defaults. Panics if the file cannot be read or the result is invalid.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic("Error reading " + path + ": " + err.Error())
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic("Invalid YAML format in " + path + ": " + err.Error())
	}

	return finish(cfg)
}

func finish(cfg Config) Config {
	if err := envconfig.Process("", &cfg); err != nil {
		panic("Invalid environment override: " + err.Error())
	}
	applyDefaults(&cfg)

	mode, err := ParseMode(string(cfg.Authority.AuthType))
	if err != nil {
		panic("auth_type " + string(cfg.Authority.AuthType) + ": " + err.Error())
	}
	cfg.Authority.AuthType = mode

	if err := Validate(cfg); err != nil {
		panic("Invalid configuration: " + err.Error())
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "9000"
	}
	if cfg.Authority.Host == "" {
		cfg.Authority.Host = "https://su1.3scale.net"
	}
	if cfg.Authority.Timeout <= 0 {
		cfg.Authority.Timeout = 5 * time.Second
	}
	if cfg.Cache.OpTimeout <= 0 {
		cfg.Cache.OpTimeout = time.Second
	}
	if cfg.Dispatch.Stream == "" {
		cfg.Dispatch.Stream = "threescale:authrep"
	}
	if cfg.Dispatch.Group == "" {
		cfg.Dispatch.Group = "authrep-workers"
	}
	if cfg.Dispatch.PublishTimeout <= 0 {
		cfg.Dispatch.PublishTimeout = time.Second
	}
	if cfg.Reporter.Workers <= 0 {
		cfg.Reporter.Workers = 8
	}
	if cfg.Reporter.BatchSize <= 0 {
		cfg.Reporter.BatchSize = 32
	}
	if cfg.Reporter.Block <= 0 {
		cfg.Reporter.Block = 5 * time.Second
	}
	if cfg.Reporter.ClaimIdle <= 0 {
		cfg.Reporter.ClaimIdle = time.Minute
	}
	if cfg.RateLimiter.Interval <= 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Ops.ReloadInterval <= 0 {
		cfg.Ops.ReloadInterval = time.Minute
	}
}

// Validate checks a fully populated configuration.
func Validate(cfg Config) error {
	return validator.New().Struct(cfg)
}

// ListenAddr is the address the HTTP server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}
