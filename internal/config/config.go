package config

import (
	"bytes"
	_ "embed"
	"errors"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	API        APIConfig       `mapstructure:"api"`
	Webhook    WebhookConfig   `mapstructure:"webhook"`
	Delivery   DeliveryConfig  `mapstructure:"delivery"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Log        LogConfig       `mapstructure:"log"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// APIConfig holds the static shared secret authenticating Command API
// callers (X-API-Key header).
type APIConfig struct {
	Key string `mapstructure:"key"`
}

// WebhookConfig covers both directions of the signed channel: the
// secret shared with the control plane and where confirmations go.
type WebhookConfig struct {
	Secret    string        `mapstructure:"secret"`
	TargetURL string        `mapstructure:"target_url"`
	Tolerance time.Duration `mapstructure:"tolerance"`
}

type DeliveryConfig struct {
	BatchLimit    int           `mapstructure:"batch_limit"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (TENANTSYNC_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (TENANTSYNC_*)
	v.SetEnvPrefix("TENANTSYNC")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a configuration that cannot authenticate the signed
// channel. An empty webhook secret would let anyone forge envelopes, so
// neither the receiver nor the deliverer starts without one.
func (c Config) Validate() error {
	if c.Webhook.Secret == "" {
		return errors.New("webhook.secret is required")
	}
	return nil
}
