package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	APIKey     APIKeyConfig     `mapstructure:"apikey"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Providers  []ProviderConfig `mapstructure:"providers"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminToken      string        `mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	AuthCacheTTL time.Duration `mapstructure:"auth_cache_ttl"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	Topic          string   `mapstructure:"topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type APIKeyConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type SecretsConfig struct {
	Key   string `mapstructure:"key"`
	KeyID string `mapstructure:"key_id"`
}

type DispatcherConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name                string        `mapstructure:"name"`
	Enabled             bool          `mapstructure:"enabled"`
	BaseURL             string        `mapstructure:"base_url"`
	ChargePath          string        `mapstructure:"charge_path"`
	TimeoutMs           int           `mapstructure:"timeout_ms"`
	RequiredCredentials []string      `mapstructure:"required_credentials"`
	Breaker             BreakerConfig `mapstructure:"breaker"`
}

// RequiredCredentials maps provider name to the credential keys it needs.
func (c Config) RequiredCredentials() map[string][]string {
	out := make(map[string][]string, len(c.Providers))
	for _, p := range c.Providers {
		if len(p.RequiredCredentials) == 0 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(p.Name))] = p.RequiredCredentials
	}
	return out
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("empty database dsn")
	}
	if strings.TrimSpace(c.Secrets.Key) == "" {
		return fmt.Errorf("secrets.key is required")
	}
	if c.APIKey.MaxAttempts < 1 {
		return fmt.Errorf("apikey.max_attempts must be >= 1, got %d", c.APIKey.MaxAttempts)
	}
	return nil
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (PAYAGG_*).
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

	// env override (PAYAGG_*), nested keys use "_": PAYAGG_SECRETS_KEY
	v.SetEnvPrefix("PAYAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
