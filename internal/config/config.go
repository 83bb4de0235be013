// Package config loads workhub configuration from defaults, an optional
// config file and WORKHUB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (WORKHUB_SERVER_ADDR, ...).
const EnvPrefix = "WORKHUB"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DataDir   string          `mapstructure:"data_dir"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Redis     RedisConfig     `mapstructure:"redis"`
	IdP       IdPConfig       `mapstructure:"idp"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicURL is the externally reachable base URL of this application.
	// The IdP issuer and the SSO redirect URI are derived from it.
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLSCertFile     string        `mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `mapstructure:"tls_key_file"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig controls access-token issuance.
type AuthConfig struct {
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// RealtimeConfig holds the per-connection limits of the gateway.
type RealtimeConfig struct {
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// RedisConfig enables cross-instance fan-out when URL is set.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Channel     string        `mapstructure:"channel"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// IdPConfig describes the embedded identity provider process.
type IdPConfig struct {
	BinaryPath       string        `mapstructure:"binary_path"`
	Args             []string      `mapstructure:"args"`
	DataDir          string        `mapstructure:"data_dir"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	PathPrefix       string        `mapstructure:"path_prefix"`
	ClientID         string        `mapstructure:"client_id"`
	ClientName       string        `mapstructure:"client_name"`
	StorageType      string        `mapstructure:"storage_type"`
	StorageDSN       string        `mapstructure:"storage_dsn"`
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout"`
	StopGracePeriod  time.Duration `mapstructure:"stop_grace_period"`
}

// LogConfig selects level and output format (json or console).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://127.0.0.1:8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("data_dir", "/var/lib/workhub")
	v.SetDefault("database.path", "")
	v.SetDefault("auth.issuer", "workhub")
	v.SetDefault("auth.expiry_hours", 24*7)

	v.SetDefault("realtime.idle_timeout", "60s")
	v.SetDefault("realtime.write_timeout", "10s")
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("realtime.auth_timeout", "10s")
	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.max_message_size", 4096)

	v.SetDefault("redis.channel", "workhub:realtime")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.ping_timeout", "2s")

	v.SetDefault("idp.binary_path", "dex")
	v.SetDefault("idp.host", "127.0.0.1")
	v.SetDefault("idp.port", 5556)
	v.SetDefault("idp.path_prefix", "/dex")
	v.SetDefault("idp.client_id", "workhub")
	v.SetDefault("idp.client_name", "Workhub")
	v.SetDefault("idp.storage_type", "sqlite3")
	v.SetDefault("idp.readiness_timeout", "30s")
	v.SetDefault("idp.stop_grace_period", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.service_name", "workhub")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerived() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "workhub.db")
	}
	if c.IdP.DataDir == "" {
		c.IdP.DataDir = filepath.Join(c.DataDir, "idp")
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.IdP.PathPrefix != "" && !strings.HasPrefix(c.IdP.PathPrefix, "/") {
		c.IdP.PathPrefix = "/" + c.IdP.PathPrefix
	}
	c.IdP.PathPrefix = strings.TrimRight(c.IdP.PathPrefix, "/")
}

// Validate checks values that would otherwise fail much later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
		errs = append(errs, fmt.Errorf("server.public_url: %w", err))
	}
	if c.IdP.Port <= 0 || c.IdP.Port > 65535 {
		errs = append(errs, fmt.Errorf("idp.port out of range: %d", c.IdP.Port))
	}
	if c.IdP.PathPrefix == "" {
		errs = append(errs, errors.New("idp.path_prefix must not be empty"))
	}
	if c.Realtime.IdleTimeout <= 0 {
		errs = append(errs, errors.New("realtime.idle_timeout must be positive"))
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.WriteTimeout <= 0 || c.Realtime.AuthTimeout <= 0 {
		errs = append(errs, errors.New("realtime.ping_interval, realtime.write_timeout and realtime.auth_timeout must be positive"))
	}
	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("realtime.send_buffer must be positive: %d", c.Realtime.SendBuffer))
	}
	if c.Realtime.PingInterval >= c.Realtime.IdleTimeout {
		errs = append(errs, errors.New("realtime.ping_interval must be shorter than realtime.idle_timeout"))
	}
	if c.IdP.ReadinessTimeout <= 0 || c.IdP.StopGracePeriod <= 0 {
		errs = append(errs, errors.New("idp.readiness_timeout and idp.stop_grace_period must be positive"))
	}
	return errors.Join(errs...)
}
