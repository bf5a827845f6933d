package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	HTTPAddress         string         `mapstructure:"http_address"`
	AdminAddress        string         `mapstructure:"admin_address"`
	LogLevel            string         `mapstructure:"log_level"`
	Development         bool           `mapstructure:"development"`
	ShutdownGracePeriod time.Duration  `mapstructure:"shutdown_grace_period"`
	Database            DatabaseConfig `mapstructure:"database"`
	Auth                AuthConfig     `mapstructure:"auth"`
	Relay               RelayConfig    `mapstructure:"relay"`
}

// DatabaseConfig describes the Postgres connection used by the persistence gateway.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AuthConfig describes cookie-session issuance.
type AuthConfig struct {
	// SecretEnv names the environment variable holding the JWT signing key.
	SecretEnv    string        `mapstructure:"secret_env"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	MinEntropy   float64       `mapstructure:"min_password_entropy"`
	CookieName   string        `mapstructure:"cookie_name"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

// RelayConfig tunes the websocket gateway.
type RelayConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

const (
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultSecretEnv           = "CHAT_AUTH_SECRET"
	defaultTokenTTL            = 7 * 24 * time.Hour
	defaultMinEntropy          = 50
	defaultCookieName          = "token"
	defaultSendBuffer          = 32
	defaultWriteTimeout        = 10 * time.Second
	defaultPingInterval        = 30 * time.Second
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CHAT_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("auth.secret_env", defaultSecretEnv)
	v.SetDefault("auth.token_ttl", defaultTokenTTL.String())
	v.SetDefault("auth.min_password_entropy", defaultMinEntropy)
	v.SetDefault("auth.cookie_name", defaultCookieName)
	v.SetDefault("relay.send_buffer", defaultSendBuffer)
	v.SetDefault("relay.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("relay.ping_interval", defaultPingInterval.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for _, d := range []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod, defaultShutdownGracePeriod},
		{"auth.token_ttl", &cfg.Auth.TokenTTL, defaultTokenTTL},
		{"relay.write_timeout", &cfg.Relay.WriteTimeout, defaultWriteTimeout},
		{"relay.ping_interval", &cfg.Relay.PingInterval, defaultPingInterval},
	} {
		if v.IsSet(d.key) {
			dur, err := time.ParseDuration(v.GetString(d.key))
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = dur
		} else {
			*d.dst = d.def
		}
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = defaultSecretEnv
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = defaultCookieName
	}
	if cfg.Auth.MinEntropy <= 0 {
		cfg.Auth.MinEntropy = defaultMinEntropy
	}
	if cfg.Relay.SendBuffer <= 0 {
		cfg.Relay.SendBuffer = defaultSendBuffer
	}

	return cfg, nil
}

// AuthSecret fetches the JWT signing key from the configured environment variable.
func (c Config) AuthSecret() ([]byte, error) {
	env := c.Auth.SecretEnv
	if env == "" {
		env = defaultSecretEnv
	}
	val := strings.TrimSpace(getenv(env))
	if val == "" {
		return nil, fmt.Errorf("auth secret env %s is empty", env)
	}
	return []byte(val), nil
}

// split out for testing.
var getenv = os.Getenv
