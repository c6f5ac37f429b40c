// Package config loads the settings of the goMFA binaries from the
// environment and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process configuration for cmd/mfa-server and cmd/migrate.
type Config struct {
	HTTPAddr string `mapstructure:"MFA_HTTP_ADDR"`
	// AllowedOrigins is a comma-separated CORS allow list.
	AllowedOrigins string `mapstructure:"MFA_ALLOWED_ORIGINS"`

	RedisAddr     string `mapstructure:"MFA_REDIS_ADDR"`
	RedisPassword string `mapstructure:"MFA_REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"MFA_REDIS_DB"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store,
	// which is refused in production.
	DatabaseURL string `mapstructure:"MFA_DATABASE_URL"`

	// KafkaBrokers enables the Kafka notifier when non-empty.
	KafkaBrokers string `mapstructure:"MFA_KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"MFA_KAFKA_TOPIC"`

	WebAuthnRPID      string `mapstructure:"MFA_WEBAUTHN_RP_ID"`
	WebAuthnRPName    string `mapstructure:"MFA_WEBAUTHN_RP_NAME"`
	WebAuthnOrigins   string `mapstructure:"MFA_WEBAUTHN_ORIGINS"`
	TOTPIssuer        string `mapstructure:"MFA_TOTP_ISSUER"`
	SecretKey         string `mapstructure:"MFA_SECRET_KEY"`
	StepUpSigningKey  string `mapstructure:"MFA_STEPUP_SIGNING_KEY"`
	SessionSigningKey string `mapstructure:"MFA_SESSION_SIGNING_KEY"`
	TokenIssuer       string `mapstructure:"MFA_TOKEN_ISSUER"`

	MetricsEnabled bool `mapstructure:"MFA_METRICS_ENABLED"`
	// MetricsLogInterval is how often OpenTelemetry points are written to
	// the debug log. Zero disables the OpenTelemetry pipeline.
	MetricsLogInterval time.Duration `mapstructure:"MFA_METRICS_LOG_INTERVAL"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	Env                string        `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("MFA_HTTP_ADDR", ":8080")
	v.SetDefault("MFA_ALLOWED_ORIGINS", "")
	v.SetDefault("MFA_REDIS_ADDR", "localhost:6379")
	v.SetDefault("MFA_REDIS_PASSWORD", "")
	v.SetDefault("MFA_REDIS_DB", 0)
	v.SetDefault("MFA_DATABASE_URL", "")
	v.SetDefault("MFA_KAFKA_BROKERS", "")
	v.SetDefault("MFA_KAFKA_TOPIC", "mfa-codes")
	v.SetDefault("MFA_WEBAUTHN_RP_ID", "localhost")
	v.SetDefault("MFA_WEBAUTHN_RP_NAME", "goMFA")
	v.SetDefault("MFA_WEBAUTHN_ORIGINS", "http://localhost:8080")
	v.SetDefault("MFA_TOTP_ISSUER", "goMFA")
	v.SetDefault("MFA_SECRET_KEY", "")
	v.SetDefault("MFA_STEPUP_SIGNING_KEY", "")
	v.SetDefault("MFA_SESSION_SIGNING_KEY", "")
	v.SetDefault("MFA_TOKEN_ISSUER", "gomfa")
	v.SetDefault("MFA_METRICS_ENABLED", true)
	v.SetDefault("MFA_METRICS_LOG_INTERVAL", "60s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: MFA_HTTP_ADDR must be set")
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("config: MFA_REDIS_ADDR must be set")
	}
	if _, err := cfg.SecretKeyBytes(); err != nil {
		return nil, err
	}
	if len(cfg.StepUpSigningKey) < 32 {
		return nil, errors.New("config: MFA_STEPUP_SIGNING_KEY must be at least 32 bytes")
	}
	if len(cfg.SessionSigningKey) < 32 {
		return nil, errors.New("config: MFA_SESSION_SIGNING_KEY must be at least 32 bytes")
	}
	if cfg.MetricsLogInterval < 0 {
		return nil, errors.New("config: MFA_METRICS_LOG_INTERVAL must not be negative")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return nil, errors.New("config: MFA_DATABASE_URL must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// DatabaseURL reads only MFA_DATABASE_URL, for tools such as cmd/migrate
// that do not need signing keys.
func DatabaseURL() string {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	return strings.TrimSpace(v.GetString("MFA_DATABASE_URL"))
}

// SecretKeyBytes decodes MFA_SECRET_KEY, a hex-encoded 32-byte key used to
// seal TOTP secrets.
func (c *Config) SecretKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("config: MFA_SECRET_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("config: MFA_SECRET_KEY must decode to 32 bytes")
	}
	return key, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// KafkaBrokersList returns broker addresses from the comma-separated value.
func (c *Config) KafkaBrokersList() []string {
	return splitList(c.KafkaBrokers)
}

func (c *Config) AllowedOriginsList() []string {
	return splitList(c.AllowedOrigins)
}

func (c *Config) WebAuthnOriginsList() []string {
	return splitList(c.WebAuthnOrigins)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
