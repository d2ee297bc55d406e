// Package config loads the YAML configuration file and secret overrides from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when neither a flag nor CARDREVEAL_CONFIG is set.
const DefaultConfigPath = "config.yaml"

// AppConfig carries process-level options supplied by the CLI.
type AppConfig struct {
	ConfigPath string
}

// Config is the on-disk configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	JWT      JWTConfig      `yaml:"jwt"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Resend   ResendConfig   `yaml:"resend"`
	Redis    RedisConfig    `yaml:"redis"`
	Checkout CheckoutConfig `yaml:"checkout"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	PublicBaseURL   string        `yaml:"public-base-url"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
	ReconcileOnBoot bool          `yaml:"reconcile-on-boot"`
}

// DatabaseConfig configures the storage backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// JWTConfig configures host token signing.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// StripeConfig configures the payment gateway client.
type StripeConfig struct {
	SecretKey     string        `yaml:"secret-key"`
	WebhookSecret string        `yaml:"webhook-secret"`
	BaseURL       string        `yaml:"base-url"`
	Currency      string        `yaml:"currency"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ResendConfig configures the email notification channel.
type ResendConfig struct {
	APIKey  string        `yaml:"api-key"`
	BaseURL string        `yaml:"base-url"`
	From    string        `yaml:"from"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig selects the Redis-backed rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CheckoutConfig holds URL templates for gateway redirects.
type CheckoutConfig struct {
	SuccessPath string `yaml:"success-path"`
	CancelPath  string `yaml:"cancel-path"`
}

// ResolveConfigPath picks the config file path from the flag value, the environment, or the default.
func ResolveConfigPath(flagValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv("CARDREVEAL_CONFIG")); env != "" {
		return env
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a config file exists at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the config at path, applies defaults and environment overrides, and validates it.
// A missing file is tolerated so that a purely environment-driven deployment works.
func Load(path string) (Config, error) {
	var cfg Config
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN returns only the database DSN from the config at path.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

// Validate checks required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if len(c.Stripe.Currency) != 3 {
		return fmt.Errorf("config: invalid stripe.currency %q", c.Stripe.Currency)
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"DATABASE_DSN", &cfg.Database.DSN},
		{"JWT_SECRET", &cfg.JWT.Secret},
		{"STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey},
		{"STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret},
		{"RESEND_API_KEY", &cfg.Resend.APIKey},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"PUBLIC_BASE_URL", &cfg.Server.PublicBaseURL},
	}
	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.env); ok && strings.TrimSpace(value) != "" {
			*o.target = strings.TrimSpace(value)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = "http://localhost:5173"
	}
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = 14
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = 24 * time.Hour
	}
	if cfg.Stripe.BaseURL == "" {
		cfg.Stripe.BaseURL = "https://api.stripe.com"
	}
	if cfg.Stripe.Currency == "" {
		cfg.Stripe.Currency = "brl"
	}
	cfg.Stripe.Currency = strings.ToLower(cfg.Stripe.Currency)
	if cfg.Stripe.Timeout <= 0 {
		cfg.Stripe.Timeout = 20 * time.Second
	}
	if cfg.Resend.BaseURL == "" {
		cfg.Resend.BaseURL = "https://api.resend.com"
	}
	if cfg.Resend.From == "" {
		cfg.Resend.From = "Contribui&Chá <noreply@contribuicha.com.br>"
	}
	if cfg.Resend.Timeout <= 0 {
		cfg.Resend.Timeout = 10 * time.Second
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "cardreveal:unlock"
	}
	if cfg.Checkout.SuccessPath == "" {
		cfg.Checkout.SuccessPath = "/events/{slug}/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if cfg.Checkout.CancelPath == "" {
		cfg.Checkout.CancelPath = "/events/{slug}"
	}
}
