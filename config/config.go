package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"storefront/utils"
)

// EnvPrefix is prepended to every environment key, e.g. STOREFRONT_BACKEND_URL.
const EnvPrefix = "STOREFRONT"

// Config holds the application configuration
type Config struct {
	Port      string `envconfig:"PORT" default:"3000" json:"port" validate:"required,numeric"`
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:3000" json:"public_url" validate:"required,url"`

	// Storefront API
	BackendURL   string        `envconfig:"BACKEND_URL" json:"backend_url" validate:"required,url"`
	BackendToken string        `envconfig:"BACKEND_TOKEN" json:"backend_token"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s" json:"-" validate:"gt=0"`

	// Polling
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"3s" json:"-" validate:"gt=0"`
	PollMaxAttempts int           `envconfig:"POLL_MAX_ATTEMPTS" default:"20" json:"poll_max_attempts" validate:"min=1"`
	PaymentTimeout  time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"120s" json:"-" validate:"gt=0"`

	// Stripe configuration
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" json:"stripe_secret_key"`
	StripePublicKey     string `envconfig:"STRIPE_PUBLIC_KEY" json:"stripe_public_key" validate:"required_with=StripeSecretKey"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" json:"stripe_webhook_secret"`
	StripeCurrency      string `envconfig:"STRIPE_CURRENCY" default:"rub" json:"stripe_currency" validate:"len=3"`

	RedisURL string `envconfig:"REDIS_URL" json:"redis_url" validate:"omitempty,url"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" json:"log_format" validate:"oneof=text json logfmt"`

	// ConfigFile is an optional JSON file whose values overlay the environment.
	// Durations are read from the environment only.
	ConfigFile string `envconfig:"CONFIG_FILE" json:"-"`
}

// StripeEnabled reports whether the Stripe provider can be offered.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// WebhookEnabled reports whether Stripe webhooks can be verified.
func (c *Config) WebhookEnabled() bool {
	return c.StripeEnabled() && c.StripeWebhookSecret != ""
}

// Load reads .env files, the environment and the optional JSON overlay, then
// validates the result. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil {
			utils.Debug("config", "Environment file not loaded", "path", path, "error", err)
			continue
		}
		utils.Info("config", "Loaded environment file", "path", path)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.overlay(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	utils.Info("config", "App config loaded",
		"port", cfg.Port,
		"public_url", cfg.PublicURL,
		"backend_url", cfg.BackendURL,
		"backend_token", maskValue(cfg.BackendToken),
		"poll_interval", cfg.PollInterval,
		"poll_max_attempts", cfg.PollMaxAttempts,
		"payment_timeout", cfg.PaymentTimeout,
		"stripe_secret_key", maskValue(cfg.StripeSecretKey),
		"stripe_webhook_secret", maskValue(cfg.StripeWebhookSecret),
		"redis_url", maskValue(cfg.RedisURL),
	)
	return &cfg, nil
}

// overlay reads a JSON config file on top of the values already loaded.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading configuration file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("error parsing configuration file: %w", err)
	}
	utils.Info("config", "Applied configuration file", "path", path)
	return nil
}

func (c *Config) normalize() {
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	c.StripeCurrency = strings.ToLower(c.StripeCurrency)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
}

// maskValue hides secrets in logs. Empty values stay empty.
func maskValue(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 6 {
		return "****"
	}
	return key[:2] + "****" + key[len(key)-4:]
}
