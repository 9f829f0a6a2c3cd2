package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const (
	EnvSandbox = "sandbox"
	EnvLive    = "live"
)

var (
	ErrPartialProviderConfig = errors.New("partial_provider_config")
	ErrMissingWebhookSecret  = errors.New("missing_webhook_secret")
	ErrInvalidOffsetPercent  = errors.New("invalid_offset_percent")
)

// Config is the full service configuration, loaded once at startup and
// injected through fx. Nothing reads configuration ambiently.
type Config struct {
	Environment string `mapstructure:"environment"`
	HTTPAddr    string `mapstructure:"http_addr"`
	DatabaseDSN string `mapstructure:"database_dsn"`

	// PublicBaseURL is the externally reachable root used to build provider
	// return, cancel, and IPN URLs.
	PublicBaseURL string `mapstructure:"public_base_url"`

	Offset OffsetConfig `mapstructure:"offset"`

	PayPal  PayPalConfig  `mapstructure:"paypal"`
	Stripe  StripeConfig  `mapstructure:"stripe"`
	Wise    WiseConfig    `mapstructure:"wise"`
	Momo    MomoConfig    `mapstructure:"momo"`
	VNPay   VNPayConfig   `mapstructure:"vnpay"`
	ZaloPay ZaloPayConfig `mapstructure:"zalopay"`
}

// OffsetConfig controls the carbon-offset donation computed on captured
// payments. Percent is expressed in whole percents (2 means 2%).
type OffsetConfig struct {
	Percent float64 `mapstructure:"percent"`
}

type PayPalConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	WebhookID    string `mapstructure:"webhook_id"`
	Env          string `mapstructure:"env"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Env           string `mapstructure:"env"`
}

type WiseConfig struct {
	APIToken      string `mapstructure:"api_token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	ProfileID     string `mapstructure:"profile_id"`
	Env           string `mapstructure:"env"`
}

type MomoConfig struct {
	PartnerCode string `mapstructure:"partner_code"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Env         string `mapstructure:"env"`
}

type VNPayConfig struct {
	TMNCode    string `mapstructure:"tmn_code"`
	HashSecret string `mapstructure:"hash_secret"`
	ReturnURL  string `mapstructure:"return_url"`
	Env        string `mapstructure:"env"`
}

type ZaloPayConfig struct {
	AppID int    `mapstructure:"app_id"`
	Key1  string `mapstructure:"key1"`
	Key2  string `mapstructure:"key2"`
	Env   string `mapstructure:"env"`
}

func live(env string) bool { return strings.EqualFold(strings.TrimSpace(env), EnvLive) }

func (c PayPalConfig) Live() bool  { return live(c.Env) }
func (c StripeConfig) Live() bool  { return live(c.Env) }
func (c WiseConfig) Live() bool    { return live(c.Env) }
func (c MomoConfig) Live() bool    { return live(c.Env) }
func (c VNPayConfig) Live() bool   { return live(c.Env) }
func (c ZaloPayConfig) Live() bool { return live(c.Env) }

// Configured reports whether the provider has any credential material at all.
// An entirely absent provider is skipped at registry construction; a partially
// filled one is a startup error.
func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" || c.ClientSecret != "" || c.WebhookID != ""
}

func (c PayPalConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("paypal: %w", ErrPartialProviderConfig)
	}
	// A live gateway without a webhook ID cannot verify deliveries. Refusing
	// startup here instead of silently skipping verification.
	if c.Live() && c.WebhookID == "" {
		return fmt.Errorf("paypal: %w", ErrMissingWebhookSecret)
	}
	return nil
}

func (c StripeConfig) Configured() bool { return c.SecretKey != "" || c.WebhookSecret != "" }

func (c StripeConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: %w", ErrPartialProviderConfig)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("stripe: %w", ErrMissingWebhookSecret)
	}
	return nil
}

func (c WiseConfig) Configured() bool { return c.APIToken != "" || c.WebhookSecret != "" }

func (c WiseConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.APIToken == "" || c.ProfileID == "" {
		return fmt.Errorf("wise: %w", ErrPartialProviderConfig)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("wise: %w", ErrMissingWebhookSecret)
	}
	return nil
}

func (c MomoConfig) Configured() bool {
	return c.PartnerCode != "" || c.AccessKey != "" || c.SecretKey != ""
}

func (c MomoConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.PartnerCode == "" || c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("momo: %w", ErrPartialProviderConfig)
	}
	return nil
}

func (c VNPayConfig) Configured() bool { return c.TMNCode != "" || c.HashSecret != "" }

func (c VNPayConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.TMNCode == "" || c.HashSecret == "" {
		return fmt.Errorf("vnpay: %w", ErrPartialProviderConfig)
	}
	return nil
}

func (c ZaloPayConfig) Configured() bool { return c.AppID != 0 || c.Key1 != "" || c.Key2 != "" }

func (c ZaloPayConfig) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.AppID == 0 || c.Key1 == "" || c.Key2 == "" {
		return fmt.Errorf("zalopay: %w", ErrPartialProviderConfig)
	}
	return nil
}

// Validate checks the whole configuration. Called once at startup; a
// misconfigured provider refuses to boot rather than failing per-request.
func (c Config) Validate() error {
	if c.Offset.Percent < 0 || c.Offset.Percent > 100 {
		return ErrInvalidOffsetPercent
	}
	for _, err := range []error{
		c.PayPal.Validate(),
		c.Stripe.Validate(),
		c.Wise.Validate(),
		c.Momo.Validate(),
		c.VNPay.Validate(),
		c.ZaloPay.Validate(),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Load reads config.yaml (if present) and GREENPAY_* environment variables,
// the latter taking precedence. A local .env is honored for development.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("GREENPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("offset.percent", 0)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
