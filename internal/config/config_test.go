package config

import (
	"errors"
	"testing"
)

func TestPayPalLiveRequiresWebhookID(t *testing.T) {
	cfg := PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		Env:          EnvLive,
	}
	err := cfg.Validate()
	if !errors.Is(err, ErrMissingWebhookSecret) {
		t.Fatalf("expected missing webhook secret, got %v", err)
	}

	cfg.WebhookID = "wh-123"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestPayPalSandboxAllowsMissingWebhookID(t *testing.T) {
	cfg := PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		Env:          EnvSandbox,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected sandbox config to validate, got %v", err)
	}
}

func TestPartialProviderConfigRejected(t *testing.T) {
	cfg := MomoConfig{PartnerCode: "MOMO", AccessKey: "", SecretKey: ""}
	if !errors.Is(cfg.Validate(), ErrPartialProviderConfig) {
		t.Fatal("expected partial config error")
	}
}

func TestUnconfiguredProviderSkipsValidation(t *testing.T) {
	var cfg StripeConfig
	if cfg.Configured() {
		t.Fatal("expected empty stripe config to report unconfigured")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOffsetPercentBounds(t *testing.T) {
	cfg := Config{Offset: OffsetConfig{Percent: 150}}
	if !errors.Is(cfg.Validate(), ErrInvalidOffsetPercent) {
		t.Fatal("expected offset percent rejection")
	}
}
