package gateway

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	"github.com/thanhtoan69/ahihi-sub023/internal/config"
	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters/momo"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters/paypal"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters/stripe"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters/vnpay"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters/wise"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters/zalopay"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/repository"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/service"
	offsetdomain "github.com/thanhtoan69/ahihi-sub023/internal/offset/domain"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

// NewRegistry constructs a strategy per configured provider. Unconfigured
// providers are left out; partially configured ones were already refused at
// config validation.
func NewRegistry(cfg config.Config, client *http.Client, clk clock.Clock, logger *zap.Logger) (*adapters.Registry, error) {
	var providers []gatewaydomain.Provider

	if cfg.PayPal.Configured() {
		p, err := paypal.New(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			WebhookID:    cfg.PayPal.WebhookID,
			Live:         cfg.PayPal.Live(),
		}, client, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.Stripe.Configured() {
		p, err := stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}, client, clk)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.Wise.Configured() {
		p, err := wise.New(wise.Config{
			APIToken:      cfg.Wise.APIToken,
			WebhookSecret: cfg.Wise.WebhookSecret,
			ProfileID:     cfg.Wise.ProfileID,
			Live:          cfg.Wise.Live(),
		}, client)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.Momo.Configured() {
		p, err := momo.New(momo.Config{
			PartnerCode: cfg.Momo.PartnerCode,
			AccessKey:   cfg.Momo.AccessKey,
			SecretKey:   cfg.Momo.SecretKey,
			Live:        cfg.Momo.Live(),
		}, client)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.VNPay.Configured() {
		p, err := vnpay.New(vnpay.Config{
			TMNCode:    cfg.VNPay.TMNCode,
			HashSecret: cfg.VNPay.HashSecret,
			ReturnURL:  cfg.VNPay.ReturnURL,
			Live:       cfg.VNPay.Live(),
		}, client, clk)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.ZaloPay.Configured() {
		p, err := zalopay.New(zalopay.Config{
			AppID: cfg.ZaloPay.AppID,
			Key1:  cfg.ZaloPay.Key1,
			Key2:  cfg.ZaloPay.Key2,
			Live:  cfg.ZaloPay.Live(),
		}, client, clk)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	registry := adapters.NewRegistry(providers...)
	logger.Info("payment providers registered", zap.Strings("providers", registry.Names()))
	return registry, nil
}

var Module = fx.Module("gateway",
	fx.Provide(
		httpx.NewClient,
		NewRegistry,
		repository.Provide,
		func(cfg config.Config) service.CheckoutURLs {
			return service.NewCheckoutURLs(cfg.PublicBaseURL)
		},
		func(
			db *gorm.DB,
			genID *snowflake.Node,
			registry *adapters.Registry,
			orders orderdomain.Repository,
			records gatewaydomain.Repository,
			offset offsetdomain.Service,
			outbox *events.Outbox,
			logger *zap.Logger,
			clk clock.Clock,
			urls service.CheckoutURLs,
		) gatewaydomain.Service {
			return service.Provide(db, genID, registry, orders, records, offset, outbox, logger, clk, urls)
		},
	),
)
