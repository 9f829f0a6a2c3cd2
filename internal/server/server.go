// Package server exposes the HTTP surface: provider webhook endpoints, the
// merchant-facing order payment API, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/config"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/logger"
	"github.com/thanhtoan69/ahihi-sub023/internal/observability/metrics"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

type Server struct {
	cfg        config.Config
	db         *gorm.DB
	gatewaySvc gatewaydomain.Service
	orders     orderdomain.Repository
	logger     *zap.Logger
	limiter    *rateLimiter
}

func NewServer(
	cfg config.Config,
	db *gorm.DB,
	gatewaySvc gatewaydomain.Service,
	orders orderdomain.Repository,
	log *zap.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		db:         db,
		gatewaySvc: gatewaySvc,
		orders:     orders,
		logger:     log,
		// Refunds are merchant initiated and rare; anything beyond this per
		// minute from one client is a bug or abuse.
		limiter: newRateLimiter(30, time.Minute),
	}
}

// Router builds the gin engine with the middleware stack and all routes.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(s.logger))
	engine.Use(metrics.GinMiddleware())

	engine.GET("/healthz", s.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.POST("/webhook/:provider", s.HandleWebhook)
	// VNPay delivers its IPN as a GET with everything in the query string.
	engine.GET("/webhook/vnpay", s.HandleVNPayWebhook)

	api := engine.Group("/api")
	{
		api.GET("/orders/:id", s.GetOrder)
		api.POST("/orders/:id/checkout", s.CreateCheckout)
		api.POST("/orders/:id/refund", s.rateLimited, s.RefundOrder)
	}

	return engine
}

func (s *Server) rateLimited(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": apiError{Code: "rate_limited", Message: "too many requests"},
		})
		return
	}
	c.Next()
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

// RunHTTP binds the HTTP server to the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
