package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	"github.com/thanhtoan69/ahihi-sub023/internal/config"
	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway"
	"github.com/thanhtoan69/ahihi-sub023/internal/logger"
	"github.com/thanhtoan69/ahihi-sub023/internal/migration"
	"github.com/thanhtoan69/ahihi-sub023/internal/observability/metrics"
	"github.com/thanhtoan69/ahihi-sub023/internal/offset"
	"github.com/thanhtoan69/ahihi-sub023/internal/order"
	"github.com/thanhtoan69/ahihi-sub023/internal/server"
	"github.com/thanhtoan69/ahihi-sub023/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		logger.Module,
		config.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),
		fx.Invoke(func(cfg config.Config) {
			metrics.GatewayWithConfig(metrics.Config{
				ServiceName: "greenpay",
				Environment: cfg.Environment,
			})
		}),
		clock.Module,
		fx.Provide(events.NewOutbox),
		order.Module,
		offset.Module,
		gateway.Module,
		server.Module,
	)
	app.Run()
}
