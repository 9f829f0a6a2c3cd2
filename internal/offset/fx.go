package offset

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/thanhtoan69/ahihi-sub023/internal/config"
	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	offsetdomain "github.com/thanhtoan69/ahihi-sub023/internal/offset/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/offset/service"
)

var Module = fx.Module("offset",
	fx.Provide(func(genID *snowflake.Node, outbox *events.Outbox, logger *zap.Logger, cfg config.Config) offsetdomain.Service {
		return service.Provide(genID, outbox, logger, cfg.Offset.Percent)
	}),
)
