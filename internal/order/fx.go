package order

import (
	"go.uber.org/fx"

	"github.com/thanhtoan69/ahihi-sub023/internal/order/repository"
)

var Module = fx.Module("order",
	fx.Provide(repository.Provide),
)
