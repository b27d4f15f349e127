package tariff

import (
	"github.com/cooprin/fleetbill/internal/tariff/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tariff.service",
	fx.Provide(
		service.NewService,
		service.NewManagement,
		service.NewResolver,
	),
)
