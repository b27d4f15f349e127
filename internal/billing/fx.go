package billing

import (
	"github.com/cooprin/fleetbill/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(
		service.NewService,
	),
)
