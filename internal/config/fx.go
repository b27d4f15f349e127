package config

import "go.uber.org/fx"

// Module wires application configuration and the billing policy holder.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewBillingPolicyHolder,
	),
)
