package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/cooprin/fleetbill/internal/audit"
	"github.com/cooprin/fleetbill/internal/billing"
	"github.com/cooprin/fleetbill/internal/catalog"
	"github.com/cooprin/fleetbill/internal/client"
	"github.com/cooprin/fleetbill/internal/config"
	"github.com/cooprin/fleetbill/internal/logger"
	"github.com/cooprin/fleetbill/internal/migration"
	"github.com/cooprin/fleetbill/internal/observability"
	"github.com/cooprin/fleetbill/internal/runlock"
	"github.com/cooprin/fleetbill/internal/server"
	"github.com/cooprin/fleetbill/internal/tariff"
	"github.com/cooprin/fleetbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		runlock.Module,

		audit.Module,
		client.Module,
		catalog.Module,
		tariff.Module,
		billing.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
