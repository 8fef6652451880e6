package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storetax/internal/cache"
	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/config"
	"github.com/smallbiznis/storetax/internal/migration"
	"github.com/smallbiznis/storetax/internal/observability"
	"github.com/smallbiznis/storetax/internal/server"
	"github.com/smallbiznis/storetax/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,

		// Schema must exist before the catalog loads.
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
