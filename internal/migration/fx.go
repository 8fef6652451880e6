package migration

import (
	"context"

	"github.com/smallbiznis/storetax/internal/cache"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates at invoke time so the schema exists before any OnStart
// hook reads from it.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, locker *cache.Locker, log *zap.Logger) error {
		return Run(context.Background(), conn, locker, log.Named("migration"))
	}),
)
