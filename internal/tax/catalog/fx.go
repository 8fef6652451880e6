package catalog

import (
	"context"

	"github.com/smallbiznis/storetax/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.catalog",
	fx.Provide(
		NewStore,
		NewLoader,
		NewNotifier,
		NewRefresher,
	),
	fx.Invoke(registerLifecycle),
)

// registerLifecycle loads the first snapshot before the server accepts
// traffic, then starts the periodic refresh.
func registerLifecycle(lc fx.Lifecycle, loader *Loader, refresher *Refresher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := loader.Reload(ctx, metrics.CatalogReloadTriggerStartup); err != nil {
				return err
			}
			return refresher.Start(ctx)
		},
		OnStop: refresher.Stop,
	})
}
