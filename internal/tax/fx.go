package tax

import (
	"github.com/smallbiznis/storetax/internal/tax/catalog"
	"github.com/smallbiznis/storetax/internal/tax/repository"
	"github.com/smallbiznis/storetax/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(repository.NewRepository),
	catalog.Module,
	fx.Provide(service.NewService),
	fx.Provide(service.NewCalculationService),
)
