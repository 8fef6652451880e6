package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/config"
	"github.com/smallbiznis/storetax/internal/observability/logger"
	"github.com/smallbiznis/storetax/internal/observability/metrics"
	"github.com/smallbiznis/storetax/internal/observability/tracing"
	"github.com/smallbiznis/storetax/internal/tax/catalog"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/smallbiznis/storetax/internal/tax/engine"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type CalculationParams struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Store     *catalog.Store
	TaxConfig *config.TaxConfigHolder
	Metrics   *metrics.TaxMetrics `optional:"true"`
}

type CalculationService struct {
	log     *zap.Logger
	clock   clock.Clock
	store   *catalog.Store
	taxCfg  *config.TaxConfigHolder
	metrics *metrics.TaxMetrics
}

func NewCalculationService(p CalculationParams) taxdomain.CalculationService {
	return &CalculationService{
		log:     p.Log.Named("tax.calculation"),
		clock:   p.Clock,
		store:   p.Store,
		taxCfg:  p.TaxConfig,
		metrics: p.Metrics,
	}
}

// Calculate prices one order against the snapshot current at call time. A
// catalog change mid-call does not affect the result.
func (s *CalculationService) Calculate(ctx context.Context, req taxdomain.CalculateRequest) (resp *taxdomain.CalculationResponse, err error) {
	start := s.clock.Now()
	snapshot := s.store.Current()

	var version uint64
	if snapshot != nil {
		version = snapshot.Version()
	}

	ctx, span := tracing.StartSpan(ctx, "tax.calculate",
		attribute.String("tax.region", strings.ToUpper(strings.TrimSpace(req.Region))),
		attribute.Int("tax.categories", len(req.Categories)),
		attribute.Int64("tax.catalog_version", int64(version)),
	)
	matched := 0
	defer func() {
		s.metrics.ObserveCalculation(err, matched, s.clock.Now().Sub(start))
		tracing.EndSpan(span, err)
	}()

	if snapshot == nil {
		return nil, taxdomain.ErrCatalogNotReady
	}

	cfg := s.taxCfg.Get()
	currency := cfg.ResolveCurrency(req.Currency)
	if !validCurrency(currency) {
		return nil, taxdomain.ErrInvalidCurrency
	}

	mode, parseErr := engine.ParseRoundingMode(cfg.RoundingMode)
	if parseErr != nil {
		mode = engine.DefaultPolicy().Rounding
	}
	policy := engine.Policy{
		Precision: cfg.Precision(currency),
		Rounding:  mode,
	}

	result, err := engine.Calculate(snapshot, taxdomain.CalculationContext{
		Amount:     req.Amount,
		Region:     req.Region,
		Categories: req.Categories,
		Currency:   currency,
	}, policy)
	if err != nil {
		logger.WithContext(ctx, s.log).Debug("calculation rejected", zap.Error(err))
		return nil, err
	}
	matched = len(result.Lines)

	logger.WithContext(ctx, s.log).Debug("calculation completed",
		zap.String("region", strings.ToUpper(strings.TrimSpace(req.Region))),
		zap.String("currency", result.Currency),
		zap.Int("matched_rules", matched),
		zap.Uint64("catalog_version", version),
	)

	return &taxdomain.CalculationResponse{
		CalculationResult: *result,
		CatalogVersion:    version,
		RoundingMode:      string(policy.Rounding),
	}, nil
}

func (s *CalculationService) CatalogInfo(context.Context) taxdomain.CatalogInfo {
	snapshot := s.store.Current()
	if snapshot == nil {
		return taxdomain.CatalogInfo{}
	}
	return snapshot.Info()
}

// validCurrency accepts three-letter ISO 4217 style codes.
func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
