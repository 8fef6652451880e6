package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

const (
	CalculationOutcomeOK              = "ok"
	CalculationOutcomeInvalidContext  = "invalid_context"
	CalculationOutcomeCatalogNotReady = "catalog_not_ready"
	CalculationOutcomeCanceled        = "canceled"
	CalculationOutcomeError           = "error"
)

const (
	CatalogReloadTriggerStartup      = "startup"
	CatalogReloadTriggerMutation     = "mutation"
	CatalogReloadTriggerNotification = "notification"
	CatalogReloadTriggerSchedule     = "schedule"

	CatalogReloadOutcomeOK    = "ok"
	CatalogReloadOutcomeError = "error"
)

// TaxMetrics exposes Prometheus collectors for the calculation hot path and
// the rule catalog.
type TaxMetrics struct {
	calculations        *prometheus.CounterVec
	calculationDuration prometheus.Observer
	matchedRules        prometheus.Observer
	catalogReloads      *prometheus.CounterVec
	catalogVersion      prometheus.Gauge
	catalogRules        *prometheus.GaugeVec
	outcomeCounters     map[string]prometheus.Counter
}

var (
	taxMetricsOnce sync.Once
	taxMetrics     *TaxMetrics
)

// Tax returns the singleton tax metrics registered on the default registerer.
func Tax() *TaxMetrics {
	return TaxWithConfig(Config{})
}

// TaxWithConfig returns the singleton tax metrics using config labels.
func TaxWithConfig(cfg Config) *TaxMetrics {
	taxMetricsOnce.Do(func() {
		taxMetrics = NewTaxMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return taxMetrics
}

// ResetTaxMetricsForTest resets the tax metrics singleton for tests.
func ResetTaxMetricsForTest() {
	taxMetricsOnce = sync.Once{}
	taxMetrics = nil
}

// NewTaxMetrics registers a fresh set of collectors on registerer.
func NewTaxMetrics(registerer prometheus.Registerer, cfg Config) *TaxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName(cfg.ServiceName),
		"env":     environment,
	}

	calculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storetax_calculations_total",
		Help:        "Tax calculations by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	calculationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "storetax_calculation_duration_seconds",
		Help:        "Latency of a single tax calculation, snapshot acquisition included.",
		Buckets:     []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		ConstLabels: constLabels,
	})
	matchedRules := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "storetax_calculation_matched_rules",
		Help:        "Number of rules matched per successful calculation.",
		Buckets:     []float64{0, 1, 2, 3, 5, 8, 13},
		ConstLabels: constLabels,
	})
	catalogReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storetax_catalog_reloads_total",
		Help:        "Catalog snapshot rebuilds by trigger and outcome.",
		ConstLabels: constLabels,
	}, []string{"trigger", "outcome"})
	catalogVersion := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "storetax_catalog_version",
		Help:        "Version of the catalog snapshot currently serving calculations.",
		ConstLabels: constLabels,
	})
	catalogRules := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "storetax_catalog_rules",
		Help:        "Rules in the current catalog snapshot by state.",
		ConstLabels: constLabels,
	}, []string{"state"})

	registerer.MustRegister(
		calculations,
		calculationDuration,
		matchedRules,
		catalogReloads,
		catalogVersion,
		catalogRules,
	)

	outcomeCounters := map[string]prometheus.Counter{}
	for _, outcome := range []string{
		CalculationOutcomeOK,
		CalculationOutcomeInvalidContext,
		CalculationOutcomeCatalogNotReady,
		CalculationOutcomeCanceled,
		CalculationOutcomeError,
	} {
		outcomeCounters[outcome] = calculations.WithLabelValues(outcome)
	}

	return &TaxMetrics{
		calculations:        calculations,
		calculationDuration: calculationDuration,
		matchedRules:        matchedRules,
		catalogReloads:      catalogReloads,
		catalogVersion:      catalogVersion,
		catalogRules:        catalogRules,
		outcomeCounters:     outcomeCounters,
	}
}

// ObserveCalculation records one calculation. matched is ignored on failure.
func (m *TaxMetrics) ObserveCalculation(err error, matched int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := ClassifyCalculationOutcome(err)
	if counter, ok := m.outcomeCounters[outcome]; ok {
		counter.Inc()
	} else {
		m.calculations.WithLabelValues(outcome).Inc()
	}
	m.calculationDuration.Observe(duration.Seconds())
	if err == nil {
		m.matchedRules.Observe(float64(matched))
	}
}

// ObserveCatalogReload records a snapshot rebuild attempt.
func (m *TaxMetrics) ObserveCatalogReload(trigger string, err error) {
	if m == nil {
		return
	}
	outcome := CatalogReloadOutcomeOK
	if err != nil {
		outcome = CatalogReloadOutcomeError
	}
	m.catalogReloads.WithLabelValues(trigger, outcome).Inc()
}

// SetCatalog publishes the gauges for a newly installed snapshot.
func (m *TaxMetrics) SetCatalog(version uint64, total, active int) {
	if m == nil {
		return
	}
	m.catalogVersion.Set(float64(version))
	m.catalogRules.WithLabelValues("active").Set(float64(active))
	m.catalogRules.WithLabelValues("inactive").Set(float64(total - active))
}

// ClassifyCalculationOutcome maps calculation errors to low-cardinality outcomes.
func ClassifyCalculationOutcome(err error) string {
	switch {
	case err == nil:
		return CalculationOutcomeOK
	case errors.Is(err, taxdomain.ErrInvalidContext):
		return CalculationOutcomeInvalidContext
	case errors.Is(err, taxdomain.ErrCatalogNotReady):
		return CalculationOutcomeCatalogNotReady
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CalculationOutcomeCanceled
	default:
		return CalculationOutcomeError
	}
}
