package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCalculationOutcome(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, CalculationOutcomeOK},
		{"invalid amount", taxdomain.ErrInvalidAmount, CalculationOutcomeInvalidContext},
		{"wrapped invalid region", fmt.Errorf("calculate: %w", taxdomain.ErrInvalidRegion), CalculationOutcomeInvalidContext},
		{"catalog", taxdomain.ErrCatalogNotReady, CalculationOutcomeCatalogNotReady},
		{"deadline", context.DeadlineExceeded, CalculationOutcomeCanceled},
		{"unknown", errors.New("boom"), CalculationOutcomeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyCalculationOutcome(tc.err))
		})
	}
}

func TestTaxMetrics_ObserveCalculation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewTaxMetrics(registry, Config{ServiceName: "storetax", Environment: "test"})

	m.ObserveCalculation(nil, 2, time.Millisecond)
	m.ObserveCalculation(nil, 0, time.Millisecond)
	m.ObserveCalculation(taxdomain.ErrInvalidAmount, 0, time.Microsecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calculations.WithLabelValues(CalculationOutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calculations.WithLabelValues(CalculationOutcomeInvalidContext)))

	families, err := registry.Gather()
	require.NoError(t, err)

	var matched *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "storetax_calculation_matched_rules" {
			matched = family
		}
	}
	require.NotNil(t, matched)
	require.Len(t, matched.GetMetric(), 1)

	histogram := matched.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), histogram.GetSampleCount())
	assert.Equal(t, 2.0, histogram.GetSampleSum())

	labels := map[string]string{}
	for _, pair := range matched.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, "storetax", labels["service"])
	assert.Equal(t, "test", labels["env"])
}

func TestTaxMetrics_Catalog(t *testing.T) {
	m := NewTaxMetrics(prometheus.NewRegistry(), Config{})

	m.SetCatalog(7, 5, 3)
	m.ObserveCatalogReload(CatalogReloadTriggerMutation, nil)
	m.ObserveCatalogReload(CatalogReloadTriggerSchedule, errors.New("db down"))

	assert.Equal(t, 7.0, testutil.ToFloat64(m.catalogVersion))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.catalogRules.WithLabelValues("active")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.catalogRules.WithLabelValues("inactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogReloads.WithLabelValues(CatalogReloadTriggerMutation, CatalogReloadOutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogReloads.WithLabelValues(CatalogReloadTriggerSchedule, CatalogReloadOutcomeError)))
}

func TestTaxMetrics_NilSafe(t *testing.T) {
	var m *TaxMetrics
	assert.NotPanics(t, func() {
		m.ObserveCalculation(nil, 1, time.Second)
		m.ObserveCatalogReload(CatalogReloadTriggerStartup, nil)
		m.SetCatalog(1, 1, 1)
	})
}

func TestTaxSingleton(t *testing.T) {
	ResetTaxMetricsForTest()
	t.Cleanup(ResetTaxMetricsForTest)

	registry := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = registry
	t.Cleanup(func() { prometheus.DefaultRegisterer = prev })

	assert.Same(t, Tax(), TaxWithConfig(Config{ServiceName: "other"}))
}
