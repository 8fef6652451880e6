package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/config"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type stubRepo struct {
	taxdomain.Repository

	mu    sync.Mutex
	rules []taxdomain.TaxRule
	errs  []error
	calls int
}

func (r *stubRepo) ListAll(context.Context) ([]taxdomain.TaxRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]taxdomain.TaxRule{}, r.rules...), nil
}

func testRule(id int64, code string, active bool) taxdomain.TaxRule {
	return taxdomain.TaxRule{
		ID:                snowflake.ID(id),
		Code:              code,
		Name:              code,
		Kind:              taxdomain.RuleKindPercentage,
		Rate:              decimal.NewFromInt(15),
		Active:            active,
		ApplicableRegions: datatypes.JSONSlice[string]{"SA"},
	}
}

func newTestLoader(repo taxdomain.Repository) (*Loader, *Store, *clock.FakeClock) {
	store := NewStore()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewLoader(LoaderParams{
		Repo:  repo,
		Store: store,
		Clock: clk,
		Log:   zap.NewNop(),
	}), store, clk
}

func TestStore_PublishVersionsMonotonically(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Current())

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := store.Publish([]taxdomain.TaxRule{testRule(1, "a", true)}, now)
	second := store.Publish([]taxdomain.TaxRule{testRule(1, "a", true), testRule(2, "b", false)}, now)

	assert.Equal(t, uint64(1), first.Version())
	assert.Equal(t, uint64(2), second.Version())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, second, store.Current())

	// The old snapshot is unaffected by the newer publish.
	assert.Equal(t, 1, first.Len())
	info := second.Info()
	assert.Equal(t, 2, info.RuleCount)
	assert.Equal(t, 1, info.ActiveCount)
	assert.Equal(t, now, info.TakenAt)
}

func TestSnapshot_IsImmutable(t *testing.T) {
	source := []taxdomain.TaxRule{testRule(1, "vat", true)}
	snapshot := NewStore().Publish(source, time.Now())

	source[0].ApplicableRegions[0] = "AE"
	source[0].Rate = decimal.NewFromInt(99)

	rules := snapshot.Rules()
	assert.Equal(t, "SA", rules[0].ApplicableRegions[0])
	assert.True(t, rules[0].Rate.Equal(decimal.NewFromInt(15)))

	rules[0].ApplicableRegions[0] = "US"
	assert.Equal(t, "SA", snapshot.Rules()[0].ApplicableRegions[0])

	var nilSnapshot *Snapshot
	assert.Nil(t, nilSnapshot.Rules())
	assert.Equal(t, taxdomain.CatalogInfo{}, nilSnapshot.Info())
}

func TestStore_ConcurrentPublishAndRead(t *testing.T) {
	store := NewStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Publish([]taxdomain.TaxRule{testRule(int64(i+1), "r", true)}, now)
		}(i)
		go func() {
			defer wg.Done()
			if s := store.Current(); s != nil {
				_ = s.Rules()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8), store.Current().Version())
}

func TestLoader_Reload(t *testing.T) {
	repo := &stubRepo{rules: []taxdomain.TaxRule{testRule(1, "vat", true), testRule(2, "excise", false)}}
	loader, store, clk := newTestLoader(repo)

	snapshot, err := loader.Reload(context.Background(), "startup")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Version())
	assert.Equal(t, clk.Now(), snapshot.TakenAt())
	assert.Same(t, snapshot, store.Current())
	assert.Equal(t, 2, snapshot.Len())
}

func TestLoader_RetriesTransientErrorOnce(t *testing.T) {
	repo := &stubRepo{
		rules: []taxdomain.TaxRule{testRule(1, "vat", true)},
		errs:  []error{&pgconn.PgError{Code: "40001"}},
	}
	loader, _, _ := newTestLoader(repo)

	snapshot, err := loader.Reload(context.Background(), "schedule")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Len())
	assert.Equal(t, 2, repo.calls)
}

func TestLoader_FailureKeepsPreviousSnapshot(t *testing.T) {
	repo := &stubRepo{rules: []taxdomain.TaxRule{testRule(1, "vat", true)}}
	loader, store, _ := newTestLoader(repo)

	first, err := loader.Reload(context.Background(), "startup")
	require.NoError(t, err)

	repo.errs = []error{errors.New("connection refused")}
	_, err = loader.Reload(context.Background(), "schedule")
	require.Error(t, err)
	assert.Equal(t, 2, repo.calls)
	assert.Same(t, first, store.Current())
}

func TestRefresher_Schedule(t *testing.T) {
	loader, _, _ := newTestLoader(&stubRepo{})

	cfg := config.DefaultTaxConfig()
	cfg.RefreshSchedule = ""
	disabled := NewRefresher(loader, config.NewStaticTaxConfigHolder(cfg), zap.NewNop())
	require.NoError(t, disabled.Start(context.Background()))
	require.NoError(t, disabled.Stop(context.Background()))

	cfg.RefreshSchedule = "not a schedule"
	invalid := NewRefresher(loader, config.NewStaticTaxConfigHolder(cfg), zap.NewNop())
	assert.Error(t, invalid.Start(context.Background()))

	enabled := NewRefresher(loader, config.NewStaticTaxConfigHolder(config.DefaultTaxConfig()), zap.NewNop())
	require.NoError(t, enabled.Start(context.Background()))
	assert.Equal(t, "@every 5m", enabled.Schedule())
	require.NoError(t, enabled.Stop(context.Background()))
}

func TestRefresher_FollowsConfigReload(t *testing.T) {
	loader, _, _ := newTestLoader(&stubRepo{})
	holder := config.NewStaticTaxConfigHolder(config.DefaultTaxConfig())
	refresher := NewRefresher(loader, holder, zap.NewNop())
	require.NoError(t, refresher.Start(context.Background()))
	defer func() { _ = refresher.Stop(context.Background()) }()
	require.Len(t, refresher.cron.Entries(), 1)

	cfg := config.DefaultTaxConfig()
	cfg.RefreshSchedule = "@every 1h"
	require.NoError(t, holder.Replace(cfg))
	assert.Equal(t, "@every 1h", refresher.Schedule())
	assert.Len(t, refresher.cron.Entries(), 1)

	cfg.RefreshSchedule = ""
	require.NoError(t, holder.Replace(cfg))
	assert.Equal(t, "", refresher.Schedule())
	assert.Empty(t, refresher.cron.Entries())
}

func TestRedisNotifier_Handle(t *testing.T) {
	repo := &stubRepo{rules: []taxdomain.TaxRule{testRule(1, "vat", true)}}
	loader, store, clk := newTestLoader(repo)
	n := NewRedisNotifier(nil, loader, clk, zap.NewNop(), nil)

	n.handle("{not json")
	assert.Nil(t, store.Current())

	own, err := json.Marshal(changeMessage{InstanceID: n.instanceID, Version: 4})
	require.NoError(t, err)
	n.handle(string(own))
	assert.Nil(t, store.Current())

	peer, err := json.Marshal(changeMessage{InstanceID: "peer", Version: 4})
	require.NoError(t, err)
	n.handle(string(peer))
	require.NotNil(t, store.Current())
	assert.Equal(t, uint64(1), store.Current().Version())
}
