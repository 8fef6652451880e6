package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/storetax/internal/audit/domain"
	auditrepository "github.com/smallbiznis/storetax/internal/audit/repository"
	auditservice "github.com/smallbiznis/storetax/internal/audit/service"
	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/config"
	obscontext "github.com/smallbiznis/storetax/internal/observability/context"
	"github.com/smallbiznis/storetax/internal/tax/catalog"
	"github.com/smallbiznis/storetax/internal/tax/catalog/mocks"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/smallbiznis/storetax/internal/tax/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	svc      taxdomain.Service
	calc     taxdomain.CalculationService
	audit    auditdomain.Service
	store    *catalog.Store
	notifier *mocks.MockNotifier
	clock    *clock.FakeClock
}

func setupHarness(t *testing.T, taxCfg config.TaxConfig) *harness {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&taxdomain.TaxRule{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)

	repo := repository.NewRepository(db)
	store := catalog.NewStore()
	loader := catalog.NewLoader(catalog.LoaderParams{
		Repo:  repo,
		Store: store,
		Clock: clk,
		Log:   log,
	})
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})

	return &harness{
		svc: NewService(ServiceParams{
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Repo:     repo,
			Loader:   loader,
			Notifier: notifier,
			AuditSvc: audit,
		}),
		calc: NewCalculationService(CalculationParams{
			Log:       log,
			Clock:     clk,
			Store:     store,
			TaxConfig: config.NewStaticTaxConfigHolder(taxCfg),
		}),
		audit:    audit,
		store:    store,
		notifier: notifier,
		clock:    clk,
	}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func boolPtr(v bool) *bool { return &v }

func vatRequest() taxdomain.CreateRequest {
	return taxdomain.CreateRequest{
		Name:                 "VAT Saudi",
		Kind:                 taxdomain.RuleKindPercentage,
		Rate:                 dec("15"),
		ApplicableRegions:    []string{"sa"},
		ApplicableCategories: []string{"all"},
	}
}

func shippingRequest() taxdomain.CreateRequest {
	return taxdomain.CreateRequest{
		Code:              "shipping-fee",
		Name:              "Shipping",
		Kind:              taxdomain.RuleKindFixedAmount,
		Rate:              dec("10"),
		Inclusive:         true,
		ApplicableRegions: []string{"SA"},
	}
}

func TestService_CreatePublishesSnapshot(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	ctx := obscontext.WithActor(context.Background(), "admin", "staff-1")

	h.notifier.EXPECT().Notify(gomock.Any(), uint64(1)).Return(nil)

	resp, err := h.svc.Create(ctx, vatRequest())
	require.NoError(t, err)
	assert.Equal(t, "vat-saudi", resp.Code)
	assert.Equal(t, []string{"SA"}, resp.ApplicableRegions)
	assert.True(t, resp.Active)
	assert.Nil(t, resp.MinimumAmount)

	snapshot := h.store.Current()
	require.NotNil(t, snapshot)
	assert.Equal(t, uint64(1), snapshot.Version())
	require.Equal(t, 1, snapshot.Len())
	assert.Equal(t, resp.ID, snapshot.Rules()[0].ID.String())

	logs, err := h.audit.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActionTaxRuleCreate, logs.AuditLogs[0].Action)
	assert.Equal(t, "admin", logs.AuditLogs[0].ActorRole)
	require.NotNil(t, logs.AuditLogs[0].TargetID)
	assert.Equal(t, resp.ID, *logs.AuditLogs[0].TargetID)
}

func TestService_CreateNormalizesFixedAmount(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	h.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)

	resp, err := h.svc.Create(context.Background(), shippingRequest())
	require.NoError(t, err)
	assert.Equal(t, "shipping-fee", resp.Code)
	assert.False(t, resp.Inclusive)
	assert.Equal(t, []string{}, resp.ApplicableCategories)
}

func TestService_CreateRejectsInvalidDefinition(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())

	cases := []struct {
		name   string
		mutate func(r *taxdomain.CreateRequest)
		want   error
	}{
		{"negative rate", func(r *taxdomain.CreateRequest) { r.Rate = dec("-1") }, taxdomain.ErrInvalidRate},
		{"no regions", func(r *taxdomain.CreateRequest) { r.ApplicableRegions = []string{" "} }, taxdomain.ErrInvalidRegions},
		{"unknown kind", func(r *taxdomain.CreateRequest) { r.Kind = "tiered" }, taxdomain.ErrInvalidKind},
		{"blank name", func(r *taxdomain.CreateRequest) { r.Name = "" }, taxdomain.ErrInvalidName},
		{"inverted range", func(r *taxdomain.CreateRequest) {
			r.MinimumAmount = decPtr("500")
			r.MaximumAmount = decPtr("100")
		}, taxdomain.ErrInvalidAmountRange},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := vatRequest()
			tc.mutate(&req)
			_, err := h.svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, taxdomain.ErrInvalidRuleDefinition)
		})
	}
	assert.Nil(t, h.store.Current())
}

func TestService_CreateDuplicateCode(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	h.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)

	_, err := h.svc.Create(context.Background(), vatRequest())
	require.NoError(t, err)

	req := vatRequest()
	req.Code = "VAT Saudi"
	_, err = h.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, taxdomain.ErrDuplicateCode)
}

func TestService_GetAndList(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	h.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	vat, err := h.svc.Create(context.Background(), vatRequest())
	require.NoError(t, err)
	_, err = h.svc.Create(context.Background(), shippingRequest())
	require.NoError(t, err)

	got, err := h.svc.Get(context.Background(), vat.ID)
	require.NoError(t, err)
	assert.Equal(t, vat.Code, got.Code)

	_, err = h.svc.Get(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, taxdomain.ErrInvalidID)
	_, err = h.svc.Get(context.Background(), "42")
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)

	items, err := h.svc.List(context.Background(), taxdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, vat.ID, items[0].ID)

	items, err = h.svc.List(context.Background(), taxdomain.ListRequest{Code: "shipping-fee"})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestService_UpdateIsPartial(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	gomock.InOrder(
		h.notifier.EXPECT().Notify(gomock.Any(), uint64(1)).Return(nil),
		h.notifier.EXPECT().Notify(gomock.Any(), uint64(2)).Return(nil),
		h.notifier.EXPECT().Notify(gomock.Any(), uint64(3)).Return(nil),
	)

	req := vatRequest()
	req.MinimumAmount = decPtr("50")
	created, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	updated, err := h.svc.Update(context.Background(), taxdomain.UpdateRequest{
		ID:                 created.ID,
		Rate:               decPtr("5"),
		ClearMinimumAmount: true,
	})
	require.NoError(t, err)
	assert.True(t, updated.Rate.Equal(dec("5")))
	assert.Nil(t, updated.MinimumAmount)
	assert.Equal(t, created.Name, updated.Name)
	assert.Equal(t, created.Code, updated.Code)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	rules := h.store.Current().Rules()
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Rate.Equal(dec("5")))

	_, err = h.svc.Update(context.Background(), taxdomain.UpdateRequest{
		ID:   created.ID,
		Rate: decPtr("-3"),
	})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidRate)

	name := "VAT"
	_, err = h.svc.Update(context.Background(), taxdomain.UpdateRequest{ID: created.ID, Name: &name})
	require.NoError(t, err)

	logs, err := h.audit.List(context.Background(), auditdomain.ListAuditLogRequest{Action: auditdomain.ActionTaxRuleUpdate})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 2)
}

func TestService_DisableEnable(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	h.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	created, err := h.svc.Create(context.Background(), vatRequest())
	require.NoError(t, err)

	disabled, err := h.svc.Disable(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Active)

	// Already disabled: no write, no notification.
	_, err = h.svc.Disable(context.Background(), created.ID)
	require.NoError(t, err)

	info := h.calc.CatalogInfo(context.Background())
	assert.Equal(t, 1, info.RuleCount)
	assert.Equal(t, 0, info.ActiveCount)

	enabled, err := h.svc.Enable(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Active)
	assert.Equal(t, 1, h.calc.CatalogInfo(context.Background()).ActiveCount)
}

func TestService_Delete(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	h.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	created, err := h.svc.Create(context.Background(), vatRequest())
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(context.Background(), created.ID))
	assert.Equal(t, 0, h.store.Current().Len())

	assert.ErrorIs(t, h.svc.Delete(context.Background(), created.ID), taxdomain.ErrNotFound)
	assert.ErrorIs(t, h.svc.Delete(context.Background(), ""), taxdomain.ErrInvalidID)
}

func TestService_NotifyFailureKeepsMutation(t *testing.T) {
	h := setupHarness(t, config.DefaultTaxConfig())
	h.notifier.EXPECT().Notify(gomock.Any(), uint64(1)).Return(errors.New("redis down"))

	resp, err := h.svc.Create(context.Background(), vatRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, uint64(1), h.store.Current().Version())
}
