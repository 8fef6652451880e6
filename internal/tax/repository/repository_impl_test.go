package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	repo taxdomain.Repository
	node *snowflake.Node
	now  time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&taxdomain.TaxRule{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &fixture{
		repo: NewRepository(conn),
		node: node,
		now:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) rule(code string, regions ...string) *taxdomain.TaxRule {
	return &taxdomain.TaxRule{
		ID:                   f.node.Generate(),
		Code:                 code,
		Name:                 strings.ToUpper(code),
		Kind:                 taxdomain.RuleKindPercentage,
		Rate:                 decimal.NewFromInt(15),
		Active:               true,
		ApplicableRegions:    datatypes.JSONSlice[string](regions),
		ApplicableCategories: datatypes.JSONSlice[string]{taxdomain.CategoryAll},
		CreatedAt:            f.now,
		UpdatedAt:            f.now,
	}
}

func TestRepository_CreateAndFind(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rule := f.rule("vat-sa", "SA")
	rule.MaximumAmount = decimal.NewNullDecimal(decimal.NewFromInt(1000))
	require.NoError(t, f.repo.Create(ctx, rule))

	got, err := f.repo.FindByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "vat-sa", got.Code)
	assert.True(t, got.Rate.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, []string{"SA"}, []string(got.ApplicableRegions))
	assert.False(t, got.MinimumAmount.Valid)
	require.True(t, got.MaximumAmount.Valid)
	assert.True(t, got.MaximumAmount.Decimal.Equal(decimal.NewFromInt(1000)))

	byCode, err := f.repo.FindByCode(ctx, " vat-sa ")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, rule.ID, byCode.ID)

	missing, err := f.repo.FindByID(ctx, f.node.Generate())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_CreateDuplicateCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, f.rule("vat-sa", "SA")))
	err := f.repo.Create(ctx, f.rule("vat-sa", "AE"))
	assert.ErrorIs(t, err, taxdomain.ErrDuplicateCode)
}

func TestRepository_ListAllIsDefinitionOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.rule("b-first", "SA")
	second := f.rule("a-second", "SA")
	third := f.rule("c-third", "AE")
	// Insert out of id order.
	for _, r := range []*taxdomain.TaxRule{third, first, second} {
		require.NoError(t, f.repo.Create(ctx, r))
	}

	items, err := f.repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.Equal(t, third.ID, items[2].ID)
}

func TestRepository_ListFilters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	vat := f.rule("vat-sa", "SA", "AE")
	excise := f.rule("excise-ae", "AE")
	excise.Name = "Excise duty"
	excise.Active = false
	shipping := f.rule("shipping", "SA")
	for _, r := range []*taxdomain.TaxRule{vat, excise, shipping} {
		require.NoError(t, f.repo.Create(ctx, r))
	}

	items, err := f.repo.List(ctx, taxdomain.ListRequest{Region: "ae"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, vat.ID, items[0].ID)
	assert.Equal(t, excise.ID, items[1].ID)

	active := true
	items, err = f.repo.List(ctx, taxdomain.ListRequest{Region: "AE", Active: &active})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, vat.ID, items[0].ID)

	items, err = f.repo.List(ctx, taxdomain.ListRequest{Name: "excise"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, excise.ID, items[0].ID)

	items, err = f.repo.List(ctx, taxdomain.ListRequest{Code: "shipping"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = f.repo.List(ctx, taxdomain.ListRequest{SortBy: "code", OrderBy: "desc"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "vat-sa", items[0].Code)
	assert.Equal(t, "excise-ae", items[2].Code)
}

func TestRepository_UpdateAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rule := f.rule("vat-sa", "SA")
	rule.MinimumAmount = decimal.NewNullDecimal(decimal.NewFromInt(10))
	require.NoError(t, f.repo.Create(ctx, rule))

	rule.Name = "VAT Saudi"
	rule.Active = false
	rule.Rate = decimal.NewFromInt(5)
	rule.MinimumAmount = decimal.NullDecimal{}
	rule.UpdatedAt = f.now.Add(time.Hour)
	require.NoError(t, f.repo.Update(ctx, rule))

	got, err := f.repo.FindByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "VAT Saudi", got.Name)
	assert.False(t, got.Active)
	assert.True(t, got.Rate.Equal(decimal.NewFromInt(5)))
	assert.False(t, got.MinimumAmount.Valid)

	missing := f.rule("ghost", "SA")
	assert.ErrorIs(t, f.repo.Update(ctx, missing), taxdomain.ErrNotFound)

	require.NoError(t, f.repo.Delete(ctx, rule.ID))
	assert.ErrorIs(t, f.repo.Delete(ctx, rule.ID), taxdomain.ErrNotFound)
}

func TestRepository_ListFiltersTreatInputLiterally(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, f.rule("vat-sa", "SA")))
	discount := f.rule("promo_50", "AE")
	discount.Name = "Promo 50% off"
	require.NoError(t, f.repo.Create(ctx, discount))

	for _, region := range []string{"S_", "%", `SA"`, `"`} {
		items, err := f.repo.List(ctx, taxdomain.ListRequest{Region: region})
		require.NoError(t, err, region)
		assert.Empty(t, items, region)
	}

	items, err := f.repo.List(ctx, taxdomain.ListRequest{Name: "%"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, discount.ID, items[0].ID)

	items, err = f.repo.List(ctx, taxdomain.ListRequest{Name: "_"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRepository_CreatePersistsInactive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rule := f.rule("excise-ae", "AE")
	rule.Active = false
	require.NoError(t, f.repo.Create(ctx, rule))

	stored, err := f.repo.FindByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Active)
}
