package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CategoryAll matches every product category.
const CategoryAll = "all"

// RuleKind selects how a rule's rate is interpreted.
type RuleKind string

const (
	RuleKindPercentage  RuleKind = "percentage"   // rate is a percent of the base amount
	RuleKindFixedAmount RuleKind = "fixed_amount" // rate is a flat amount in the order currency
)

func (k RuleKind) Valid() bool {
	switch k {
	case RuleKindPercentage, RuleKindFixedAmount:
		return true
	default:
		return false
	}
}

// TaxRule is an administrator-defined tax or fee.
// NOTE:
// - id and code are immutable once created
// - the calculation engine only ever reads rules through a catalog snapshot
type TaxRule struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Code string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_tax_rules_code"`
	Name string       `gorm:"type:text;not null"`

	Kind RuleKind        `gorm:"type:varchar(32);not null"`
	Rate decimal.Decimal `gorm:"type:numeric(20,6);not null"`

	// Inclusive is only meaningful for percentage rules.
	Inclusive bool `gorm:"not null;default:false"`
	// Compound opts an exclusive percentage rule into tax-on-tax.
	Compound bool `gorm:"not null;default:false"`
	Active   bool `gorm:"not null"`

	ApplicableRegions    datatypes.JSONSlice[string] `gorm:"column:applicable_regions;not null"`
	ApplicableCategories datatypes.JSONSlice[string] `gorm:"column:applicable_categories"`

	MinimumAmount decimal.NullDecimal `gorm:"column:minimum_amount;type:numeric(20,6)"`
	MaximumAmount decimal.NullDecimal `gorm:"column:maximum_amount;type:numeric(20,6)"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TaxRule) TableName() string { return "tax_rules" }

// Validate enforces the rule definition invariants. It runs on create and
// update only; calculations never call it.
func (r *TaxRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidName
	}
	if strings.TrimSpace(r.Code) == "" {
		return ErrInvalidCode
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if r.Rate.IsNegative() {
		return ErrInvalidRate
	}
	if len(r.ApplicableRegions) == 0 {
		return ErrInvalidRegions
	}
	for _, region := range r.ApplicableRegions {
		if strings.TrimSpace(region) == "" {
			return ErrInvalidRegions
		}
	}
	if r.MinimumAmount.Valid && r.MinimumAmount.Decimal.IsNegative() {
		return ErrInvalidMinimumAmount
	}
	if r.MaximumAmount.Valid && r.MaximumAmount.Decimal.IsNegative() {
		return ErrInvalidMaximumAmount
	}
	if r.MinimumAmount.Valid && r.MaximumAmount.Valid &&
		r.MinimumAmount.Decimal.GreaterThan(r.MaximumAmount.Decimal) {
		return ErrInvalidAmountRange
	}
	return nil
}

// Normalize canonicalizes a rule before validation: region codes upper-case,
// categories lower-case, both de-duplicated in first-seen order. Flags that
// have no meaning for the rule kind are cleared.
func (r *TaxRule) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Code = strings.TrimSpace(r.Code)
	r.Kind = RuleKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.ApplicableRegions = datatypes.JSONSlice[string](NormalizeRegions(r.ApplicableRegions))
	r.ApplicableCategories = datatypes.JSONSlice[string](NormalizeCategories(r.ApplicableCategories))

	if r.Kind == RuleKindFixedAmount {
		r.Inclusive = false
	}
	if r.Kind != RuleKindPercentage || r.Inclusive {
		r.Compound = false
	}
}

// AppliesToAllCategories reports whether the rule is unscoped by category.
func (r *TaxRule) AppliesToAllCategories() bool {
	if len(r.ApplicableCategories) == 0 {
		return true
	}
	for _, category := range r.ApplicableCategories {
		if strings.EqualFold(strings.TrimSpace(category), CategoryAll) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that shares no slices with r.
func (r TaxRule) Clone() TaxRule {
	out := r
	if r.ApplicableRegions != nil {
		out.ApplicableRegions = append(datatypes.JSONSlice[string]{}, r.ApplicableRegions...)
	}
	if r.ApplicableCategories != nil {
		out.ApplicableCategories = append(datatypes.JSONSlice[string]{}, r.ApplicableCategories...)
	}
	return out
}

func NormalizeRegions(values []string) []string {
	return normalizeSet(values, strings.ToUpper)
}

func NormalizeCategories(values []string) []string {
	return normalizeSet(values, strings.ToLower)
}

func normalizeSet(values []string, fold func(string) string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = fold(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
