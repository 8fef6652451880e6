package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Service manages the rule catalog on behalf of the administration console.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Disable(ctx context.Context, id string) (*Response, error)
	Enable(ctx context.Context, id string) (*Response, error)
	Delete(ctx context.Context, id string) error
}

// CalculationService computes tax breakdowns against the current catalog snapshot.
type CalculationService interface {
	Calculate(ctx context.Context, req CalculateRequest) (*CalculationResponse, error)
	CatalogInfo(ctx context.Context) CatalogInfo
}

type ListRequest struct {
	Name    string
	Code    string
	Region  string
	Active  *bool
	SortBy  string
	OrderBy string
}

type CreateRequest struct {
	Code                 string           `json:"code"`
	Name                 string           `json:"name"`
	Kind                 RuleKind         `json:"kind"`
	Rate                 decimal.Decimal  `json:"rate"`
	Inclusive            bool             `json:"inclusive"`
	Compound             bool             `json:"compound"`
	ApplicableRegions    []string         `json:"applicable_regions"`
	ApplicableCategories []string         `json:"applicable_categories"`
	MinimumAmount        *decimal.Decimal `json:"minimum_amount"`
	MaximumAmount        *decimal.Decimal `json:"maximum_amount"`
	Active               *bool            `json:"active"`
}

type UpdateRequest struct {
	ID                   string           `json:"id"`
	Name                 *string          `json:"name,omitempty"`
	Kind                 *RuleKind        `json:"kind,omitempty"`
	Rate                 *decimal.Decimal `json:"rate,omitempty"`
	Inclusive            *bool            `json:"inclusive,omitempty"`
	Compound             *bool            `json:"compound,omitempty"`
	ApplicableRegions    []string         `json:"applicable_regions,omitempty"`
	ApplicableCategories []string         `json:"applicable_categories,omitempty"`
	MinimumAmount        *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount        *decimal.Decimal `json:"maximum_amount,omitempty"`
	ClearMinimumAmount   bool             `json:"clear_minimum_amount,omitempty"`
	ClearMaximumAmount   bool             `json:"clear_maximum_amount,omitempty"`
}

type Response struct {
	ID                   string           `json:"id"`
	Code                 string           `json:"code"`
	Name                 string           `json:"name"`
	Kind                 RuleKind         `json:"kind"`
	Rate                 decimal.Decimal  `json:"rate"`
	Inclusive            bool             `json:"inclusive"`
	Compound             bool             `json:"compound"`
	Active               bool             `json:"active"`
	ApplicableRegions    []string         `json:"applicable_regions"`
	ApplicableCategories []string         `json:"applicable_categories"`
	MinimumAmount        *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount        *decimal.Decimal `json:"maximum_amount,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

type CalculateRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Region     string          `json:"region"`
	Categories []string        `json:"categories"`
	Currency   string          `json:"currency"`
}

type CalculationResponse struct {
	CalculationResult
	CatalogVersion uint64 `json:"catalog_version"`
	RoundingMode   string `json:"rounding_mode"`
}
