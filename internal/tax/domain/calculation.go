package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CalculationContext is the input to one calculation.
type CalculationContext struct {
	Amount     decimal.Decimal
	Region     string
	Categories []string
	Currency   string
}

// TaxLine is one matched rule's contribution.
type TaxLine struct {
	RuleID      snowflake.ID    `json:"rule_id"`
	RuleCode    string          `json:"rule_code"`
	RuleName    string          `json:"rule_name"`
	Kind        RuleKind        `json:"kind"`
	Inclusive   bool            `json:"inclusive"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	RateApplied decimal.Decimal `json:"rate_applied"`
}

// CalculationResult is the itemized breakdown returned to callers.
type CalculationResult struct {
	Currency   string          `json:"currency,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Lines      []TaxLine       `json:"lines"`
	TotalTax   decimal.Decimal `json:"total_tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// CatalogInfo describes the snapshot calculations currently run against.
type CatalogInfo struct {
	SnapshotID  string    `json:"snapshot_id"`
	Version     uint64    `json:"version"`
	RuleCount   int       `json:"rule_count"`
	ActiveCount int       `json:"active_count"`
	TakenAt     time.Time `json:"taken_at"`
}
