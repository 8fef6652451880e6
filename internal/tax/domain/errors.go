package domain

import "errors"

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("not_found")
	ErrDuplicateCode   = errors.New("duplicate_code")
	ErrCatalogNotReady = errors.New("catalog_not_ready")
)

// ErrInvalidRuleDefinition is matched by every rule validation failure.
var ErrInvalidRuleDefinition = errors.New("invalid_rule_definition")

// ErrInvalidContext is matched by every calculation input failure.
var ErrInvalidContext = errors.New("invalid_context")

// RuleDefinitionError rejects a rule at create or update time.
type RuleDefinitionError struct {
	Field string
	Code  string
}

func (e *RuleDefinitionError) Error() string { return e.Code }

func (e *RuleDefinitionError) Is(target error) bool { return target == ErrInvalidRuleDefinition }

// ContextError rejects a single calculation before any matching begins.
type ContextError struct {
	Field string
	Code  string
}

func (e *ContextError) Error() string { return e.Code }

func (e *ContextError) Is(target error) bool { return target == ErrInvalidContext }

var (
	ErrInvalidName          = &RuleDefinitionError{Field: "name", Code: "invalid_name"}
	ErrInvalidCode          = &RuleDefinitionError{Field: "code", Code: "invalid_code"}
	ErrInvalidKind          = &RuleDefinitionError{Field: "kind", Code: "invalid_kind"}
	ErrInvalidRate          = &RuleDefinitionError{Field: "rate", Code: "invalid_rate"}
	ErrInvalidRegions       = &RuleDefinitionError{Field: "applicable_regions", Code: "invalid_applicable_regions"}
	ErrInvalidMinimumAmount = &RuleDefinitionError{Field: "minimum_amount", Code: "invalid_minimum_amount"}
	ErrInvalidMaximumAmount = &RuleDefinitionError{Field: "maximum_amount", Code: "invalid_maximum_amount"}
	ErrInvalidAmountRange   = &RuleDefinitionError{Field: "minimum_amount", Code: "invalid_amount_range"}
)

var (
	ErrInvalidAmount   = &ContextError{Field: "amount", Code: "invalid_amount"}
	ErrInvalidRegion   = &ContextError{Field: "region", Code: "invalid_region"}
	ErrInvalidCurrency = &ContextError{Field: "currency", Code: "invalid_currency"}
)
