// Package engine resolves which tax rules apply to an order and computes the
// resulting breakdown. It is pure: no I/O, no clock, no shared state. Callers
// hand it a read-only catalog snapshot.
package engine

import (
	"strings"

	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

// Calculate validates in, matches it against catalog and aggregates the
// matched rules under policy.
func Calculate(catalog Catalog, in taxdomain.CalculationContext, policy Policy) (*taxdomain.CalculationResult, error) {
	if err := ValidateContext(in); err != nil {
		return nil, err
	}

	var rules []taxdomain.TaxRule
	if catalog != nil {
		rules = catalog.Rules()
	}

	result := Aggregate(in.Amount, Match(rules, in), policy)
	result.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	return &result, nil
}

// ValidateContext rejects inputs the engine cannot price.
func ValidateContext(in taxdomain.CalculationContext) error {
	if in.Amount.IsNegative() {
		return taxdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(in.Region) == "" {
		return taxdomain.ErrInvalidRegion
	}
	return nil
}
