package engine

import (
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

// Aggregate combines matched rules into one breakdown.
//
// Every rule is computed against the original amount. A rule flagged
// Compound instead taxes the amount plus the exclusive taxes of the lines
// before it. Each line is rounded exactly once; subtotal, totalTax and
// grandTotal are derived from the rounded lines so that
// grandTotal == amount + sum(exclusive lines) holds to the cent.
func Aggregate(amount decimal.Decimal, matched []taxdomain.TaxRule, policy Policy) taxdomain.CalculationResult {
	exact := aggregateExact(amount, matched)

	result := taxdomain.CalculationResult{
		Subtotal: amount,
		Lines:    make([]taxdomain.TaxLine, 0, len(exact)),
		TotalTax: decimal.Zero,
	}
	for _, line := range exact {
		line.TaxAmount = policy.Round(line.TaxAmount)
		if line.Inclusive {
			result.Subtotal = result.Subtotal.Sub(line.TaxAmount)
		}
		result.TotalTax = result.TotalTax.Add(line.TaxAmount)
		result.Lines = append(result.Lines, line)
	}
	result.GrandTotal = result.Subtotal.Add(result.TotalTax)
	return result
}

// aggregateExact returns the unrounded line contributions in catalog order.
func aggregateExact(amount decimal.Decimal, matched []taxdomain.TaxRule) []taxdomain.TaxLine {
	lines := make([]taxdomain.TaxLine, 0, len(matched))
	exclusiveSoFar := decimal.Zero
	for _, rule := range matched {
		base := amount
		if rule.Compound && !rule.Inclusive && rule.Kind == taxdomain.RuleKindPercentage {
			base = amount.Add(exclusiveSoFar)
		}
		line := Compute(rule, base)
		if !line.Inclusive {
			exclusiveSoFar = exclusiveSoFar.Add(line.TaxAmount)
		}
		lines = append(lines, line)
	}
	return lines
}
