package engine

import (
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

var hundred = decimal.NewFromInt(100)

// Compute returns the unrounded contribution of one rule against base.
//
//	fixed_amount:            tax = rate (not scaled by base)
//	percentage, exclusive:   tax = base * rate / 100
//	percentage, inclusive:   tax = base * rate / (100 + rate)
func Compute(rule taxdomain.TaxRule, base decimal.Decimal) taxdomain.TaxLine {
	line := taxdomain.TaxLine{
		RuleID:      rule.ID,
		RuleCode:    rule.Code,
		RuleName:    rule.Name,
		Kind:        rule.Kind,
		RateApplied: rule.Rate,
		TaxAmount:   decimal.Zero,
	}

	switch rule.Kind {
	case taxdomain.RuleKindFixedAmount:
		line.TaxAmount = rule.Rate
	case taxdomain.RuleKindPercentage:
		if rule.Rate.IsZero() || base.IsZero() {
			line.Inclusive = rule.Inclusive
			return line
		}
		if rule.Inclusive {
			line.Inclusive = true
			line.TaxAmount = base.Mul(rule.Rate).Div(hundred.Add(rule.Rate))
		} else {
			line.TaxAmount = base.Mul(rule.Rate).Div(hundred)
		}
	}
	return line
}

// ExclusiveBase is the amount left once an inclusive line's tax is extracted.
func ExclusiveBase(base decimal.Decimal, line taxdomain.TaxLine) decimal.Decimal {
	if !line.Inclusive {
		return base
	}
	return base.Sub(line.TaxAmount)
}
