package engine

import (
	"strings"

	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

// Catalog is a read-only view over the rules of one snapshot, in definition order.
type Catalog interface {
	Rules() []taxdomain.TaxRule
}

// RuleList adapts a plain slice to Catalog.
type RuleList []taxdomain.TaxRule

func (l RuleList) Rules() []taxdomain.TaxRule { return l }

// Match returns the rules applicable to in, preserving catalog order.
// An empty result is a normal outcome.
func Match(rules []taxdomain.TaxRule, in taxdomain.CalculationContext) []taxdomain.TaxRule {
	matched := make([]taxdomain.TaxRule, 0, len(rules))
	for _, rule := range rules {
		if Matches(rule, in) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Matches reports whether a single rule applies to in.
func Matches(rule taxdomain.TaxRule, in taxdomain.CalculationContext) bool {
	if !rule.Active || !wellFormed(rule) {
		return false
	}
	if !containsFold(rule.ApplicableRegions, in.Region) {
		return false
	}
	if !rule.AppliesToAllCategories() && !intersectsFold(rule.ApplicableCategories, in.Categories) {
		return false
	}
	if rule.MinimumAmount.Valid && in.Amount.LessThan(rule.MinimumAmount.Decimal) {
		return false
	}
	if rule.MaximumAmount.Valid && in.Amount.GreaterThan(rule.MaximumAmount.Decimal) {
		return false
	}
	return true
}

// wellFormed keeps a misconfigured rule from breaking a calculation: it
// simply never matches.
func wellFormed(rule taxdomain.TaxRule) bool {
	if !rule.Kind.Valid() || rule.Rate.IsNegative() || len(rule.ApplicableRegions) == 0 {
		return false
	}
	if rule.MinimumAmount.Valid && rule.MaximumAmount.Valid &&
		rule.MinimumAmount.Decimal.GreaterThan(rule.MaximumAmount.Decimal) {
		return false
	}
	return true
}

func containsFold(set []string, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, item := range set {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}

func intersectsFold(set []string, values []string) bool {
	for _, value := range values {
		if containsFold(set, value) {
			return true
		}
	}
	return false
}
