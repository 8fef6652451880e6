package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundingMode is the store's currency rounding convention. It is fixed per
// deployment and applied once per returned value.
type RoundingMode string

const (
	RoundHalfEven RoundingMode = "half_even" // banker's rounding, the default
	RoundHalfUp   RoundingMode = "half_up"
)

const DefaultPrecision int32 = 2

func ParseRoundingMode(raw string) (RoundingMode, error) {
	switch RoundingMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoundHalfEven, "bankers", "banker":
		return RoundHalfEven, nil
	case RoundHalfUp:
		return RoundHalfUp, nil
	default:
		return "", fmt.Errorf("unsupported rounding mode %q", raw)
	}
}

// Policy controls how results are rounded to the currency's minor unit.
type Policy struct {
	Precision int32
	Rounding  RoundingMode
}

func DefaultPolicy() Policy {
	return Policy{Precision: DefaultPrecision, Rounding: RoundHalfEven}
}

// Round applies the policy to a single value.
func (p Policy) Round(value decimal.Decimal) decimal.Decimal {
	precision := p.Precision
	if precision < 0 {
		precision = 0
	}
	if p.Rounding == RoundHalfUp {
		// decimal.Round rounds half away from zero, which is half-up for
		// the non-negative amounts the engine produces.
		return value.Round(precision)
	}
	return value.RoundBank(precision)
}
