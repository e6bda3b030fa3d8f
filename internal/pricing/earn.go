package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EarnRule decides how many scoop points a paid total earns.
type EarnRule string

const (
	// EarnTwoPerHundred grants 2 points per full ₹100.
	EarnTwoPerHundred EarnRule = "per100x2"
	// EarnOnePerTen grants 1 point per full ₹10.
	EarnOnePerTen EarnRule = "per10"
)

// ParseEarnRule accepts the configured rule name. Empty selects the default.
func ParseEarnRule(s string) (EarnRule, error) {
	switch EarnRule(strings.ToLower(strings.TrimSpace(s))) {
	case "", EarnTwoPerHundred:
		return EarnTwoPerHundred, nil
	case EarnOnePerTen:
		return EarnOnePerTen, nil
	default:
		return "", fmt.Errorf("pricing: unknown earn rule %q", s)
	}
}

// Points returns the points earned on total.
func (r EarnRule) Points(total decimal.Decimal) int64 {
	if !total.IsPositive() {
		return 0
	}
	switch r {
	case EarnOnePerTen:
		return total.Div(decimal.NewFromInt(10)).Floor().IntPart()
	default:
		return total.Div(decimal.NewFromInt(100)).Floor().IntPart() * 2
	}
}
