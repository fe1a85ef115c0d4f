// Package tax computes municipal tax filings in integer cents. Amounts never
// pass through a floating-point dollar representation; user-facing dollar
// strings are parsed directly into cents and rates are applied with a single
// round-half-up rule.
package tax

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindAmusement    Kind = "amusement"
	KindFoodBeverage Kind = "food-beverage"
)

// Rates are expressed in basis points (1/100 of a percent).
const (
	amusementRateBps    = 500 // 5% of taxable receipts
	foodBeverageRateBps = 200 // 2% of taxable receipts
	commissionRateBps   = 100 // 1% filing commission, deducted from the tax
)

// Filing is the computed breakdown for one tax submission.
type Filing struct {
	Kind            Kind  `json:"kind"`
	GrossCents      int64 `json:"grossCents"`
	DeductionCents  int64 `json:"deductionCents"`
	TaxableCents    int64 `json:"taxableCents"`
	TaxCents        int64 `json:"taxCents"`
	CommissionCents int64 `json:"commissionCents"`
	TotalDueCents   int64 `json:"totalDueCents"`
}

// ParseKind maps a request string onto a tax kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindAmusement:
		return KindAmusement, nil
	case KindFoodBeverage:
		return KindFoodBeverage, nil
	default:
		return "", fmt.Errorf("unknown tax kind %q", raw)
	}
}

func rateFor(kind Kind) (int64, error) {
	switch kind {
	case KindAmusement:
		return amusementRateBps, nil
	case KindFoodBeverage:
		return foodBeverageRateBps, nil
	default:
		return 0, fmt.Errorf("unknown tax kind %q", kind)
	}
}

// applyBps multiplies an amount by a basis-point rate, rounding half up.
func applyBps(cents, bps int64) int64 {
	return (cents*bps + 5000) / 10000
}

// Compute builds the filing breakdown for gross receipts less deductions.
func Compute(kind Kind, grossCents, deductionCents int64) (Filing, error) {
	rate, err := rateFor(kind)
	if err != nil {
		return Filing{}, err
	}
	if grossCents < 0 || deductionCents < 0 {
		return Filing{}, fmt.Errorf("amounts must be non-negative")
	}
	if deductionCents > grossCents {
		return Filing{}, fmt.Errorf("deductions exceed gross receipts")
	}

	taxable := grossCents - deductionCents
	taxCents := applyBps(taxable, rate)
	commission := applyBps(taxCents, commissionRateBps)

	return Filing{
		Kind:            kind,
		GrossCents:      grossCents,
		DeductionCents:  deductionCents,
		TaxableCents:    taxable,
		TaxCents:        taxCents,
		CommissionCents: commission,
		TotalDueCents:   taxCents - commission,
	}, nil
}

// ParseCents converts a dollar string like "1000.00" or "12.3" to cents
// without going through a float. At most two fractional digits are accepted.
func ParseCents(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := false
	if strings.HasPrefix(trimmed, "-") {
		negative = true
		trimmed = trimmed[1:]
	}
	whole, frac := trimmed, ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var cents int64
	for _, digits := range []string{whole, frac} {
		for _, r := range digits {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %q", value)
			}
			cents = cents*10 + int64(r-'0')
		}
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

// FormatCents renders cents as a dollar string with two decimal places.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
