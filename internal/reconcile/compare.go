package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Comparison records how one stored document measured against the canonical record.
type Comparison struct {
	LocalSubtotal     Amount `json:"local_subtotal"`
	CanonicalSubtotal Amount `json:"canonical_subtotal"`
	SubtotalDiff      Amount `json:"subtotal_diff"`
	SubtotalMatch     bool   `json:"subtotal_match"`
	LocalTotal        Amount `json:"local_total"`
	CanonicalTotal    Amount `json:"canonical_total"`
	TotalDiff         Amount `json:"total_diff"`
	TotalMatch        bool   `json:"total_match"`
	Tolerance         Amount `json:"tolerance"`
}

// Match is true only when both subtotal and total are within tolerance.
func (c *Comparison) Match() bool {
	return c.SubtotalMatch && c.TotalMatch
}

// Compare parses the stored subtotal and total, rounds them to cents and
// checks both against the canonical record.
func Compare(subtotal, total string, canonical *CanonicalRecord, tolerance decimal.Decimal) (*Comparison, error) {
	localSubtotal, err := ParseAmount(subtotal)
	if err != nil {
		return nil, fmt.Errorf("stored subtotal: %w", err)
	}
	localTotal, err := ParseAmount(total)
	if err != nil {
		return nil, fmt.Errorf("stored total: %w", err)
	}
	localSubtotal = Round2(localSubtotal)
	localTotal = Round2(localTotal)

	subtotalDiff := localSubtotal.Sub(canonical.Subtotal.Decimal).Abs()
	totalDiff := localTotal.Sub(canonical.Total.Decimal).Abs()

	return &Comparison{
		LocalSubtotal:     NewAmount(localSubtotal),
		CanonicalSubtotal: canonical.Subtotal,
		SubtotalDiff:      NewAmount(subtotalDiff),
		SubtotalMatch:     Within(localSubtotal, canonical.Subtotal.Decimal, tolerance),
		LocalTotal:        NewAmount(localTotal),
		CanonicalTotal:    canonical.Total,
		TotalDiff:         NewAmount(totalDiff),
		TotalMatch:        Within(localTotal, canonical.Total.Decimal, tolerance),
		Tolerance:         NewAmount(tolerance),
	}, nil
}
