// Package matching scores, enumerates and greedily assigns clearing candidates:
// balanced line groups inside one account (lettrage) and bank statement / treasury line
// pairs (bank reconciliation). It performs no I/O.
package matching

import "github.com/shopspring/decimal"

// Default tuning values.
const (
	DefaultToleranceDays = 5
	DefaultThreshold     = 0.5
	DefaultMaxGroupSize  = 6
	DefaultSearchWindow  = 12
)

// DefaultTolerance is the largest residual accepted as balanced, in currency units.
var DefaultTolerance = decimal.New(1, -2)

// Options tunes candidate generation and acceptance.
type Options struct {
	// Tolerance is the maximum accepted |debit - credit| for a group, and the maximum
	// amount difference for a bank pair.
	Tolerance decimal.Decimal
	// ToleranceDays is the bank matching date window.
	ToleranceDays int
	// Threshold is the minimum unnormalized bank score for auto-acceptance.
	Threshold float64
	// MaxGroupSize bounds the number of lines in an enumerated lettrage group.
	MaxGroupSize int
	// SearchWindow bounds how many counterpart lines are considered per anchor line
	// when enumerating 1:N and N:1 groups.
	SearchWindow int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Tolerance:     DefaultTolerance,
		ToleranceDays: DefaultToleranceDays,
		Threshold:     DefaultThreshold,
		MaxGroupSize:  DefaultMaxGroupSize,
		SearchWindow:  DefaultSearchWindow,
	}
}

// withDefaults fills unset fields. A zero Tolerance is unset and takes DefaultTolerance;
// configuration rejects it before it gets here. A zero ToleranceDays is kept: it means
// same-day only.
func (o Options) withDefaults() Options {
	if o.Tolerance.IsZero() || o.Tolerance.IsNegative() {
		o.Tolerance = DefaultTolerance
	}
	if o.ToleranceDays < 0 {
		o.ToleranceDays = DefaultToleranceDays
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxGroupSize < 2 {
		o.MaxGroupSize = DefaultMaxGroupSize
	}
	if o.SearchWindow < 1 {
		o.SearchWindow = DefaultSearchWindow
	}
	return o
}
