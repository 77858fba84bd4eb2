package matching

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// Bank score weights. The total is an unnormalized sum that can reach 1.3; the acceptance
// threshold is compared against that sum as is.
const (
	AmountWeight   = 0.3
	DateWeight     = 0.7
	ReferenceBonus = 0.3
	LabelBonus     = 0.1

	labelPrefixLen = 10
)

// Breakdown is the per-term score of a bank pairing.
type Breakdown struct {
	Amount    float64
	Date      float64
	Reference float64
}

// Total returns the unnormalized sum of all terms.
func (b Breakdown) Total() float64 {
	return b.Amount + b.Date + b.Reference
}

// Confidence converts a total into a 0-100 percentage, capping the total at 1.
func Confidence(total float64) int {
	return int(math.Round(math.Min(total, 1) * 100))
}

// ScoreBankMatch scores pairing a bank statement line with a treasury ledger line.
// The pair is ineligible when the amounts differ by more than the tolerance or the dates
// are further apart than ToleranceDays.
func ScoreBankMatch(bank ledger.BankLine, line ledger.Line, opts Options) (Breakdown, bool) {
	opts = opts.withDefaults()

	if bank.Amount.Sub(line.BankAmount()).Abs().GreaterThan(opts.Tolerance) {
		return Breakdown{}, false
	}

	days := ledger.DaysBetween(bank.OperationDate, line.Date)
	if days > opts.ToleranceDays {
		return Breakdown{}, false
	}

	b := Breakdown{Amount: AmountWeight}
	if opts.ToleranceDays == 0 {
		b.Date = DateWeight
	} else {
		b.Date = (1 - float64(days)/float64(opts.ToleranceDays)) * DateWeight
	}
	b.Reference = referenceScore(bank, line)

	return b, true
}

func referenceScore(bank ledger.BankLine, line ledger.Line) float64 {
	ref, piece := bank.Reference, line.PieceNumber
	if ref != "" && piece != "" && (strings.Contains(ref, piece) || strings.Contains(piece, ref)) {
		return ReferenceBonus
	}

	bankLabel := strings.ToLower(bank.Label)
	lineLabel := strings.ToLower(line.Label)
	if p := prefix(bankLabel, labelPrefixLen); p != "" && strings.Contains(lineLabel, p) {
		return LabelBonus
	}
	if p := prefix(lineLabel, labelPrefixLen); p != "" && strings.Contains(bankLabel, p) {
		return LabelBonus
	}
	return 0
}

func prefix(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

// GroupTotals sums the debit and credit sides of lines and returns the residual |debit - credit|.
func GroupTotals(lines []ledger.Line) (debit, credit, residual decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit, debit.Sub(credit).Abs()
}

// ScoreGroup ranks a balanced lettrage group. Balance is the only acceptance gate; the score
// prefers fewer lines, then a narrower date span:
//
//	score = 1 - 0.1*(lines-2) - min(spanDays, 365)/3650, floored at 0
func ScoreGroup(lines []ledger.Line, opts Options) (float64, bool) {
	opts = opts.withDefaults()
	if len(lines) < 2 {
		return 0, false
	}
	if _, _, residual := GroupTotals(lines); residual.GreaterThan(opts.Tolerance) {
		return 0, false
	}

	first, last := lines[0].Date, lines[0].Date
	for _, l := range lines[1:] {
		if l.Date.Before(first) {
			first = l.Date
		}
		if l.Date.After(last) {
			last = l.Date
		}
	}
	span := math.Min(float64(ledger.DaysBetween(first, last)), 365)

	score := 1 - 0.1*float64(len(lines)-2) - span/3650
	return math.Max(score, 0), true
}
