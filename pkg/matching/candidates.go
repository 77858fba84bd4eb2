package matching

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// Group is a proposed lettrage: lines of one account and third party whose debit and
// credit sides balance within the tolerance.
type Group struct {
	Account        string
	ThirdPartyCode string
	Lines          []ledger.Line // Ordered by ID
	TotalDebit     decimal.Decimal
	TotalCredit    decimal.Decimal
	Residual       decimal.Decimal
	Score          float64
}

// LineIDs returns the member identifiers in ascending order.
func (g Group) LineIDs() []int64 {
	ids := make([]int64, len(g.Lines))
	for i, l := range g.Lines {
		ids[i] = l.ID
	}
	return ids
}

// anchor is the lowest debit line identifier, used to break score ties.
func (g Group) anchor() int64 {
	var id int64 = -1
	for _, l := range g.Lines {
		if l.IsDebit() && (id == -1 || l.ID < id) {
			id = l.ID
		}
	}
	return id
}

func (g Group) key() string {
	parts := make([]string, len(g.Lines))
	for i, l := range g.Lines {
		parts[i] = strconv.FormatInt(l.ID, 10)
	}
	return strings.Join(parts, ",")
}

// LettrageCandidates enumerates balanced groupings of open lines. Lines are partitioned
// by account and third party; inside a partition it proposes, in this order:
//
//   - 1:1 pairs of a debit and a credit of equal amount;
//   - 1:N groups of one debit against up to MaxGroupSize-1 credits, and N:1 groups of one
//     credit against debits, searched among the SearchWindow counterparts closest in date;
//   - N:M groups of several debits against several credits within the same windows;
//   - the whole partition, when all of its open lines balance together.
//
// Cleared lines and null movements are ignored. Output is deterministic for identical input.
func LettrageCandidates(lines []ledger.Line, opts Options) []Group {
	opts = opts.withDefaults()

	partitions := make(map[[2]string][]ledger.Line)
	for _, l := range lines {
		if l.IsCleared() || (!l.IsDebit() && !l.IsCredit()) {
			continue
		}
		k := [2]string{l.Account, l.ThirdPartyCode}
		partitions[k] = append(partitions[k], l)
	}

	keys := make([][2]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var groups []Group
	for _, k := range keys {
		groups = append(groups, partitionCandidates(k[0], k[1], partitions[k], opts)...)
	}
	return groups
}

func partitionCandidates(account, thirdParty string, lines []ledger.Line, opts Options) []Group {
	var debits, credits []ledger.Line
	for _, l := range lines {
		if l.IsDebit() {
			debits = append(debits, l)
		} else {
			credits = append(credits, l)
		}
	}
	if len(debits) == 0 || len(credits) == 0 {
		return nil
	}
	sortByDate(debits)
	sortByDate(credits)

	seen := make(map[string]bool)
	var out []Group
	add := func(members []ledger.Line) {
		g, ok := newGroup(account, thirdParty, members, opts)
		if !ok || seen[g.key()] {
			return
		}
		seen[g.key()] = true
		out = append(out, g)
	}

	for _, dl := range debits {
		for _, cl := range credits {
			if dl.Debit.Sub(cl.Credit).Abs().LessThanOrEqual(opts.Tolerance) {
				add([]ledger.Line{dl, cl})
			}
		}
	}

	for _, dl := range debits {
		for _, subset := range subsetsSumming(dl, credits, opts) {
			add(append([]ledger.Line{dl}, subset...))
		}
	}
	for _, cl := range credits {
		for _, subset := range subsetsSumming(cl, debits, opts) {
			add(append([]ledger.Line{cl}, subset...))
		}
	}

	for _, members := range manyToMany(debits, credits, opts) {
		add(members)
	}

	if len(lines) > 2 {
		add(lines)
	}

	return out
}

// subsetsSumming returns the combinations of at least two counterparts whose amounts sum to
// the anchor's amount within tolerance. Only the SearchWindow counterparts closest in date to
// the anchor are searched and a combination holds at most MaxGroupSize-1 lines.
func subsetsSumming(anchor ledger.Line, counterparts []ledger.Line, opts Options) [][]ledger.Line {
	target := anchor.Amount()
	limit := target.Add(opts.Tolerance)

	var fitting []ledger.Line
	for _, c := range counterparts {
		if c.Amount().LessThan(limit) {
			fitting = append(fitting, c)
		}
	}
	window := nearest(anchor, fitting, opts.SearchWindow)
	return sumsTo(target, window, 2, opts.MaxGroupSize-1, opts.Tolerance)
}

// manyToMany returns groups of at least two debits and two credits that balance. Each debit
// anchors the debits with a higher ID among its SearchWindow nearest, and the credits are
// searched among its SearchWindow nearest credits. Groups hold at most MaxGroupSize lines.
func manyToMany(debits, credits []ledger.Line, opts Options) [][]ledger.Line {
	if opts.MaxGroupSize < 4 || len(debits) < 2 || len(credits) < 2 {
		return nil
	}

	var out [][]ledger.Line
	for _, a := range debits {
		var later []ledger.Line
		for _, d := range debits {
			if d.ID > a.ID {
				later = append(later, d)
			}
		}
		if len(later) == 0 {
			continue
		}
		debitWindow := nearest(a, later, opts.SearchWindow)
		creditWindow := nearest(a, credits, opts.SearchWindow)

		creditTotal := decimal.Zero
		for _, c := range creditWindow {
			creditTotal = creditTotal.Add(c.Amount())
		}
		limit := creditTotal.Add(opts.Tolerance).Sub(a.Amount())

		walkSubsets(debitWindow, opts.MaxGroupSize-3, limit, func(others []ledger.Line, sum decimal.Decimal) {
			if len(others) == 0 {
				return
			}
			side := append([]ledger.Line{a}, others...)
			target := a.Amount().Add(sum)
			for _, cs := range sumsTo(target, creditWindow, 2, opts.MaxGroupSize-len(side), opts.Tolerance) {
				out = append(out, append(slices.Clone(side), cs...))
			}
		})
	}
	return out
}

// nearest returns at most n lines closest in date to anchor, ties broken by ID.
func nearest(anchor ledger.Line, lines []ledger.Line, n int) []ledger.Line {
	window := slices.Clone(lines)
	sort.SliceStable(window, func(i, j int) bool {
		di := ledger.DaysBetween(anchor.Date, window[i].Date)
		dj := ledger.DaysBetween(anchor.Date, window[j].Date)
		if di != dj {
			return di < dj
		}
		return window[i].ID < window[j].ID
	})
	if len(window) > n {
		window = window[:n]
	}
	return window
}

// sumsTo returns the combinations of minSize to maxSize lines of window whose amounts sum
// to target within tol.
func sumsTo(target decimal.Decimal, window []ledger.Line, minSize, maxSize int, tol decimal.Decimal) [][]ledger.Line {
	var results [][]ledger.Line
	walkSubsets(window, maxSize, target.Add(tol), func(subset []ledger.Line, sum decimal.Decimal) {
		if len(subset) >= minSize && sum.Sub(target).Abs().LessThanOrEqual(tol) {
			results = append(results, slices.Clone(subset))
		}
	})
	return results
}

// walkSubsets visits every subset of window, the empty one included, holding at most
// maxSize lines whose amounts sum to no more than limit. The subset passed to visit is
// reused between calls.
func walkSubsets(window []ledger.Line, maxSize int, limit decimal.Decimal, visit func([]ledger.Line, decimal.Decimal)) {
	var current []ledger.Line

	var walk func(start int, sum decimal.Decimal)
	walk = func(start int, sum decimal.Decimal) {
		visit(current, sum)
		if len(current) >= maxSize {
			return
		}
		for i := start; i < len(window); i++ {
			next := sum.Add(window[i].Amount())
			if next.GreaterThan(limit) {
				continue
			}
			current = append(current, window[i])
			walk(i+1, next)
			current = current[:len(current)-1]
		}
	}
	walk(0, decimal.Zero)
}

func newGroup(account, thirdParty string, members []ledger.Line, opts Options) (Group, bool) {
	score, ok := ScoreGroup(members, opts)
	if !ok {
		return Group{}, false
	}
	sorted := slices.Clone(members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	debit, credit, residual := GroupTotals(sorted)
	return Group{
		Account:        account,
		ThirdPartyCode: thirdParty,
		Lines:          sorted,
		TotalDebit:     debit,
		TotalCredit:    credit,
		Residual:       residual,
		Score:          score,
	}, true
}

func sortByDate(lines []ledger.Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].Date.Equal(lines[j].Date) {
			return lines[i].Date.Before(lines[j].Date)
		}
		return lines[i].ID < lines[j].ID
	})
}

// Compatibility restricts which treasury lines a bank line may pair with. A nil
// Compatibility accepts every pair.
type Compatibility func(bank ledger.BankLine, line ledger.Line) bool

// Pair is a scored bank statement line / ledger line pairing.
type Pair struct {
	Bank  ledger.BankLine
	Line  ledger.Line
	Score Breakdown
}

// Total returns the unnormalized pair score.
func (p Pair) Total() float64 {
	return p.Score.Total()
}

// Confidence returns the pair score as a 0-100 percentage.
func (p Pair) Confidence() int {
	return Confidence(p.Total())
}

// BankCandidates returns the cross product of bank lines and ledger lines pruned by the
// amount and date gates, ordered by bank line ID then ledger line ID.
func BankCandidates(bank []ledger.BankLine, lines []ledger.Line, opts Options, compatible Compatibility) []Pair {
	opts = opts.withDefaults()
	bank, lines = sortedBank(bank), sortedLines(lines)

	var pairs []Pair
	for _, b := range bank {
		for _, l := range lines {
			if compatible != nil && !compatible(b, l) {
				continue
			}
			if s, ok := ScoreBankMatch(b, l, opts); ok {
				pairs = append(pairs, Pair{Bank: b, Line: l, Score: s})
			}
		}
	}
	return pairs
}

// RankForBankLine returns the eligible ledger lines for one bank line, best first.
// Ties keep ascending ledger line ID.
func RankForBankLine(bank ledger.BankLine, lines []ledger.Line, opts Options, compatible Compatibility) []Pair {
	pairs := BankCandidates([]ledger.BankLine{bank}, lines, opts, compatible)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Total() > pairs[j].Total()
	})
	return pairs
}

func sortedBank(bank []ledger.BankLine) []ledger.BankLine {
	out := slices.Clone(bank)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedLines(lines []ledger.Line) []ledger.Line {
	out := slices.Clone(lines)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
