package matching

import (
	"slices"
	"sort"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// Assign selects a conflict-free subset of groups. Groups are visited by descending score;
// ties go to the lower anchor (first debit) line ID, then to the lexicographically smaller
// member list. A group is accepted only when none of its lines was used by an earlier one.
func Assign(groups []Group) []Group {
	ordered := slices.Clone(groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.anchor() != b.anchor() {
			return a.anchor() < b.anchor()
		}
		return slices.Compare(a.LineIDs(), b.LineIDs()) < 0
	})

	used := make(map[int64]bool)
	var accepted []Group
	for _, g := range ordered {
		if anyUsed(g.Lines, used) {
			continue
		}
		for _, l := range g.Lines {
			used[l.ID] = true
		}
		accepted = append(accepted, g)
	}
	return accepted
}

func anyUsed(lines []ledger.Line, used map[int64]bool) bool {
	for _, l := range lines {
		if used[l.ID] {
			return true
		}
	}
	return false
}

// AssignBankMatches pairs bank lines with ledger lines. Bank lines are visited by ascending
// ID; for each one the best eligible unused ledger line scoring at least Threshold is taken,
// the lower ledger line ID winning ties. Each ledger line is used at most once.
func AssignBankMatches(bank []ledger.BankLine, lines []ledger.Line, opts Options, compatible Compatibility) []Pair {
	opts = opts.withDefaults()
	bank, lines = sortedBank(bank), sortedLines(lines)

	usedLedgerLines := make(map[int64]bool)
	var pairs []Pair
	for _, b := range bank {
		var best *Pair
		for _, l := range lines {
			if usedLedgerLines[l.ID] {
				continue
			}
			if compatible != nil && !compatible(b, l) {
				continue
			}
			s, ok := ScoreBankMatch(b, l, opts)
			if !ok || s.Total() < opts.Threshold {
				continue
			}
			if best == nil || s.Total() > best.Total() {
				best = &Pair{Bank: b, Line: l, Score: s}
			}
		}
		if best != nil {
			usedLedgerLines[best.Line.ID] = true
			pairs = append(pairs, *best)
		}
	}
	return pairs
}
