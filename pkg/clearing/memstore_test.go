package clearing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// memStore is an in-memory Store. Transaction restores the previous state when fn fails.
type memStore struct {
	lines    map[int64]ledger.Line
	bank     map[int64]ledger.BankLine
	links    map[string]ledger.ReconciliationLink
	sessions map[string]ledger.ReconciliationSession
	groups   []ledger.ClearingGroup
	seq      map[string]int64

	// failBankLine makes MarkBankLineReconciled report no affected row for that line.
	failBankLine int64
	// raceLine is skipped by MarkCleared, as if another request had cleared it first.
	raceLine int64
}

func newMemStore() *memStore {
	return &memStore{
		lines:    make(map[int64]ledger.Line),
		bank:     make(map[int64]ledger.BankLine),
		links:    make(map[string]ledger.ReconciliationLink),
		sessions: make(map[string]ledger.ReconciliationSession),
		seq:      make(map[string]int64),
	}
}

func (s *memStore) addLines(lines ...ledger.Line) {
	for _, l := range lines {
		s.lines[l.ID] = l
	}
}

func (s *memStore) addBankLines(lines ...ledger.BankLine) {
	for _, b := range lines {
		s.bank[b.ID] = b
	}
}

func (s *memStore) Transaction(ctx context.Context, fn func(Tx) error) error {
	lines, bank, links := maps.Clone(s.lines), maps.Clone(s.bank), maps.Clone(s.links)
	groups, seq := slices.Clone(s.groups), maps.Clone(s.seq)
	if err := fn(s); err != nil {
		s.lines, s.bank, s.links, s.groups, s.seq = lines, bank, links, groups, seq
		return err
	}
	return nil
}

func (s *memStore) ListLines(ctx context.Context, filter ledger.LineFilter) ([]ledger.Line, error) {
	var out []ledger.Line
	for _, id := range sortedKeys(s.lines) {
		if l := s.lines[id]; filter.Match(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) ListBankLines(ctx context.Context, filter ledger.BankLineFilter) ([]ledger.BankLine, error) {
	var out []ledger.BankLine
	for _, id := range sortedKeys(s.bank) {
		if b := s.bank[id]; filter.Match(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) ListLinks(ctx context.Context, sessionID string) ([]ledger.ReconciliationLink, error) {
	var out []ledger.ReconciliationLink
	for _, l := range s.links {
		if sessionID == "" || l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankLineID < out[j].BankLineID })
	return out, nil
}

func (s *memStore) LinesByID(ctx context.Context, ids []int64) ([]ledger.Line, error) {
	var out []ledger.Line
	for _, id := range ids {
		if l, ok := s.lines[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) NextClearingSequence(ctx context.Context, account string) (int64, error) {
	s.seq[account]++
	return s.seq[account], nil
}

func (s *memStore) CodeInUse(ctx context.Context, account, code string) (bool, error) {
	for _, l := range s.lines {
		if l.Account == account && l.ClearingCode == code {
			return true, nil
		}
	}
	for _, g := range s.groups {
		if g.Account == account && g.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) MarkCleared(ctx context.Context, ids []int64, account, code string, at time.Time) (int64, error) {
	var n int64
	for _, id := range ids {
		l, ok := s.lines[id]
		if !ok || l.Account != account || l.IsCleared() || id == s.raceLine {
			continue
		}
		l.ClearingCode = code
		l.ClearingDate = &at
		s.lines[id] = l
		n++
	}
	return n, nil
}

func (s *memStore) ClearCode(ctx context.Context, account, code string) (int64, error) {
	var n int64
	for id, l := range s.lines {
		if l.Account == account && l.ClearingCode == code {
			l.ClearingCode = ""
			l.ClearingDate = nil
			s.lines[id] = l
			n++
		}
	}
	return n, nil
}

func (s *memStore) InsertClearingGroup(ctx context.Context, g ledger.ClearingGroup) error {
	s.groups = append(s.groups, g)
	return nil
}

func (s *memStore) CancelClearingGroup(ctx context.Context, account, code, actor string, at time.Time) error {
	return nil
}

func (s *memStore) BankLine(ctx context.Context, id int64) (ledger.BankLine, error) {
	b, ok := s.bank[id]
	if !ok {
		return ledger.BankLine{}, fmt.Errorf("bank line %d: %w", id, ledger.ErrNotFound)
	}
	return b, nil
}

func (s *memStore) Session(ctx context.Context, id string) (ledger.ReconciliationSession, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return ledger.ReconciliationSession{}, fmt.Errorf("session %s: %w", id, ledger.ErrNotFound)
	}
	return sess, nil
}

func (s *memStore) Link(ctx context.Context, id string) (ledger.ReconciliationLink, error) {
	l, ok := s.links[id]
	if !ok {
		return ledger.ReconciliationLink{}, fmt.Errorf("link %s: %w", id, ledger.ErrNotFound)
	}
	return l, nil
}

func (s *memStore) LinkForLedgerLine(ctx context.Context, ledgerLineID int64) (ledger.ReconciliationLink, error) {
	for _, l := range s.links {
		if l.LedgerLineID == ledgerLineID {
			return l, nil
		}
	}
	return ledger.ReconciliationLink{}, ledger.ErrNotFound
}

func (s *memStore) InsertLink(ctx context.Context, link ledger.ReconciliationLink) error {
	s.links[link.ID] = link
	return nil
}

func (s *memStore) DeleteLink(ctx context.Context, id string) error {
	if _, ok := s.links[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.links, id)
	return nil
}

func (s *memStore) MarkBankLineReconciled(ctx context.Context, bankLineID int64, linkID string) (int64, error) {
	b, ok := s.bank[bankLineID]
	if !ok || b.Reconciled || bankLineID == s.failBankLine {
		return 0, nil
	}
	b.Reconciled = true
	b.LinkID = linkID
	s.bank[bankLineID] = b
	return 1, nil
}

func (s *memStore) ResetBankLine(ctx context.Context, bankLineID int64, linkID string) (int64, error) {
	b, ok := s.bank[bankLineID]
	if !ok || b.LinkID != linkID {
		return 0, nil
	}
	b.Reconciled = false
	b.LinkID = ""
	s.bank[bankLineID] = b
	return 1, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}
