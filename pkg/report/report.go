// Package report aggregates clearing state into reconciliation sessions and completion
// statistics. It only reads, apart from recording new sessions.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/chart"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/clearing"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// Store is the data the reporter reads and the session log it appends to.
type Store interface {
	ledger.Reader
	Session(ctx context.Context, id string) (ledger.ReconciliationSession, error)
	FindSession(ctx context.Context, bankAccount string, start, end time.Time) (ledger.ReconciliationSession, error)
	InsertSession(ctx context.Context, s ledger.ReconciliationSession) error
	ListLinks(ctx context.Context, sessionID string) ([]ledger.ReconciliationLink, error)
}

// Reporter computes sessions and statistics.
type Reporter struct {
	store Store
	chart *chart.Chart
	now   func() time.Time
}

// NewReporter creates a Reporter. A nil chart uses chart.Default().
func NewReporter(store Store, c *chart.Chart) *Reporter {
	if c == nil {
		c = chart.Default()
	}
	return &Reporter{store: store, chart: c, now: time.Now}
}

// SessionInput describes a reconciliation period.
type SessionInput struct {
	PeriodStart      time.Time
	PeriodEnd        time.Time
	BankAccount      string
	StatementOpening decimal.Decimal
	StatementClosing decimal.Decimal
}

// ComputeSession computes the ledger balance and variance of a period and records the
// session. The row is never updated afterwards, and a bank account has at most one
// session per period.
func (r *Reporter) ComputeSession(ctx context.Context, in SessionInput) (*ledger.ReconciliationSession, error) {
	if in.BankAccount == "" {
		return nil, clearing.NewError(clearing.KindValidation, "bank account is required")
	}
	if in.PeriodStart.IsZero() || in.PeriodEnd.IsZero() {
		return nil, clearing.NewError(clearing.KindValidation, "period start and end are required")
	}
	if in.PeriodEnd.Before(in.PeriodStart) {
		return nil, clearing.NewError(clearing.KindValidation, "period end %s is before start %s",
			ledger.FormatDate(in.PeriodEnd), ledger.FormatDate(in.PeriodStart))
	}
	if !r.chart.HasBankAccount(in.BankAccount) {
		return nil, clearing.NewError(clearing.KindValidation, "bank account %s is not in the chart", in.BankAccount)
	}

	existing, err := r.store.FindSession(ctx, in.BankAccount, in.PeriodStart, in.PeriodEnd)
	switch {
	case err == nil:
		return nil, clearing.NewError(clearing.KindValidation, "session %s already covers %s from %s to %s",
			existing.ID, in.BankAccount, ledger.FormatDate(in.PeriodStart), ledger.FormatDate(in.PeriodEnd))
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	balance, err := r.ledgerBalance(ctx, in.BankAccount, ledger.DateRange{From: in.PeriodStart, To: in.PeriodEnd})
	if err != nil {
		return nil, err
	}

	s := ledger.ReconciliationSession{
		ID:               uuid.NewString(),
		PeriodStart:      ledger.DateOnly(in.PeriodStart),
		PeriodEnd:        ledger.DateOnly(in.PeriodEnd),
		BankAccount:      in.BankAccount,
		StatementOpening: in.StatementOpening,
		StatementClosing: in.StatementClosing,
		LedgerBalance:    balance,
		Variance:         in.StatementClosing.Sub(balance),
		CreatedAt:        r.now().UTC().Truncate(time.Second),
	}
	if err := r.store.InsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to record session: %w", err)
	}
	return &s, nil
}

// SessionReport is a stored session with its variance recomputed against the current ledger.
type SessionReport struct {
	Session          ledger.ReconciliationSession
	CurrentBalance   decimal.Decimal
	CurrentVariance  decimal.Decimal
	Links            []ledger.ReconciliationLink
	ReconciledAmount decimal.Decimal
}

// SessionReport loads a session and recomputes its variance. The stored row is unchanged.
func (r *Reporter) SessionReport(ctx context.Context, id string) (*SessionReport, error) {
	s, err := r.store.Session(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, clearing.NewError(clearing.KindNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	balance, err := r.ledgerBalance(ctx, s.BankAccount, ledger.DateRange{From: s.PeriodStart, To: s.PeriodEnd})
	if err != nil {
		return nil, err
	}
	links, err := r.store.ListLinks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list session links: %w", err)
	}
	reconciled := decimal.Zero
	for _, l := range links {
		reconciled = reconciled.Add(l.Amount)
	}
	return &SessionReport{
		Session:          s,
		CurrentBalance:   balance,
		CurrentVariance:  s.StatementClosing.Sub(balance),
		Links:            links,
		ReconciledAmount: reconciled,
	}, nil
}

// ledgerBalance sums credit minus debit over the treasury lines of the period. A bank
// account mapped in the chart restricts the sum to its ledger account.
func (r *Reporter) ledgerBalance(ctx context.Context, bankAccount string, period ledger.DateRange) (decimal.Decimal, error) {
	filter := ledger.LineFilter{
		AccountPrefixes: r.chart.TreasuryPrefixes(),
		Dates:           period,
		Account:         r.chart.LedgerAccountFor(bankAccount),
	}
	lines, err := r.store.ListLines(ctx, filter)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list treasury lines: %w", err)
	}
	balance := decimal.Zero
	for _, l := range lines {
		balance = balance.Add(l.BankAmount())
	}
	return balance, nil
}

// LettrageStats summarizes the clearing state of one account.
type LettrageStats struct {
	Account         string          `json:"account"`
	TotalLines      int             `json:"total_lines"`
	ClearedLines    int             `json:"cleared_lines"`
	UnclearedLines  int             `json:"uncleared_lines"`
	ClearedAmount   decimal.Decimal `json:"cleared_amount"`
	UnclearedAmount decimal.Decimal `json:"uncleared_amount"`
	CompletionRate  int             `json:"completion_rate"`
}

// LettrageStats counts cleared and open lines of account. Amounts add both sides of each
// line. An account without lines has a completion rate of 0.
func (r *Reporter) LettrageStats(ctx context.Context, account string) (*LettrageStats, error) {
	if account == "" {
		return nil, clearing.NewError(clearing.KindValidation, "account is required")
	}
	lines, err := r.store.ListLines(ctx, ledger.LineFilter{Account: account})
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}

	stats := &LettrageStats{
		Account:         account,
		TotalLines:      len(lines),
		ClearedAmount:   decimal.Zero,
		UnclearedAmount: decimal.Zero,
	}
	for _, l := range lines {
		amount := l.Debit.Add(l.Credit)
		if l.IsCleared() {
			stats.ClearedLines++
			stats.ClearedAmount = stats.ClearedAmount.Add(amount)
		} else {
			stats.UnclearedLines++
			stats.UnclearedAmount = stats.UnclearedAmount.Add(amount)
		}
	}
	stats.CompletionRate = rate(stats.ClearedLines, stats.TotalLines)
	return stats, nil
}

// Scope restricts reconciliation statistics. Zero fields do not filter.
type Scope struct {
	BankAccount string
	Dates       ledger.DateRange
}

// ReconciliationStats summarizes bank reconciliation progress.
type ReconciliationStats struct {
	StatementTotal      int             `json:"statement_total"`
	StatementReconciled int             `json:"statement_reconciled"`
	LedgerTotal         int             `json:"ledger_total"`
	LedgerReconciled    int             `json:"ledger_reconciled"`
	StatementBalance    decimal.Decimal `json:"statement_balance"`
	LedgerBalance       decimal.Decimal `json:"ledger_balance"`
	Variance            decimal.Decimal `json:"variance"`
	ReconciliationRate  int             `json:"reconciliation_rate"`
}

// ReconciliationStats counts statement and treasury lines in scope and their reconciled
// share. Variance is the statement balance minus the ledger balance; the rate is the
// reconciled share of statement lines.
func (r *Reporter) ReconciliationStats(ctx context.Context, scope Scope) (*ReconciliationStats, error) {
	bank, err := r.store.ListBankLines(ctx, ledger.BankLineFilter{
		AccountID: scope.BankAccount,
		Dates:     scope.Dates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bank lines: %w", err)
	}
	lines, err := r.store.ListLines(ctx, ledger.LineFilter{
		AccountPrefixes: r.chart.TreasuryPrefixes(),
		Account:         r.chart.LedgerAccountFor(scope.BankAccount),
		Dates:           scope.Dates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list treasury lines: %w", err)
	}
	links, err := r.store.ListLinks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	linked := make(map[int64]bool, len(links))
	for _, l := range links {
		linked[l.LedgerLineID] = true
	}

	stats := &ReconciliationStats{
		StatementTotal:   len(bank),
		LedgerTotal:      len(lines),
		StatementBalance: decimal.Zero,
		LedgerBalance:    decimal.Zero,
	}
	for _, b := range bank {
		stats.StatementBalance = stats.StatementBalance.Add(b.Amount)
		if b.Reconciled {
			stats.StatementReconciled++
		}
	}
	for _, l := range lines {
		stats.LedgerBalance = stats.LedgerBalance.Add(l.BankAmount())
		if linked[l.ID] {
			stats.LedgerReconciled++
		}
	}
	stats.Variance = stats.StatementBalance.Sub(stats.LedgerBalance)
	stats.ReconciliationRate = rate(stats.StatementReconciled, stats.StatementTotal)
	return stats, nil
}

func rate(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
