package clearing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/matching"
)

// ReconciliationRequest pairs one bank statement line with one treasury ledger line.
type ReconciliationRequest struct {
	BankLineID   int64
	LedgerLineID int64
	SessionID    string          // Optional
	Amount       decimal.Decimal // Zero means the absolute bank line amount
	Method       ledger.Method   // Defaults to MethodManual
	Confidence   *int            // Kept for auto and suggestion links only
}

// ExecuteReconciliation creates a link and flags the bank line as reconciled in one
// transaction.
func (s *Service) ExecuteReconciliation(ctx context.Context, req ReconciliationRequest) (*ledger.ReconciliationLink, error) {
	method := req.Method
	if method == "" {
		method = ledger.MethodManual
	}
	switch method {
	case ledger.MethodManual, ledger.MethodAuto, ledger.MethodSuggestion:
	default:
		return nil, validationError("invalid reconciliation method %q", method)
	}
	if req.Amount.IsNegative() {
		return nil, validationError("matched amount must not be negative")
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 100) {
		return nil, validationError("confidence %d is outside 0-100", *req.Confidence)
	}

	var link ledger.ReconciliationLink
	err := s.store.Transaction(ctx, func(tx Tx) error {
		bank, err := tx.BankLine(ctx, req.BankLineID)
		if isNotFound(err) {
			return validationError("bank line %d does not exist", req.BankLineID)
		}
		if err != nil {
			return fmt.Errorf("failed to load bank line: %w", err)
		}
		if bank.Reconciled {
			return alreadyReconciledError("bank line %d is already reconciled by link %s", bank.ID, bank.LinkID)
		}

		lines, err := tx.LinesByID(ctx, []int64{req.LedgerLineID})
		if err != nil {
			return fmt.Errorf("failed to load ledger line: %w", err)
		}
		if len(lines) == 0 {
			return validationError("ledger line %d does not exist", req.LedgerLineID)
		}
		line := lines[0]
		if !s.chart.IsTreasury(line.Account) {
			return validationError("ledger line %d is posted to %s, which is not a treasury account", line.ID, line.Account)
		}

		existing, err := tx.LinkForLedgerLine(ctx, line.ID)
		switch {
		case err == nil:
			return alreadyReconciledError("ledger line %d is already reconciled by link %s", line.ID, existing.ID)
		case !isNotFound(err):
			return fmt.Errorf("failed to check ledger line links: %w", err)
		}

		if req.SessionID != "" {
			if _, err := tx.Session(ctx, req.SessionID); isNotFound(err) {
				return validationError("reconciliation session %s does not exist", req.SessionID)
			} else if err != nil {
				return fmt.Errorf("failed to load session: %w", err)
			}
		}

		amount := req.Amount
		if amount.IsZero() {
			amount = bank.Amount.Abs()
		}
		link = ledger.ReconciliationLink{
			ID:           uuid.NewString(),
			SessionID:    req.SessionID,
			BankLineID:   bank.ID,
			LedgerLineID: line.ID,
			Amount:       amount,
			Method:       method,
			CreatedAt:    s.timestamp(),
		}
		if method != ledger.MethodManual {
			link.Confidence = req.Confidence
		}
		if err := tx.InsertLink(ctx, link); err != nil {
			return fmt.Errorf("failed to insert link: %w", err)
		}

		n, err := tx.MarkBankLineReconciled(ctx, bank.ID, link.ID)
		if err != nil {
			return fmt.Errorf("failed to flag bank line: %w", err)
		}
		if n == 0 {
			return alreadyReconciledError("bank line %d was reconciled concurrently", bank.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bank line reconciled",
		"bank_line_id", link.BankLineID,
		"ledger_line_id", link.LedgerLineID,
		"link_id", link.ID,
		"method", link.Method,
	)
	return &link, nil
}

// CancelResult reports what CancelReconciliation touched.
type CancelResult struct {
	Link ledger.ReconciliationLink
	// BankLineMissing is set when the link's bank line did not exist or no longer
	// pointed at the link. The link is removed regardless.
	BankLineMissing bool
}

// CancelReconciliation resets the link's bank line and deletes the link.
func (s *Service) CancelReconciliation(ctx context.Context, linkID string) (*CancelResult, error) {
	if linkID == "" {
		return nil, validationError("link id is required")
	}
	var result CancelResult
	err := s.store.Transaction(ctx, func(tx Tx) error {
		link, err := tx.Link(ctx, linkID)
		if isNotFound(err) {
			return notFoundError("reconciliation link %s does not exist", linkID)
		}
		if err != nil {
			return fmt.Errorf("failed to load link: %w", err)
		}
		result.Link = link

		n, err := tx.ResetBankLine(ctx, link.BankLineID, link.ID)
		if err != nil {
			return fmt.Errorf("failed to reset bank line: %w", err)
		}
		result.BankLineMissing = n == 0

		if err := tx.DeleteLink(ctx, link.ID); err != nil {
			return fmt.Errorf("failed to delete link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.BankLineMissing {
		s.logger.Warn("Reconciliation link removed without its bank line",
			"link_id", linkID,
			"bank_line_id", result.Link.BankLineID,
		)
	} else {
		s.logger.Info("Reconciliation cancelled", "link_id", linkID, "bank_line_id", result.Link.BankLineID)
	}
	return &result, nil
}

// PairOutcome is one accepted auto-reconciliation pair.
type PairOutcome struct {
	BankLineID   int64
	LedgerLineID int64
	Confidence   int
	LinkID       string // Set when the pair was committed
	Err          error  // Set when the pair failed
}

// AutoReconcileResult is the batch outcome of AutoReconcile. MatchedCount counts the
// committed pairs.
type AutoReconcileResult struct {
	MatchedCount int
	Pairs        []PairOutcome
	Failures     []PairOutcome
}

// AutoReconcile pairs the unreconciled bank lines with unreconciled treasury lines in scope
// and commits each accepted pair in its own transaction. With a session the scope is the
// session's bank account and period. A negative toleranceDays uses the configured window.
func (s *Service) AutoReconcile(ctx context.Context, sessionID string, toleranceDays int) (*AutoReconcileResult, error) {
	bank, lines, err := s.reconciliationScope(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	opts := s.opts
	if toleranceDays >= 0 {
		opts.ToleranceDays = toleranceDays
	}
	accepted := matching.AssignBankMatches(bank, lines, opts, s.chart.Compatible)

	result := &AutoReconcileResult{}
	for _, p := range accepted {
		confidence := p.Confidence()
		outcome := PairOutcome{
			BankLineID:   p.Bank.ID,
			LedgerLineID: p.Line.ID,
			Confidence:   confidence,
		}
		link, err := s.ExecuteReconciliation(ctx, ReconciliationRequest{
			BankLineID:   p.Bank.ID,
			LedgerLineID: p.Line.ID,
			SessionID:    sessionID,
			Method:       ledger.MethodAuto,
			Confidence:   &confidence,
		})
		if err != nil {
			s.logger.Warn("Auto-reconciliation pair failed",
				"bank_line_id", p.Bank.ID,
				"ledger_line_id", p.Line.ID,
				"error", err,
			)
			outcome.Err = err
			result.Failures = append(result.Failures, outcome)
			continue
		}
		outcome.LinkID = link.ID
		result.Pairs = append(result.Pairs, outcome)
	}
	result.MatchedCount = len(result.Pairs)

	s.logger.Info("Auto-reconciliation finished",
		"session_id", sessionID,
		"candidates", len(accepted),
		"matched", result.MatchedCount,
		"failed", len(result.Failures),
	)
	return result, nil
}

// Suggestion is a ranked ledger line for one bank line.
type Suggestion struct {
	Line       ledger.Line
	Score      matching.Breakdown
	Confidence int
}

// SuggestMatches ranks the unreconciled treasury lines a bank line could pair with, best
// first. limit <= 0 returns every eligible line. It has no side effects.
func (s *Service) SuggestMatches(ctx context.Context, bankLineID int64, toleranceDays, limit int) ([]Suggestion, error) {
	bank, err := s.store.BankLine(ctx, bankLineID)
	if isNotFound(err) {
		return nil, validationError("bank line %d does not exist", bankLineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bank line: %w", err)
	}
	if bank.Reconciled {
		return nil, alreadyReconciledError("bank line %d is already reconciled by link %s", bank.ID, bank.LinkID)
	}

	lines, err := s.unlinkedTreasuryLines(ctx, ledger.LineFilter{})
	if err != nil {
		return nil, err
	}
	opts := s.opts
	if toleranceDays >= 0 {
		opts.ToleranceDays = toleranceDays
	}

	var out []Suggestion
	for _, p := range matching.RankForBankLine(bank, lines, opts, s.chart.Compatible) {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, Suggestion{Line: p.Line, Score: p.Score, Confidence: p.Confidence()})
	}
	return out, nil
}

func (s *Service) reconciliationScope(ctx context.Context, sessionID string) ([]ledger.BankLine, []ledger.Line, error) {
	unreconciled := false
	bankFilter := ledger.BankLineFilter{Reconciled: &unreconciled}
	var lineFilter ledger.LineFilter

	if sessionID != "" {
		session, err := s.store.Session(ctx, sessionID)
		if isNotFound(err) {
			return nil, nil, notFoundError("reconciliation session %s does not exist", sessionID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load session: %w", err)
		}
		period := ledger.DateRange{From: session.PeriodStart, To: session.PeriodEnd}
		bankFilter.AccountID = session.BankAccount
		bankFilter.Dates = period
		lineFilter.Dates = period
		lineFilter.Account = s.chart.LedgerAccountFor(session.BankAccount)
	}

	bank, err := s.store.ListBankLines(ctx, bankFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list bank lines: %w", err)
	}
	lines, err := s.unlinkedTreasuryLines(ctx, lineFilter)
	if err != nil {
		return nil, nil, err
	}
	return bank, lines, nil
}

// unlinkedTreasuryLines lists the treasury lines matching filter that no link references.
func (s *Service) unlinkedTreasuryLines(ctx context.Context, filter ledger.LineFilter) ([]ledger.Line, error) {
	filter.AccountPrefixes = s.chart.TreasuryPrefixes()
	lines, err := s.store.ListLines(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list treasury lines: %w", err)
	}
	links, err := s.store.ListLinks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	linked := make(map[int64]bool, len(links))
	for _, l := range links {
		linked[l.LedgerLineID] = true
	}

	var out []ledger.Line
	for _, l := range lines {
		if !linked[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}
