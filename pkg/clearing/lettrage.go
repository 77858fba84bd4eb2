package clearing

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/matching"
)

// LettrageRequest selects the lines to clear together.
type LettrageRequest struct {
	LineIDs        []int64
	Account        string
	ThirdPartyCode string // Optional; when set every line must carry it
	Actor          string
	Method         ledger.Method // Defaults to MethodManual
}

// ProposeLettrage returns balanced, non-overlapping groupings of the open lines of account,
// best first. It has no side effects.
func (s *Service) ProposeLettrage(ctx context.Context, account, thirdPartyCode string) ([]matching.Group, error) {
	if err := s.checkLettrageAccount(account); err != nil {
		return nil, err
	}
	lines, err := s.store.ListLines(ctx, ledger.LineFilter{
		Account:    account,
		ThirdParty: thirdPartyCode,
		Status:     ledger.StatusUncleared,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	return matching.Assign(matching.LettrageCandidates(lines, s.opts)), nil
}

// LettrageAccounts returns the third-party accounts that still have open lines, sorted.
func (s *Service) LettrageAccounts(ctx context.Context) ([]string, error) {
	lines, err := s.store.ListLines(ctx, ledger.LineFilter{
		AccountPrefixes: s.chart.ThirdPartyPrefixes(),
		Status:          ledger.StatusUncleared,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	var accounts []string
	for _, l := range lines {
		accounts = append(accounts, l.Account)
	}
	sort.Strings(accounts)
	return slices.Compact(accounts), nil
}

// ExecuteLettrage clears the requested lines under a new clearing code. Either every line
// is tagged or none is.
func (s *Service) ExecuteLettrage(ctx context.Context, req LettrageRequest) (*ledger.ClearingGroup, error) {
	ids := uniqueIDs(req.LineIDs)
	if len(ids) < 2 {
		return nil, validationError("lettrage requires at least two distinct lines, got %d", len(ids))
	}
	if err := s.checkLettrageAccount(req.Account); err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = ledger.MethodManual
	}
	if method != ledger.MethodManual && method != ledger.MethodAutomatic {
		return nil, validationError("invalid lettrage method %q", method)
	}

	var group ledger.ClearingGroup
	err := s.store.Transaction(ctx, func(tx Tx) error {
		lines, err := tx.LinesByID(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load lines: %w", err)
		}
		if missing := missingIDs(ids, lines); len(missing) > 0 {
			return validationError("unknown ledger lines %v", missing)
		}
		for _, l := range lines {
			if l.Account != req.Account {
				return validationError("line %d is posted to account %s, not %s", l.ID, l.Account, req.Account)
			}
			if req.ThirdPartyCode != "" && l.ThirdPartyCode != req.ThirdPartyCode {
				return validationError("line %d belongs to third party %q, not %q", l.ID, l.ThirdPartyCode, req.ThirdPartyCode)
			}
			if l.IsCleared() {
				return alreadyClearedError("line %d is already cleared with code %s", l.ID, l.ClearingCode)
			}
		}

		debit, credit, residual := matching.GroupTotals(lines)
		if residual.Abs().GreaterThan(s.tolerance()) {
			return notBalancedError(residual.Abs())
		}

		code, err := allocateCode(ctx, tx, req.Account)
		if err != nil {
			return err
		}
		at := s.timestamp()

		n, err := tx.MarkCleared(ctx, ids, req.Account, code, at)
		if err != nil {
			return fmt.Errorf("failed to mark lines cleared: %w", err)
		}
		if n != int64(len(ids)) {
			return alreadyClearedError("%d of %d lines were cleared concurrently", int64(len(ids))-n, len(ids))
		}

		group = ledger.ClearingGroup{
			Code:           code,
			Account:        req.Account,
			ThirdPartyCode: commonThirdParty(lines, req.ThirdPartyCode),
			LineIDs:        ids,
			TotalDebit:     debit,
			TotalCredit:    credit,
			Residual:       residual,
			CreatedAt:      at,
			Method:         method,
			Actor:          req.Actor,
		}
		if err := tx.InsertClearingGroup(ctx, group); err != nil {
			return fmt.Errorf("failed to record clearing group: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lettrage executed",
		"account", group.Account,
		"clearing_code", group.Code,
		"lines", len(group.LineIDs),
		"method", group.Method,
	)
	return &group, nil
}

// CancelLettrage removes clearing code from every line of account carrying it.
// The clearing group record is kept and stamped as cancelled; the code is not reused.
func (s *Service) CancelLettrage(ctx context.Context, code, account, actor string) error {
	if code == "" || account == "" {
		return validationError("clearing code and account are required")
	}
	var n int64
	err := s.store.Transaction(ctx, func(tx Tx) error {
		var err error
		n, err = tx.ClearCode(ctx, account, code)
		if err != nil {
			return fmt.Errorf("failed to clear code: %w", err)
		}
		if n == 0 {
			return notFoundError("clearing code %s does not exist for account %s", code, account)
		}
		if err := tx.CancelClearingGroup(ctx, account, code, actor, s.timestamp()); err != nil {
			return fmt.Errorf("failed to stamp clearing group: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Lettrage cancelled", "account", account, "clearing_code", code, "lines", n)
	return nil
}

// AutoLettrageResult reports the outcome of AutoLettrage.
type AutoLettrageResult struct {
	Groups   []ledger.ClearingGroup
	Failures []GroupFailure
}

// GroupFailure is a proposal that could not be committed.
type GroupFailure struct {
	LineIDs []int64
	Err     error
}

// AutoLettrage proposes groupings for account and commits each one in its own transaction.
// A failing group is recorded and does not undo the groups committed before it.
func (s *Service) AutoLettrage(ctx context.Context, account, thirdPartyCode, actor string) (*AutoLettrageResult, error) {
	proposals, err := s.ProposeLettrage(ctx, account, thirdPartyCode)
	if err != nil {
		return nil, err
	}
	result := &AutoLettrageResult{}
	for _, p := range proposals {
		g, err := s.ExecuteLettrage(ctx, LettrageRequest{
			LineIDs:        p.LineIDs(),
			Account:        p.Account,
			ThirdPartyCode: p.ThirdPartyCode,
			Actor:          actor,
			Method:         ledger.MethodAutomatic,
		})
		if err != nil {
			s.logger.Warn("Lettrage proposal rejected", "account", account, "lines", p.LineIDs(), "error", err)
			result.Failures = append(result.Failures, GroupFailure{LineIDs: p.LineIDs(), Err: err})
			continue
		}
		result.Groups = append(result.Groups, *g)
	}
	return result, nil
}

// maxCodeAttempts bounds the skips over codes already present from imported data.
const maxCodeAttempts = 1000

func allocateCode(ctx context.Context, tx Tx, account string) (string, error) {
	for range maxCodeAttempts {
		seq, err := tx.NextClearingSequence(ctx, account)
		if err != nil {
			return "", fmt.Errorf("failed to allocate clearing code: %w", err)
		}
		code := CodeForSequence(seq)
		used, err := tx.CodeInUse(ctx, account, code)
		if err != nil {
			return "", fmt.Errorf("failed to check clearing code: %w", err)
		}
		if !used {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free clearing code for account %s after %d attempts", account, maxCodeAttempts)
}

func (s *Service) checkLettrageAccount(account string) error {
	if account == "" {
		return validationError("account is required")
	}
	if !s.chart.IsThirdParty(account) {
		return validationError("account %s is not a third-party account", account)
	}
	return nil
}

func (s *Service) tolerance() decimal.Decimal {
	if s.opts.Tolerance.IsPositive() {
		return s.opts.Tolerance
	}
	return matching.DefaultTolerance
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return slices.Compact(out)
}

func missingIDs(ids []int64, lines []ledger.Line) []int64 {
	found := make(map[int64]bool, len(lines))
	for _, l := range lines {
		found[l.ID] = true
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func commonThirdParty(lines []ledger.Line, requested string) string {
	if requested != "" {
		return requested
	}
	tp := lines[0].ThirdPartyCode
	for _, l := range lines[1:] {
		if l.ThirdPartyCode != tp {
			return ""
		}
	}
	return tp
}
