package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/clearing"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// Transaction runs fn against a clearing.Tx backed by one SQLite transaction.
func (l *Ledger) Transaction(ctx context.Context, fn func(clearing.Tx) error) error {
	return l.conn.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// ledgerTx implements clearing.Tx.
type ledgerTx struct {
	tx *sql.Tx
}

var (
	_ clearing.Store = (*Ledger)(nil)
	_ clearing.Tx    = (*ledgerTx)(nil)
)

func (t *ledgerTx) LinesByID(ctx context.Context, ids []int64) ([]ledger.Line, error) {
	return linesByID(ctx, t.tx, ids)
}

func (t *ledgerTx) NextClearingSequence(ctx context.Context, account string) (int64, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO clearing_sequences (account, last_seq) VALUES (?, 1)
		ON CONFLICT(account) DO UPDATE SET last_seq = last_seq + 1
	`, account)
	if err != nil {
		return 0, fmt.Errorf("failed to advance clearing sequence: %w", err)
	}

	var seq int64
	if err := t.tx.QueryRowContext(ctx,
		`SELECT last_seq FROM clearing_sequences WHERE account = ?`, account,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read clearing sequence: %w", err)
	}
	return seq, nil
}

func (t *ledgerTx) CodeInUse(ctx context.Context, account, code string) (bool, error) {
	var used bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_lines WHERE account = ? AND clearing_code = ?)
		    OR EXISTS (SELECT 1 FROM clearing_groups WHERE account = ? AND code = ?)
	`, account, code, account, code).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("failed to check clearing code: %w", err)
	}
	return used, nil
}

func (t *ledgerTx) MarkCleared(ctx context.Context, ids []int64, account, code string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders, idArgs := inClause(ids)
	args := append([]any{code, formatTime(at), account}, idArgs...)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE ledger_lines SET clearing_code = ?, clearing_date = ?
		WHERE account = ? AND clearing_code IS NULL AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark lines cleared: %w", err)
	}
	return res.RowsAffected()
}

func (t *ledgerTx) ClearCode(ctx context.Context, account, code string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE ledger_lines SET clearing_code = NULL, clearing_date = NULL
		WHERE account = ? AND clearing_code = ?
	`, account, code)
	if err != nil {
		return 0, fmt.Errorf("failed to clear code: %w", err)
	}
	return res.RowsAffected()
}

func (t *ledgerTx) InsertClearingGroup(ctx context.Context, g ledger.ClearingGroup) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO clearing_groups (code, account, third_party_code, line_ids, total_debit,
			total_credit, residual, method, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.Code,
		g.Account,
		g.ThirdPartyCode,
		joinIDs(g.LineIDs),
		g.TotalDebit.String(),
		g.TotalCredit.String(),
		g.Residual.String(),
		string(g.Method),
		g.Actor,
		formatTime(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert clearing group: %w", err)
	}
	return nil
}

func (t *ledgerTx) CancelClearingGroup(ctx context.Context, account, code, actor string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE clearing_groups SET cancelled_at = ?, cancelled_by = ?
		WHERE account = ? AND code = ? AND cancelled_at IS NULL
	`, formatTime(at), actor, account, code)
	if err != nil {
		return fmt.Errorf("failed to cancel clearing group: %w", err)
	}
	return nil
}

func (t *ledgerTx) BankLine(ctx context.Context, id int64) (ledger.BankLine, error) {
	return bankLine(ctx, t.tx, id)
}

func (t *ledgerTx) Session(ctx context.Context, id string) (ledger.ReconciliationSession, error) {
	return session(ctx, t.tx, id)
}

func (t *ledgerTx) Link(ctx context.Context, id string) (ledger.ReconciliationLink, error) {
	return linkWhere(ctx, t.tx, "id = ?", id)
}

func (t *ledgerTx) LinkForLedgerLine(ctx context.Context, ledgerLineID int64) (ledger.ReconciliationLink, error) {
	return linkWhere(ctx, t.tx, "ledger_line_id = ?", ledgerLineID)
}

func (t *ledgerTx) InsertLink(ctx context.Context, link ledger.ReconciliationLink) error {
	var confidence any
	if link.Confidence != nil {
		confidence = *link.Confidence
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reconciliation_links (id, session_id, bank_line_id, ledger_line_id, amount,
			method, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		link.ID,
		nullString(link.SessionID),
		link.BankLineID,
		link.LedgerLineID,
		link.Amount.String(),
		string(link.Method),
		confidence,
		formatTime(link.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

func (t *ledgerTx) DeleteLink(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM reconciliation_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) MarkBankLineReconciled(ctx context.Context, bankLineID int64, linkID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bank_statement_lines SET reconciled = 1, link_id = ?
		WHERE id = ? AND reconciled = 0
	`, linkID, bankLineID)
	if err != nil {
		return 0, fmt.Errorf("failed to flag bank line: %w", err)
	}
	return res.RowsAffected()
}

func (t *ledgerTx) ResetBankLine(ctx context.Context, bankLineID int64, linkID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bank_statement_lines SET reconciled = 0, link_id = NULL
		WHERE id = ? AND link_id = ?
	`, bankLineID, linkID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset bank line: %w", err)
	}
	return res.RowsAffected()
}

// ListClearingGroups returns the clearing group records of account, newest first.
// Cancelled groups are included only when includeCancelled is set.
func (l *Ledger) ListClearingGroups(ctx context.Context, account string, includeCancelled bool) ([]ledger.ClearingGroup, error) {
	query := `
		SELECT code, account, third_party_code, line_ids, total_debit, total_credit, residual,
			method, actor, created_at
		FROM clearing_groups
		WHERE account = ?`
	if !includeCancelled {
		query += ` AND cancelled_at IS NULL`
	}
	query += ` ORDER BY id DESC`

	rows, err := l.conn.db.QueryContext(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list clearing groups: %w", err)
	}
	defer rows.Close()

	var groups []ledger.ClearingGroup
	for rows.Next() {
		var (
			g         ledger.ClearingGroup
			lineIDs   string
			method    string
			createdAt string
		)
		if err := rows.Scan(
			&g.Code,
			&g.Account,
			&g.ThirdPartyCode,
			&lineIDs,
			&g.TotalDebit,
			&g.TotalCredit,
			&g.Residual,
			&method,
			&g.Actor,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan clearing group: %w", err)
		}
		if g.LineIDs, err = splitIDs(lineIDs); err != nil {
			return nil, fmt.Errorf("clearing group %s: %w", g.Code, err)
		}
		if g.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("clearing group %s: %w", g.Code, err)
		}
		g.Method = ledger.Method(method)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid line id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
