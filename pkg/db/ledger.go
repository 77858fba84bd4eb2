package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = ledger.ErrNotFound

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger manages ledger lines, bank statement lines, clearing groups and reconciliation
// records.
type Ledger struct {
	conn *Connection
}

// NewLedger creates a new Ledger instance.
func NewLedger(conn *Connection) *Ledger {
	return &Ledger{conn: conn}
}

const lineColumns = `id, entry_id, piece_number, posting_date, journal_code, account, label,
	third_party_code, third_party_name, debit, credit, clearing_code, clearing_date`

const bankLineColumns = `id, account_id, operation_date, value_date, label, reference, amount,
	balance, reconciled, link_id`

// ListLines returns the ledger lines matching filter ordered by id.
func (l *Ledger) ListLines(ctx context.Context, filter ledger.LineFilter) ([]ledger.Line, error) {
	return listLines(ctx, l.conn.db, filter)
}

// ListBankLines returns the bank statement lines matching filter ordered by id.
func (l *Ledger) ListBankLines(ctx context.Context, filter ledger.BankLineFilter) ([]ledger.BankLine, error) {
	var (
		where []string
		args  []any
	)
	if filter.Reconciled != nil {
		where = append(where, "reconciled = ?")
		args = append(args, boolToInt(*filter.Reconciled))
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	where, args = appendDateRange(where, args, "operation_date", filter.Dates)

	query := "SELECT " + bankLineColumns + " FROM bank_statement_lines" + whereClause(where) + " ORDER BY id"
	rows, err := l.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank lines: %w", err)
	}
	defer rows.Close()

	var lines []ledger.BankLine
	for rows.Next() {
		b, err := scanBankLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank line: %w", err)
		}
		lines = append(lines, b)
	}
	return lines, rows.Err()
}

// BankLine returns one bank statement line.
func (l *Ledger) BankLine(ctx context.Context, id int64) (ledger.BankLine, error) {
	return bankLine(ctx, l.conn.db, id)
}

// InsertLines stores ledger lines and returns their ids. Open lines must carry an empty
// clearing code.
func (l *Ledger) InsertLines(ctx context.Context, lines []ledger.Line) ([]int64, error) {
	query := `
		INSERT INTO ledger_lines (entry_id, piece_number, posting_date, journal_code, account, label,
			third_party_code, third_party_name, debit, credit, clearing_code, clearing_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	ids := make([]int64, 0, len(lines))
	err := l.conn.Transaction(ctx, func(tx *sql.Tx) error {
		for _, line := range lines {
			if err := line.Validate(); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, query,
				line.EntryID,
				line.PieceNumber,
				ledger.FormatDate(line.Date),
				line.JournalCode,
				line.Account,
				line.Label,
				line.ThirdPartyCode,
				line.ThirdPartyName,
				line.Debit.String(),
				line.Credit.String(),
				nullString(line.ClearingCode),
				nullTime(line.ClearingDate),
			)
			if err != nil {
				return fmt.Errorf("failed to insert ledger line: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get ledger line id: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertBankLines stores unreconciled bank statement lines and returns their ids.
func (l *Ledger) InsertBankLines(ctx context.Context, lines []ledger.BankLine) ([]int64, error) {
	query := `
		INSERT INTO bank_statement_lines (account_id, operation_date, value_date, label, reference,
			amount, balance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	ids := make([]int64, 0, len(lines))
	err := l.conn.Transaction(ctx, func(tx *sql.Tx) error {
		for _, b := range lines {
			var balance any
			if b.Balance.Valid {
				balance = b.Balance.Decimal.String()
			}
			var valueDate any
			if b.ValueDate != nil {
				valueDate = ledger.FormatDate(*b.ValueDate)
			}
			res, err := tx.ExecContext(ctx, query,
				b.AccountID,
				ledger.FormatDate(b.OperationDate),
				valueDate,
				b.Label,
				b.Reference,
				b.Amount.String(),
				balance,
			)
			if err != nil {
				return fmt.Errorf("failed to insert bank line: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get bank line id: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func listLines(ctx context.Context, q querier, filter ledger.LineFilter) ([]ledger.Line, error) {
	var (
		where []string
		args  []any
	)
	if filter.Account != "" {
		where = append(where, "account = ?")
		args = append(args, filter.Account)
	}
	if len(filter.AccountPrefixes) > 0 {
		var prefixes []string
		for _, p := range filter.AccountPrefixes {
			prefixes = append(prefixes, "substr(account, 1, ?) = ?")
			args = append(args, len(p), p)
		}
		where = append(where, "("+strings.Join(prefixes, " OR ")+")")
	}
	if filter.ThirdParty != "" {
		where = append(where, "third_party_code = ?")
		args = append(args, filter.ThirdParty)
	}
	where, args = appendDateRange(where, args, "posting_date", filter.Dates)
	switch filter.Status {
	case ledger.StatusUncleared:
		where = append(where, "clearing_code IS NULL")
	case ledger.StatusCleared:
		where = append(where, "clearing_code IS NOT NULL")
	}
	if filter.ClearingCode != "" {
		where = append(where, "clearing_code = ?")
		args = append(args, filter.ClearingCode)
	}

	query := "SELECT " + lineColumns + " FROM ledger_lines" + whereClause(where) + " ORDER BY id"
	return queryLines(ctx, q, query, args...)
}

func linesByID(ctx context.Context, q querier, ids []int64) ([]ledger.Line, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	query := "SELECT " + lineColumns + " FROM ledger_lines WHERE id IN (" + placeholders + ") ORDER BY id"
	return queryLines(ctx, q, query, args...)
}

func queryLines(ctx context.Context, q querier, query string, args ...any) ([]ledger.Line, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger lines: %w", err)
	}
	defer rows.Close()

	var lines []ledger.Line
	for rows.Next() {
		var (
			line         ledger.Line
			postingDate  string
			clearingCode sql.NullString
			clearingDate sql.NullString
		)
		if err := rows.Scan(
			&line.ID,
			&line.EntryID,
			&line.PieceNumber,
			&postingDate,
			&line.JournalCode,
			&line.Account,
			&line.Label,
			&line.ThirdPartyCode,
			&line.ThirdPartyName,
			&line.Debit,
			&line.Credit,
			&clearingCode,
			&clearingDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger line: %w", err)
		}
		if line.Date, err = ledger.ParseDate(postingDate); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line.ID, err)
		}
		line.ClearingCode = clearingCode.String
		if line.ClearingDate, err = parseNullTime(clearingDate); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line.ID, err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func bankLine(ctx context.Context, q querier, id int64) (ledger.BankLine, error) {
	row := q.QueryRowContext(ctx, "SELECT "+bankLineColumns+" FROM bank_statement_lines WHERE id = ?", id)
	b, err := scanBankLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.BankLine{}, fmt.Errorf("bank line %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return ledger.BankLine{}, fmt.Errorf("failed to get bank line: %w", err)
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBankLine(s scanner) (ledger.BankLine, error) {
	var (
		b             ledger.BankLine
		operationDate string
		valueDate     sql.NullString
		reconciled    int
		linkID        sql.NullString
	)
	if err := s.Scan(
		&b.ID,
		&b.AccountID,
		&operationDate,
		&valueDate,
		&b.Label,
		&b.Reference,
		&b.Amount,
		&b.Balance,
		&reconciled,
		&linkID,
	); err != nil {
		return ledger.BankLine{}, err
	}
	var err error
	if b.OperationDate, err = ledger.ParseDate(operationDate); err != nil {
		return ledger.BankLine{}, err
	}
	if valueDate.Valid {
		vd, err := ledger.ParseDate(valueDate.String)
		if err != nil {
			return ledger.BankLine{}, err
		}
		b.ValueDate = &vd
	}
	b.Reconciled = reconciled == 1
	b.LinkID = linkID.String
	return b, nil
}

func appendDateRange(where []string, args []any, column string, r ledger.DateRange) ([]string, []any) {
	if !r.From.IsZero() {
		where = append(where, column+" >= ?")
		args = append(args, ledger.FormatDate(r.From))
	}
	if !r.To.IsZero() {
		where = append(where, column+" <= ?")
		args = append(args, ledger.FormatDate(r.To))
	}
	return where, args
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
