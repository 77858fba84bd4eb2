package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

const linkColumns = `id, session_id, bank_line_id, ledger_line_id, amount, method, confidence, created_at`

// Session returns one reconciliation session.
func (l *Ledger) Session(ctx context.Context, id string) (ledger.ReconciliationSession, error) {
	return session(ctx, l.conn.db, id)
}

// FindSession returns the session recorded for a bank account and period.
func (l *Ledger) FindSession(ctx context.Context, bankAccount string, start, end time.Time) (ledger.ReconciliationSession, error) {
	row := l.conn.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM reconciliation_sessions
		WHERE bank_account = ? AND period_start = ? AND period_end = ?
	`, bankAccount, ledger.FormatDate(start), ledger.FormatDate(end))
	s, err := scanSession(row)
	if isNoRows(err) {
		return ledger.ReconciliationSession{}, fmt.Errorf("session %s %s..%s: %w",
			bankAccount, ledger.FormatDate(start), ledger.FormatDate(end), ErrNotFound)
	}
	if err != nil {
		return ledger.ReconciliationSession{}, fmt.Errorf("failed to find session: %w", err)
	}
	return s, nil
}

// InsertSession records a reconciliation session. Sessions are never updated afterwards.
func (l *Ledger) InsertSession(ctx context.Context, s ledger.ReconciliationSession) error {
	_, err := l.conn.db.ExecContext(ctx, `
		INSERT INTO reconciliation_sessions (id, period_start, period_end, bank_account,
			statement_opening, statement_closing, ledger_balance, variance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID,
		ledger.FormatDate(s.PeriodStart),
		ledger.FormatDate(s.PeriodEnd),
		s.BankAccount,
		s.StatementOpening.String(),
		s.StatementClosing.String(),
		s.LedgerBalance.String(),
		s.Variance.String(),
		formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// ListSessions returns all reconciliation sessions, newest period first.
func (l *Ledger) ListSessions(ctx context.Context) ([]ledger.ReconciliationSession, error) {
	rows, err := l.conn.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM reconciliation_sessions
		ORDER BY period_end DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ledger.ReconciliationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Link returns one active reconciliation link.
func (l *Ledger) Link(ctx context.Context, id string) (ledger.ReconciliationLink, error) {
	return linkWhere(ctx, l.conn.db, "id = ?", id)
}

// ListLinks returns the active links ordered by bank line id, restricted to one session
// when sessionID is set.
func (l *Ledger) ListLinks(ctx context.Context, sessionID string) ([]ledger.ReconciliationLink, error) {
	query := "SELECT " + linkColumns + " FROM reconciliation_links"
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY bank_line_id"

	rows, err := l.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []ledger.ReconciliationLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

const sessionColumns = `id, period_start, period_end, bank_account, statement_opening,
	statement_closing, ledger_balance, variance, created_at`

func session(ctx context.Context, q querier, id string) (ledger.ReconciliationSession, error) {
	row := q.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM reconciliation_sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if isNoRows(err) {
		return ledger.ReconciliationSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ledger.ReconciliationSession{}, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func scanSession(sc scanner) (ledger.ReconciliationSession, error) {
	var s ledger.ReconciliationSession
	var start, end, createdAt string
	if err := sc.Scan(
		&s.ID,
		&start,
		&end,
		&s.BankAccount,
		&s.StatementOpening,
		&s.StatementClosing,
		&s.LedgerBalance,
		&s.Variance,
		&createdAt,
	); err != nil {
		return ledger.ReconciliationSession{}, err
	}
	var err error
	if s.PeriodStart, err = ledger.ParseDate(start); err != nil {
		return ledger.ReconciliationSession{}, err
	}
	if s.PeriodEnd, err = ledger.ParseDate(end); err != nil {
		return ledger.ReconciliationSession{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.ReconciliationSession{}, err
	}
	return s, nil
}

func linkWhere(ctx context.Context, q querier, cond string, arg any) (ledger.ReconciliationLink, error) {
	row := q.QueryRowContext(ctx, "SELECT "+linkColumns+" FROM reconciliation_links WHERE "+cond, arg)
	link, err := scanLink(row)
	if isNoRows(err) {
		return ledger.ReconciliationLink{}, fmt.Errorf("link %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return ledger.ReconciliationLink{}, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

func scanLink(sc scanner) (ledger.ReconciliationLink, error) {
	var (
		link       ledger.ReconciliationLink
		sessionID  sql.NullString
		method     string
		confidence sql.NullInt64
		createdAt  string
	)
	if err := sc.Scan(
		&link.ID,
		&sessionID,
		&link.BankLineID,
		&link.LedgerLineID,
		&link.Amount,
		&method,
		&confidence,
		&createdAt,
	); err != nil {
		return ledger.ReconciliationLink{}, err
	}
	link.SessionID = sessionID.String
	link.Method = ledger.Method(method)
	if confidence.Valid {
		c := int(confidence.Int64)
		link.Confidence = &c
	}
	var err error
	if link.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.ReconciliationLink{}, err
	}
	return link, nil
}
