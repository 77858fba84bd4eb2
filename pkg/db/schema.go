// Package db provides the SQLite store behind the clearing engine: ledger lines, bank
// statement lines, clearing groups, reconciliation links and sessions.
package db

// Schema defines the SQL statements to create database tables.
// Amounts are stored as decimal TEXT, dates as YYYY-MM-DD and timestamps as RFC 3339.
const Schema = `
-- Ledger movements, one row per debit or credit line of a posted journal entry
CREATE TABLE IF NOT EXISTS ledger_lines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id INTEGER NOT NULL DEFAULT 0,
    piece_number TEXT NOT NULL DEFAULT '',
    posting_date TEXT NOT NULL,
    journal_code TEXT NOT NULL DEFAULT '',
    account TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    third_party_code TEXT NOT NULL DEFAULT '',
    third_party_name TEXT NOT NULL DEFAULT '',
    debit TEXT NOT NULL DEFAULT '0',
    credit TEXT NOT NULL DEFAULT '0',
    clearing_code TEXT,                -- NULL while the line is open
    clearing_date TEXT
);

CREATE INDEX IF NOT EXISTS idx_ledger_lines_account_code
    ON ledger_lines(account, clearing_code);

CREATE INDEX IF NOT EXISTS idx_ledger_lines_third_party
    ON ledger_lines(account, third_party_code);

CREATE INDEX IF NOT EXISTS idx_ledger_lines_date
    ON ledger_lines(posting_date);

-- Bank statement lines imported from the bank
CREATE TABLE IF NOT EXISTS bank_statement_lines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL DEFAULT '',
    operation_date TEXT NOT NULL,
    value_date TEXT,
    label TEXT NOT NULL DEFAULT '',
    reference TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,              -- Positive inflow, negative outflow
    balance TEXT,
    reconciled INTEGER NOT NULL DEFAULT 0,
    link_id TEXT,
    imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    CHECK ((reconciled = 1) = (link_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_bank_lines_reconciled
    ON bank_statement_lines(account_id, reconciled);

-- Per-account clearing code sequence; codes are never handed out twice
CREATE TABLE IF NOT EXISTS clearing_sequences (
    account TEXT PRIMARY KEY,
    last_seq INTEGER NOT NULL
);

-- Audit record of every lettrage; cancellation stamps the row instead of deleting it
CREATE TABLE IF NOT EXISTS clearing_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL,
    account TEXT NOT NULL,
    third_party_code TEXT NOT NULL DEFAULT '',
    line_ids TEXT NOT NULL,            -- Comma-separated ledger line ids
    total_debit TEXT NOT NULL,
    total_credit TEXT NOT NULL,
    residual TEXT NOT NULL,
    method TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    cancelled_at TEXT,
    cancelled_by TEXT,
    UNIQUE(account, code)
);

-- Bank reconciliation runs; rows are written once
CREATE TABLE IF NOT EXISTS reconciliation_sessions (
    id TEXT PRIMARY KEY,
    period_start TEXT NOT NULL,
    period_end TEXT NOT NULL,
    bank_account TEXT NOT NULL,
    statement_opening TEXT NOT NULL,
    statement_closing TEXT NOT NULL,
    ledger_balance TEXT NOT NULL,
    variance TEXT NOT NULL,
    created_at TEXT NOT NULL
);

-- One session per bank account and period.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_period
    ON reconciliation_sessions(bank_account, period_start, period_end);

-- Active bank statement line / ledger line pairings.
-- bank_line_id carries no foreign key: statement rows belong to the importer and may be purged.
CREATE TABLE IF NOT EXISTS reconciliation_links (
    id TEXT PRIMARY KEY,
    session_id TEXT REFERENCES reconciliation_sessions(id),
    bank_line_id INTEGER NOT NULL,
    ledger_line_id INTEGER NOT NULL REFERENCES ledger_lines(id),
    amount TEXT NOT NULL,
    method TEXT NOT NULL,
    confidence INTEGER,
    created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_links_bank_line
    ON reconciliation_links(bank_line_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_links_ledger_line
    ON reconciliation_links(ledger_line_id);
`

// InitializeSchema initializes the database schema.
// It creates all tables if they don't exist.
func InitializeSchema(conn *Connection) error {
	if _, err := conn.db.Exec(Schema); err != nil {
		return err
	}
	return nil
}
