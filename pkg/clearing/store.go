package clearing

import (
	"context"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// Tx is the set of mutations the executor performs inside one store transaction.
// Lookups return ledger.ErrNotFound (possibly wrapped) for missing records.
type Tx interface {
	LinesByID(ctx context.Context, ids []int64) ([]ledger.Line, error)

	// NextClearingSequence increments and returns the clearing code sequence of account.
	NextClearingSequence(ctx context.Context, account string) (int64, error)
	// CodeInUse reports whether code is carried by a line or a group record of account.
	CodeInUse(ctx context.Context, account, code string) (bool, error)
	// MarkCleared tags the still-open lines among ids and returns how many were tagged.
	MarkCleared(ctx context.Context, ids []int64, account, code string, at time.Time) (int64, error)
	// ClearCode removes code from every line of account carrying it and returns the count.
	ClearCode(ctx context.Context, account, code string) (int64, error)
	InsertClearingGroup(ctx context.Context, group ledger.ClearingGroup) error
	CancelClearingGroup(ctx context.Context, account, code, actor string, at time.Time) error

	BankLine(ctx context.Context, id int64) (ledger.BankLine, error)
	Session(ctx context.Context, id string) (ledger.ReconciliationSession, error)
	Link(ctx context.Context, id string) (ledger.ReconciliationLink, error)
	LinkForLedgerLine(ctx context.Context, ledgerLineID int64) (ledger.ReconciliationLink, error)
	InsertLink(ctx context.Context, link ledger.ReconciliationLink) error
	DeleteLink(ctx context.Context, id string) error
	// MarkBankLineReconciled flags an unreconciled bank line and returns the affected count.
	MarkBankLineReconciled(ctx context.Context, bankLineID int64, linkID string) (int64, error)
	// ResetBankLine unflags a bank line currently carrying linkID and returns the affected count.
	ResetBankLine(ctx context.Context, bankLineID int64, linkID string) (int64, error)
}

// Store is the backing store the executor runs against.
type Store interface {
	ledger.Reader

	// Transaction runs fn atomically: every mutation is committed, or none is.
	Transaction(ctx context.Context, fn func(Tx) error) error

	BankLine(ctx context.Context, id int64) (ledger.BankLine, error)
	Session(ctx context.Context, id string) (ledger.ReconciliationSession, error)
	// ListLinks returns active links, restricted to one session when sessionID is set.
	ListLinks(ctx context.Context, sessionID string) ([]ledger.ReconciliationLink, error)
}
