// Package ledger defines the ledger and bank statement records the clearing engine works on,
// and the read-only query contract over them.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Method records how a clearing group or reconciliation link was produced.
type Method string

const (
	// MethodManual is a user-selected lettrage or bank link.
	MethodManual Method = "manual"
	// MethodAutomatic is a lettrage accepted from the proposal engine.
	MethodAutomatic Method = "automatic"
	// MethodAuto is a bank link committed by auto-reconciliation.
	MethodAuto Method = "auto"
	// MethodSuggestion is a bank link the user accepted from a ranked suggestion.
	MethodSuggestion Method = "suggestion"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodManual, MethodAutomatic, MethodAuto, MethodSuggestion:
		return true
	}
	return false
}

// Line is a single debit or credit movement posted to one account.
type Line struct {
	ID             int64
	EntryID        int64
	PieceNumber    string
	Date           time.Time
	JournalCode    string
	Account        string
	Label          string
	ThirdPartyCode string // Empty when the account has no sub-ledger
	ThirdPartyName string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	ClearingCode   string // Empty while the line is open
	ClearingDate   *time.Time
}

// IsCleared reports whether the line carries a clearing code.
func (l Line) IsCleared() bool {
	return l.ClearingCode != ""
}

// IsDebit reports whether the line is a non-zero debit movement.
func (l Line) IsDebit() bool {
	return l.Debit.IsPositive()
}

// IsCredit reports whether the line is a non-zero credit movement.
func (l Line) IsCredit() bool {
	return l.Credit.IsPositive()
}

// Amount returns the non-zero side of the movement.
func (l Line) Amount() decimal.Decimal {
	if l.IsDebit() {
		return l.Debit
	}
	return l.Credit
}

// BankAmount returns the movement as seen from the bank statement: credit minus debit.
// A treasury line debited 1000 pairs with a bank outflow of -1000.
func (l Line) BankAmount() decimal.Decimal {
	return l.Credit.Sub(l.Debit)
}

// Validate checks that a movement has one non-negative side and an account.
func (l Line) Validate() error {
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return fmt.Errorf("line %d: negative amount (debit=%s, credit=%s)", l.ID, l.Debit, l.Credit)
	}
	if l.IsDebit() && l.IsCredit() {
		return fmt.Errorf("line %d: both debit and credit are set", l.ID)
	}
	if l.Account == "" {
		return fmt.Errorf("line %d: missing account", l.ID)
	}
	return nil
}

// BankLine is an externally sourced cash movement from a bank statement.
type BankLine struct {
	ID            int64
	OperationDate time.Time
	ValueDate     *time.Time
	Label         string
	Reference     string
	Amount        decimal.Decimal // Positive is an inflow, negative an outflow
	Balance       decimal.NullDecimal
	Reconciled    bool
	LinkID        string
	AccountID     string
}

// ClearingGroup is the result of a lettrage: two or more lines of one account balanced
// under a shared clearing code.
type ClearingGroup struct {
	Code           string
	Account        string
	ThirdPartyCode string
	LineIDs        []int64
	TotalDebit     decimal.Decimal
	TotalCredit    decimal.Decimal
	Residual       decimal.Decimal
	CreatedAt      time.Time
	Method         Method
	Actor          string
}

// ReconciliationLink pairs one bank statement line with one treasury ledger line.
type ReconciliationLink struct {
	ID           string
	SessionID    string
	BankLineID   int64
	LedgerLineID int64
	Amount       decimal.Decimal
	Method       Method
	Confidence   *int // 0-100, set for auto and suggestion links
	CreatedAt    time.Time
}

// ReconciliationSession is a bank reconciliation run for one account and period.
type ReconciliationSession struct {
	ID               string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	BankAccount      string
	StatementOpening decimal.Decimal
	StatementClosing decimal.Decimal
	LedgerBalance    decimal.Decimal
	Variance         decimal.Decimal
	CreatedAt        time.Time
}
