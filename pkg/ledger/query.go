package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the storage and exchange format for posting and operation dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ClearingStatus filters lines by their lettrage state.
type ClearingStatus int

const (
	StatusAny ClearingStatus = iota
	StatusUncleared
	StatusCleared
)

// DateRange is an inclusive date interval. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range, compared at day granularity.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOnly(t)
	if !r.From.IsZero() && d.Before(DateOnly(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(DateOnly(r.To)) {
		return false
	}
	return true
}

// LineFilter selects ledger lines. Zero fields do not filter.
type LineFilter struct {
	Account         string   // Exact account number
	AccountPrefixes []string // Any-of account classes, e.g. "52", "57"
	ThirdParty      string
	Dates           DateRange
	Status          ClearingStatus
	ClearingCode    string
}

// Match reports whether l passes the filter.
func (f LineFilter) Match(l Line) bool {
	if f.Account != "" && l.Account != f.Account {
		return false
	}
	if len(f.AccountPrefixes) > 0 && !HasAnyPrefix(l.Account, f.AccountPrefixes) {
		return false
	}
	if f.ThirdParty != "" && l.ThirdPartyCode != f.ThirdParty {
		return false
	}
	if !f.Dates.Contains(l.Date) {
		return false
	}
	if f.ClearingCode != "" && l.ClearingCode != f.ClearingCode {
		return false
	}
	switch f.Status {
	case StatusCleared:
		return l.IsCleared()
	case StatusUncleared:
		return !l.IsCleared()
	}
	return true
}

// BankLineFilter selects bank statement lines. Zero fields do not filter.
type BankLineFilter struct {
	Reconciled *bool
	Dates      DateRange
	AccountID  string
}

// Match reports whether b passes the filter.
func (f BankLineFilter) Match(b BankLine) bool {
	if f.Reconciled != nil && b.Reconciled != *f.Reconciled {
		return false
	}
	if f.AccountID != "" && b.AccountID != f.AccountID {
		return false
	}
	return f.Dates.Contains(b.OperationDate)
}

// Reader is the read-only query surface over ledger movements and bank statement lines.
type Reader interface {
	ListLines(ctx context.Context, filter LineFilter) ([]Line, error)
	ListBankLines(ctx context.Context, filter BankLineFilter) ([]BankLine, error)
}

// HasAnyPrefix reports whether account starts with one of prefixes.
func HasAnyPrefix(account string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(account, p) {
			return true
		}
	}
	return false
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	hours := DateOnly(a).Sub(DateOnly(b)).Hours()
	days := int(hours / 24)
	if days < 0 {
		return -days
	}
	return days
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate formats t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
