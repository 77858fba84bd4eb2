package clearing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotBalanced       Kind = "not_balanced"
	KindAlreadyCleared    Kind = "already_cleared"
	KindAlreadyReconciled Kind = "already_reconciled"
	KindNotFound          Kind = "not_found"
)

// Error is a data-level failure of an engine operation. Residual is set for
// KindNotBalanced so callers can display the gap ("écart").
type Error struct {
	Kind     Kind
	Message  string
	Residual *decimal.Decimal
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotBalanced       = &Error{Kind: KindNotBalanced}
	ErrAlreadyCleared    = &Error{Kind: KindAlreadyCleared}
	ErrAlreadyReconciled = &Error{Kind: KindAlreadyReconciled}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Residual != nil {
		return fmt.Sprintf("%s (écart: %s)", msg, e.Residual.StringFixed(2))
	}
	return msg
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// NewError returns an *Error of the given kind. Packages that report on the engine's
// data use it so their failures carry the same kinds.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

func notFoundError(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func alreadyClearedError(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyCleared, Message: fmt.Sprintf(format, args...)}
}

func alreadyReconciledError(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyReconciled, Message: fmt.Sprintf(format, args...)}
}

func notBalancedError(residual decimal.Decimal) *Error {
	return &Error{
		Kind:     KindNotBalanced,
		Message:  "lines do not balance",
		Residual: &residual,
	}
}
