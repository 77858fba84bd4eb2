package clearing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

var fixedNow = time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)

func newTestService(store Store) *Service {
	return NewService(store, nil,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ledger.ParseDate(s)
	require.NoError(t, err)
	return d
}

func customerLine(t *testing.T, id int64, debit, credit, date string) ledger.Line {
	return ledger.Line{
		ID:             id,
		Account:        "411000",
		ThirdPartyCode: "C001",
		Debit:          amt(debit),
		Credit:         amt(credit),
		Date:           day(t, date),
	}
}

func TestCodeForSequence(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, ""},
		{-3, ""},
		{1, "A"},
		{2, "B"},
		{26, "Z"},
		{27, "AA"},
		{28, "AB"},
		{52, "AZ"},
		{53, "BA"},
		{702, "ZZ"},
		{703, "AAA"},
	}

	for _, tt := range tests {
		result := CodeForSequence(tt.n)
		if result != tt.want {
			t.Errorf("CodeForSequence(%d) = %q, expected %q", tt.n, result, tt.want)
		}
	}
}

func TestCodeForSequenceIsInjective(t *testing.T) {
	seen := make(map[string]int64)
	for n := int64(1); n <= 20000; n++ {
		code := CodeForSequence(n)
		if prev, ok := seen[code]; ok {
			t.Fatalf("CodeForSequence(%d) = %q collides with %d", n, code, prev)
		}
		seen[code] = n
	}
}

func TestErrorMatchesSentinelsByKind(t *testing.T) {
	err := notBalancedError(amt("30"))

	assert.True(t, errors.Is(err, ErrNotBalanced))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "lines do not balance (écart: 30.00)", err.Error())

	var ce *Error
	require.True(t, errors.As(error(err), &ce))
	require.NotNil(t, ce.Residual)
	assert.True(t, ce.Residual.Equal(amt("30")))
}

func TestExecuteLettrage(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "1000", "0", "2025-01-05"),
		customerLine(t, 2, "0", "600", "2025-01-12"),
		customerLine(t, 3, "0", "400", "2025-01-20"),
	)
	svc := newTestService(store)

	group, err := svc.ExecuteLettrage(ctx, LettrageRequest{LineIDs: []int64{3, 1, 2}, Account: "411000", Actor: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "A", group.Code)
	assert.Equal(t, []int64{1, 2, 3}, group.LineIDs)
	assert.Equal(t, "C001", group.ThirdPartyCode)
	assert.True(t, group.Residual.IsZero())
	assert.True(t, group.TotalDebit.Equal(amt("1000")))
	assert.Equal(t, ledger.MethodManual, group.Method)
	assert.Equal(t, fixedNow, group.CreatedAt)

	for _, id := range []int64{1, 2, 3} {
		l := store.lines[id]
		assert.Equal(t, "A", l.ClearingCode, "line %d", id)
		require.NotNil(t, l.ClearingDate, "line %d", id)
	}
	require.Len(t, store.groups, 1)
}

func TestExecuteLettrageValidation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "500", "0", "2025-01-05"),
		customerLine(t, 2, "0", "500", "2025-01-06"),
		ledger.Line{ID: 3, Account: "401000", ThirdPartyCode: "S001", Credit: amt("500"), Date: day(t, "2025-01-06")},
		ledger.Line{ID: 4, Account: "411000", ThirdPartyCode: "C002", Credit: amt("500"), Date: day(t, "2025-01-06")},
	)
	svc := newTestService(store)

	tests := []struct {
		name string
		req  LettrageRequest
		want error
	}{
		{"single line", LettrageRequest{LineIDs: []int64{1}, Account: "411000"}, ErrValidation},
		{"duplicate ids count once", LettrageRequest{LineIDs: []int64{1, 1}, Account: "411000"}, ErrValidation},
		{"missing account", LettrageRequest{LineIDs: []int64{1, 2}}, ErrValidation},
		{"not a third-party account", LettrageRequest{LineIDs: []int64{1, 2}, Account: "521000"}, ErrValidation},
		{"unknown line", LettrageRequest{LineIDs: []int64{1, 99}, Account: "411000"}, ErrValidation},
		{"other account", LettrageRequest{LineIDs: []int64{1, 3}, Account: "411000"}, ErrValidation},
		{"other third party", LettrageRequest{LineIDs: []int64{1, 4}, Account: "411000", ThirdPartyCode: "C001"}, ErrValidation},
		{"bad method", LettrageRequest{LineIDs: []int64{1, 2}, Account: "411000", Method: ledger.MethodAuto}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ExecuteLettrage(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	for id, l := range store.lines {
		assert.False(t, l.IsCleared(), "line %d", id)
	}
}

func TestExecuteLettrageNotBalanced(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "500", "0", "2025-01-05"),
		customerLine(t, 2, "0", "470", "2025-01-06"),
	)
	svc := newTestService(store)

	_, err := svc.ExecuteLettrage(ctx, LettrageRequest{LineIDs: []int64{1, 2}, Account: "411000"})
	require.ErrorIs(t, err, ErrNotBalanced)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, ce.Residual)
	assert.True(t, ce.Residual.Equal(amt("30")), "residual = %s", ce.Residual)

	assert.False(t, store.lines[1].IsCleared())
	assert.False(t, store.lines[2].IsCleared())
	assert.Empty(t, store.groups)
}

func TestExecuteLettrageWithinTolerance(t *testing.T) {
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "100.01", "0", "2025-01-05"),
		customerLine(t, 2, "0", "100", "2025-01-06"),
	)
	svc := newTestService(store)

	group, err := svc.ExecuteLettrage(context.Background(), LettrageRequest{LineIDs: []int64{1, 2}, Account: "411000"})
	require.NoError(t, err)
	assert.True(t, group.Residual.Equal(amt("0.01")))
}

func TestExecuteLettrageTwiceFailsAlreadyCleared(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "250", "0", "2025-01-05"),
		customerLine(t, 2, "0", "250", "2025-01-06"),
	)
	svc := newTestService(store)
	req := LettrageRequest{LineIDs: []int64{1, 2}, Account: "411000"}

	_, err := svc.ExecuteLettrage(ctx, req)
	require.NoError(t, err)

	_, err = svc.ExecuteLettrage(ctx, req)
	assert.ErrorIs(t, err, ErrAlreadyCleared)
	assert.Len(t, store.groups, 1)
}

func TestExecuteLettrageRollsBackConcurrentClear(t *testing.T) {
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "250", "0", "2025-01-05"),
		customerLine(t, 2, "0", "100", "2025-01-06"),
		customerLine(t, 3, "0", "150", "2025-01-07"),
	)
	store.raceLine = 3
	svc := newTestService(store)

	_, err := svc.ExecuteLettrage(context.Background(), LettrageRequest{LineIDs: []int64{1, 2, 3}, Account: "411000"})
	require.ErrorIs(t, err, ErrAlreadyCleared)

	for id, l := range store.lines {
		assert.False(t, l.IsCleared(), "line %d must not stay tagged", id)
	}
	assert.Empty(t, store.groups)
}

func TestExecuteLettrageSkipsCodesAlreadyInUse(t *testing.T) {
	store := newMemStore()
	imported := customerLine(t, 1, "10", "0", "2024-12-01")
	imported.ClearingCode = "A"
	store.addLines(
		imported,
		customerLine(t, 2, "80", "0", "2025-01-05"),
		customerLine(t, 3, "0", "80", "2025-01-06"),
	)
	svc := newTestService(store)

	group, err := svc.ExecuteLettrage(context.Background(), LettrageRequest{LineIDs: []int64{2, 3}, Account: "411000"})
	require.NoError(t, err)
	assert.Equal(t, "B", group.Code)
}

func TestCancelLettrageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "1000", "0", "2025-01-05"),
		customerLine(t, 2, "0", "600", "2025-01-12"),
		customerLine(t, 3, "0", "400", "2025-01-20"),
	)
	svc := newTestService(store)

	proposals, err := svc.ProposeLettrage(ctx, "411000", "C001")
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, []int64{1, 2, 3}, proposals[0].LineIDs())

	group, err := svc.ExecuteLettrage(ctx, LettrageRequest{LineIDs: proposals[0].LineIDs(), Account: "411000"})
	require.NoError(t, err)

	proposals, err = svc.ProposeLettrage(ctx, "411000", "C001")
	require.NoError(t, err)
	assert.Empty(t, proposals)

	require.NoError(t, svc.CancelLettrage(ctx, group.Code, "411000", "alice"))
	for _, l := range store.lines {
		assert.False(t, l.IsCleared())
		assert.Nil(t, l.ClearingDate)
	}

	proposals, err = svc.ProposeLettrage(ctx, "411000", "C001")
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, []int64{1, 2, 3}, proposals[0].LineIDs())

	again, err := svc.ExecuteLettrage(ctx, LettrageRequest{LineIDs: proposals[0].LineIDs(), Account: "411000"})
	require.NoError(t, err)
	assert.Equal(t, "B", again.Code, "cancelled codes are not reused")
}

func TestLettrageRestrictedToThirdPartyAccounts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		treasuryLine(t, 1, "500", "0", "2025-01-05", ""),
		treasuryLine(t, 2, "0", "500", "2025-01-06", ""),
		customerLine(t, 3, "500", "0", "2025-01-05"),
		ledger.Line{ID: 4, Account: "401000", ThirdPartyCode: "S001", Credit: amt("80"), Date: day(t, "2025-01-06")},
		ledger.Line{ID: 5, Account: "471000", Debit: amt("10"), Date: day(t, "2025-01-06"), ClearingCode: "A"},
	)
	svc := newTestService(store)

	_, err := svc.ProposeLettrage(ctx, "521000", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.AutoLettrage(ctx, "521000", "", "bot")
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, store.lines[1].IsCleared())

	accounts, err := svc.LettrageAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"401000", "411000"}, accounts)
}

func TestCancelLettrageUnknownCode(t *testing.T) {
	svc := newTestService(newMemStore())

	err := svc.CancelLettrage(context.Background(), "ZZ", "411000", "")
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.CancelLettrage(context.Background(), "", "411000", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAutoLettrage(t *testing.T) {
	store := newMemStore()
	store.addLines(
		customerLine(t, 1, "300", "0", "2025-01-05"),
		customerLine(t, 2, "0", "300", "2025-01-06"),
		customerLine(t, 3, "120", "0", "2025-01-07"),
		customerLine(t, 4, "0", "120", "2025-01-08"),
		customerLine(t, 5, "0", "75", "2025-01-09"),
	)
	svc := newTestService(store)

	result, err := svc.AutoLettrage(context.Background(), "411000", "", "bot")
	require.NoError(t, err)
	require.Len(t, result.Groups, 2)
	assert.Empty(t, result.Failures)

	for _, g := range result.Groups {
		assert.Equal(t, ledger.MethodAutomatic, g.Method)
		assert.Equal(t, "bot", g.Actor)
	}
	assert.False(t, store.lines[5].IsCleared())
}

func treasuryLine(t *testing.T, id int64, debit, credit, date, piece string) ledger.Line {
	return ledger.Line{
		ID:          id,
		Account:     "521000",
		PieceNumber: piece,
		Debit:       amt(debit),
		Credit:      amt(credit),
		Date:        day(t, date),
	}
}

func TestExecuteReconciliation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		treasuryLine(t, 10, "1000", "0", "2025-01-12", "FA-22"),
		customerLine(t, 11, "1000", "0", "2025-01-12"),
		treasuryLine(t, 12, "1000", "0", "2025-01-10", ""),
	)
	store.addBankLines(
		ledger.BankLine{ID: 1, Amount: amt("-1000"), OperationDate: day(t, "2025-01-10"), Reference: "FA-22"},
		ledger.BankLine{ID: 2, Amount: amt("-1000"), OperationDate: day(t, "2025-01-10")},
	)
	svc := newTestService(store)

	link, err := svc.ExecuteReconciliation(ctx, ReconciliationRequest{BankLineID: 1, LedgerLineID: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, link.ID)
	assert.True(t, link.Amount.Equal(amt("1000")))
	assert.Equal(t, ledger.MethodManual, link.Method)
	assert.Nil(t, link.Confidence)

	b := store.bank[1]
	assert.True(t, b.Reconciled)
	assert.Equal(t, link.ID, b.LinkID)

	tests := []struct {
		name string
		req  ReconciliationRequest
		want error
	}{
		{"bank line reconciled", ReconciliationRequest{BankLineID: 1, LedgerLineID: 10}, ErrAlreadyReconciled},
		{"ledger line linked", ReconciliationRequest{BankLineID: 2, LedgerLineID: 10}, ErrAlreadyReconciled},
		{"not a treasury line", ReconciliationRequest{BankLineID: 2, LedgerLineID: 11}, ErrValidation},
		{"unknown bank line", ReconciliationRequest{BankLineID: 99, LedgerLineID: 10}, ErrValidation},
		{"unknown ledger line", ReconciliationRequest{BankLineID: 2, LedgerLineID: 99}, ErrValidation},
		{"unknown session", ReconciliationRequest{BankLineID: 2, LedgerLineID: 12, SessionID: "nope"}, ErrValidation},
		{"negative amount", ReconciliationRequest{BankLineID: 2, LedgerLineID: 12, Amount: amt("-1")}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ExecuteReconciliation(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Len(t, store.links, 1)
	assert.False(t, store.bank[2].Reconciled)
}

func TestCancelReconciliation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(treasuryLine(t, 10, "0", "500", "2025-01-12", ""))
	store.addBankLines(ledger.BankLine{ID: 1, Amount: amt("500"), OperationDate: day(t, "2025-01-12")})
	svc := newTestService(store)

	link, err := svc.ExecuteReconciliation(ctx, ReconciliationRequest{BankLineID: 1, LedgerLineID: 10})
	require.NoError(t, err)

	result, err := svc.CancelReconciliation(ctx, link.ID)
	require.NoError(t, err)
	assert.False(t, result.BankLineMissing)
	assert.False(t, store.bank[1].Reconciled)
	assert.Empty(t, store.bank[1].LinkID)
	assert.Empty(t, store.links)

	_, err = svc.CancelReconciliation(ctx, link.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelReconciliationUnknownLink(t *testing.T) {
	svc := newTestService(newMemStore())

	result, err := svc.CancelReconciliation(context.Background(), "3f6d0c43-0000-4000-8000-000000000000")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelReconciliationWithoutBankLine(t *testing.T) {
	store := newMemStore()
	store.links["orphan"] = ledger.ReconciliationLink{ID: "orphan", BankLineID: 7, LedgerLineID: 10, Amount: amt("5")}
	svc := newTestService(store)

	result, err := svc.CancelReconciliation(context.Background(), "orphan")
	require.NoError(t, err)
	assert.True(t, result.BankLineMissing)
	assert.Equal(t, int64(7), result.Link.BankLineID)
	assert.Empty(t, store.links)
}

func TestAutoReconcile(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		treasuryLine(t, 10, "1000", "0", "2025-01-12", "FA-22"),
		treasuryLine(t, 11, "0", "250", "2025-01-11", ""),
		treasuryLine(t, 12, "0", "999", "2025-01-11", ""),
	)
	store.addBankLines(
		ledger.BankLine{ID: 1, Amount: amt("-1000"), OperationDate: day(t, "2025-01-10"), Reference: "FA-22"},
		ledger.BankLine{ID: 2, Amount: amt("250"), OperationDate: day(t, "2025-01-11")},
		ledger.BankLine{ID: 3, Amount: amt("42"), OperationDate: day(t, "2025-01-11")},
	)
	svc := newTestService(store)

	result, err := svc.AutoReconcile(ctx, "", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MatchedCount)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Pairs, 2)

	assert.Equal(t, int64(1), result.Pairs[0].BankLineID)
	assert.Equal(t, int64(10), result.Pairs[0].LedgerLineID)
	assert.Equal(t, 100, result.Pairs[0].Confidence)
	assert.Equal(t, int64(2), result.Pairs[1].BankLineID)
	assert.Equal(t, int64(11), result.Pairs[1].LedgerLineID)

	link := store.links[result.Pairs[0].LinkID]
	assert.Equal(t, ledger.MethodAuto, link.Method)
	require.NotNil(t, link.Confidence)
	assert.Equal(t, 100, *link.Confidence)
	assert.False(t, store.bank[3].Reconciled)

	again, err := svc.AutoReconcile(ctx, "", 5)
	require.NoError(t, err)
	assert.Zero(t, again.MatchedCount)
	assert.Len(t, store.links, 2)
}

func TestAutoReconcilePartialFailure(t *testing.T) {
	store := newMemStore()
	store.addLines(
		treasuryLine(t, 10, "100", "0", "2025-01-10", ""),
		treasuryLine(t, 11, "0", "250", "2025-01-11", ""),
	)
	store.addBankLines(
		ledger.BankLine{ID: 1, Amount: amt("-100"), OperationDate: day(t, "2025-01-10")},
		ledger.BankLine{ID: 2, Amount: amt("250"), OperationDate: day(t, "2025-01-11")},
	)
	store.failBankLine = 1
	svc := newTestService(store)

	result, err := svc.AutoReconcile(context.Background(), "", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, result.MatchedCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, int64(1), result.Failures[0].BankLineID)
	assert.ErrorIs(t, result.Failures[0].Err, ErrAlreadyReconciled)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, int64(2), result.Pairs[0].BankLineID)

	assert.Len(t, store.links, 1, "failed pair leaves no link behind")
	assert.True(t, store.bank[2].Reconciled)
}

func TestAutoReconcileSessionScope(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.sessions["s1"] = ledger.ReconciliationSession{
		ID:          "s1",
		BankAccount: "BNK01",
		PeriodStart: day(t, "2025-01-01"),
		PeriodEnd:   day(t, "2025-01-31"),
	}
	store.addLines(
		treasuryLine(t, 10, "0", "80", "2025-01-15", ""),
		treasuryLine(t, 11, "0", "80", "2025-02-15", ""),
	)
	store.addBankLines(
		ledger.BankLine{ID: 1, AccountID: "BNK01", Amount: amt("80"), OperationDate: day(t, "2025-01-15")},
		ledger.BankLine{ID: 2, AccountID: "BNK01", Amount: amt("80"), OperationDate: day(t, "2025-02-15")},
		ledger.BankLine{ID: 3, AccountID: "BNK02", Amount: amt("80"), OperationDate: day(t, "2025-01-15")},
	)
	svc := newTestService(store)

	result, err := svc.AutoReconcile(ctx, "s1", -1)
	require.NoError(t, err)
	require.Equal(t, 1, result.MatchedCount)
	assert.Equal(t, int64(1), result.Pairs[0].BankLineID)
	assert.Equal(t, int64(10), result.Pairs[0].LedgerLineID)
	assert.Equal(t, "s1", store.links[result.Pairs[0].LinkID].SessionID)

	_, err = svc.AutoReconcile(ctx, "missing", -1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSuggestMatches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addLines(
		treasuryLine(t, 10, "0", "300", "2025-01-14", ""),
		treasuryLine(t, 11, "0", "300", "2025-01-10", "VIR-7"),
		treasuryLine(t, 12, "0", "300", "2025-01-11", ""),
		treasuryLine(t, 13, "0", "301", "2025-01-10", ""),
	)
	store.addBankLines(ledger.BankLine{ID: 1, Amount: amt("300"), OperationDate: day(t, "2025-01-10"), Reference: "VIR-7 ACME"})
	svc := newTestService(store)

	suggestions, err := svc.SuggestMatches(ctx, 1, 5, 0)
	require.NoError(t, err)
	require.Len(t, suggestions, 3)
	assert.Equal(t, int64(11), suggestions[0].Line.ID)
	assert.Equal(t, 100, suggestions[0].Confidence)
	assert.Equal(t, int64(12), suggestions[1].Line.ID)
	assert.Equal(t, int64(10), suggestions[2].Line.ID)

	limited, err := svc.SuggestMatches(ctx, 1, 5, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.Empty(t, store.links)

	_, err = svc.SuggestMatches(ctx, 42, 5, 0)
	assert.ErrorIs(t, err, ErrValidation)
}
