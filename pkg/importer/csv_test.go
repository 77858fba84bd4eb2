package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1200.50", want: "1200.50"},
		{in: "-1000", want: "-1000"},
		{in: "1,234.56", want: "1234.56"},
		{in: "1234,56", want: "1234.56"},
		{in: "1 234,56", want: "1234.56"},
		{in: "1\u00a0000,50", want: "1000.50"},
		{in: "1\u202f234\u202f567,89", want: "1234567.89"},
		{in: "-2\u00a0500", want: "-2500"},
		{in: "", want: "0"},
		{in: "  ", want: "0"},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestReadBankLines(t *testing.T) {
	input := "\ufeffDate,Label,Reference,Amount,Balance,Value_Date\n" +
		"2025-01-10,VIR ACME,FA-22,-1000,2500.75,2025-01-11\n" +
		"2025-01-11,\"PRLV EDF, janvier\",,250,,\n"

	lines, err := ReadBankLines(strings.NewReader(input), "BNK01")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, "BNK01", first.AccountID)
	assert.Equal(t, "VIR ACME", first.Label)
	assert.Equal(t, "FA-22", first.Reference)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-1000")))
	require.True(t, first.Balance.Valid)
	assert.True(t, first.Balance.Decimal.Equal(decimal.RequireFromString("2500.75")))
	require.NotNil(t, first.ValueDate)
	assert.Equal(t, "2025-01-11", ledger.FormatDate(*first.ValueDate))
	assert.False(t, first.Reconciled)

	second := lines[1]
	assert.Equal(t, "PRLV EDF, janvier", second.Label)
	assert.Empty(t, second.Reference)
	assert.False(t, second.Balance.Valid)
	assert.Nil(t, second.ValueDate)
}

func TestReadBankLinesAccountColumn(t *testing.T) {
	input := "date,amount,account\n2025-01-10,10,BNK02\n2025-01-11,20,\n"

	lines, err := ReadBankLines(strings.NewReader(input), "BNK01")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "BNK02", lines[0].AccountID)
	assert.Equal(t, "BNK01", lines[1].AccountID)
}

func TestReadBankLinesErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "missing header row"},
		{"missing amount column", "date,label\n2025-01-10,x\n", `missing required column "amount"`},
		{"bad date", "date,amount\n10/01/2025,5\n", "row 2"},
		{"bad amount", "date,amount\n2025-01-10,5\n2025-01-11,five\n", "row 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBankLines(strings.NewReader(tt.input), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadLedgerLines(t *testing.T) {
	input := "date,journal,piece,account,label,third_party_code,third_party_name,debit,credit,entry_id\n" +
		"2025-01-05,VT,FA-1,411000,Facture 1,C001,ACME,1200.50,,17\n" +
		"2025-01-20,BQ,RG-1,411000,Reglement,C001,ACME,,1200.50,18\n"

	lines, err := ReadLedgerLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, ledger.Line{
		EntryID:        17,
		PieceNumber:    "FA-1",
		Date:           lines[0].Date,
		JournalCode:    "VT",
		Account:        "411000",
		Label:          "Facture 1",
		ThirdPartyCode: "C001",
		ThirdPartyName: "ACME",
		Debit:          lines[0].Debit,
		Credit:         lines[0].Credit,
	}, lines[0])
	assert.Equal(t, "2025-01-05", ledger.FormatDate(lines[0].Date))
	assert.True(t, lines[0].Debit.Equal(decimal.RequireFromString("1200.50")))
	assert.True(t, lines[0].Credit.IsZero())
	assert.True(t, lines[1].IsCredit())
	assert.False(t, lines[1].IsCleared())
}

func TestReadLedgerLinesErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"missing credit column", "date,account,debit\n2025-01-05,411000,10\n", `missing required column "credit"`},
		{"both sides", "date,account,debit,credit\n2025-01-05,411000,10,10\n", "both debit and credit"},
		{"negative", "date,account,debit,credit\n2025-01-05,411000,-10,\n", "negative amount"},
		{"missing account", "date,account,debit,credit\n2025-01-05,,10,\n", "missing account"},
		{"bad entry id", "date,account,debit,credit,entry_id\n2025-01-05,411000,10,,x\n", "invalid entry_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLedgerLines(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	bankPath := filepath.Join(dir, "statement.csv")
	require.NoError(t, os.WriteFile(bankPath, []byte("date,amount\n2025-01-10,42\n"), 0644))

	bank, err := ReadBankFile(bankPath, "BNK01")
	require.NoError(t, err)
	require.Len(t, bank, 1)
	assert.Equal(t, "BNK01", bank[0].AccountID)

	_, err = ReadLedgerFile(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	ledgerPath := filepath.Join(dir, "ledger.csv")
	require.NoError(t, os.WriteFile(ledgerPath, []byte("date,account,debit,credit\n2025-01-10,521000,,42\n"), 0644))
	lines, err := ReadLedgerFile(ledgerPath)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "521000", lines[0].Account)
}
