// Package importer reads bank statements and ledger extracts from CSV files.
//
// Both formats start with a header row; columns are matched by name, case-insensitively,
// so their order is free. Dates are YYYY-MM-DD and amounts are decimal strings.
//
// Bank statement columns: date (required), value_date, label, reference, amount (required),
// balance, account.
//
// Ledger columns: date, account, debit and credit (required), entry_id, piece, journal,
// label, third_party_code, third_party_name.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// header maps lower-cased column names to their index.
type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	row, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := make(header, len(row))
	for i, name := range row {
		h[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := h[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return h, nil
}

func (h header) get(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader
}

// ReadBankLines parses a bank statement. accountID is used for rows without an account
// column value.
func ReadBankLines(r io.Reader, accountID string) ([]ledger.BankLine, error) {
	reader := newReader(r)
	h, err := readHeader(reader, "date", "amount")
	if err != nil {
		return nil, err
	}

	var lines []ledger.BankLine
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", row, err)
		}

		date, err := ledger.ParseDate(h.get(record, "date"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		amount, err := parseAmount(h.get(record, "amount"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		b := ledger.BankLine{
			OperationDate: date,
			Label:         h.get(record, "label"),
			Reference:     h.get(record, "reference"),
			Amount:        amount,
			AccountID:     h.get(record, "account"),
		}
		if b.AccountID == "" {
			b.AccountID = accountID
		}
		if v := h.get(record, "value_date"); v != "" {
			vd, err := ledger.ParseDate(v)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", row, err)
			}
			b.ValueDate = &vd
		}
		if v := h.get(record, "balance"); v != "" {
			balance, err := parseAmount(v)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", row, err)
			}
			b.Balance = decimal.NewNullDecimal(balance)
		}
		lines = append(lines, b)
	}
	return lines, nil
}

// ReadLedgerLines parses a ledger extract. Every line is validated.
func ReadLedgerLines(r io.Reader) ([]ledger.Line, error) {
	reader := newReader(r)
	h, err := readHeader(reader, "date", "account", "debit", "credit")
	if err != nil {
		return nil, err
	}

	var lines []ledger.Line
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", row, err)
		}

		date, err := ledger.ParseDate(h.get(record, "date"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		debit, err := parseAmount(h.get(record, "debit"))
		if err != nil {
			return nil, fmt.Errorf("row %d: debit: %w", row, err)
		}
		credit, err := parseAmount(h.get(record, "credit"))
		if err != nil {
			return nil, fmt.Errorf("row %d: credit: %w", row, err)
		}
		var entryID int64
		if v := h.get(record, "entry_id"); v != "" {
			if entryID, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("row %d: invalid entry_id %q", row, v)
			}
		}

		line := ledger.Line{
			EntryID:        entryID,
			PieceNumber:    h.get(record, "piece"),
			Date:           date,
			JournalCode:    h.get(record, "journal"),
			Account:        h.get(record, "account"),
			Label:          h.get(record, "label"),
			ThirdPartyCode: h.get(record, "third_party_code"),
			ThirdPartyName: h.get(record, "third_party_name"),
			Debit:          debit,
			Credit:         credit,
		}
		if err := line.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ReadBankFile opens path and parses it with ReadBankLines.
func ReadBankFile(path, accountID string) ([]ledger.BankLine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bank statement file %s: %w", path, err)
	}
	defer file.Close()

	lines, err := ReadBankLines(file, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}

// ReadLedgerFile opens path and parses it with ReadLedgerLines.
func ReadLedgerFile(path string) ([]ledger.Line, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file %s: %w", path, err)
	}
	defer file.Close()

	lines, err := ReadLedgerLines(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}

// digitGrouping drops the spaces banks put between thousands, including the no-break
// (U+00A0) and narrow no-break (U+202F) spaces of French exports.
var digitGrouping = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "")

// parseAmount parses a decimal amount. An empty value is zero. Commas are thousands
// separators when a dot is present and the decimal separator otherwise.
func parseAmount(s string) (decimal.Decimal, error) {
	s = digitGrouping.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse amount '%s'", s)
	}
	return d, nil
}
