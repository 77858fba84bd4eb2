// Package chart maps the chart of accounts onto the classes the clearing engine needs:
// treasury accounts for bank reconciliation, third-party accounts for lettrage, and the
// ledger account behind each bank statement source.
package chart

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
)

// BankAccountMapping links a bank statement source to its treasury ledger account.
type BankAccountMapping struct {
	ID            string `yaml:"id"`
	LedgerAccount string `yaml:"ledger_account"`
	Name          string `yaml:"name"`
}

// ChartConfig represents the chart configuration file.
type ChartConfig struct {
	Treasury struct {
		Prefixes []string `yaml:"prefixes"`
	} `yaml:"treasury"`
	ThirdParty struct {
		Prefixes []string `yaml:"prefixes"`
	} `yaml:"third_party"`
	BankAccounts []BankAccountMapping `yaml:"bank_accounts"`
}

// Chart answers account class questions.
type Chart struct {
	config   ChartConfig
	bankToGL map[string]string
}

// DefaultTreasuryPrefixes are the SYSCOHADA class 5 accounts holding cash: banks (52),
// financial institutions (53) and cash on hand (57).
var DefaultTreasuryPrefixes = []string{"52", "53", "57"}

// DefaultThirdPartyPrefixes are the SYSCOHADA class 4 sub-ledger accounts: suppliers (40),
// customers (41), staff (42), social bodies (43), state (44) and sundry debtors/creditors (47).
var DefaultThirdPartyPrefixes = []string{"40", "41", "42", "43", "44", "47"}

// Default returns the built-in SYSCOHADA chart with no bank account mappings.
func Default() *Chart {
	var cfg ChartConfig
	cfg.Treasury.Prefixes = append([]string(nil), DefaultTreasuryPrefixes...)
	cfg.ThirdParty.Prefixes = append([]string(nil), DefaultThirdPartyPrefixes...)
	return newChart(cfg)
}

// Load reads a chart from a YAML file. An empty path yields Default.
// Missing prefix lists fall back to the defaults.
func Load(path string) (*Chart, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart file: %w", err)
	}

	return Parse(data)
}

// Parse builds a chart from YAML content.
func Parse(data []byte) (*Chart, error) {
	var cfg ChartConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(cfg.Treasury.Prefixes) == 0 {
		cfg.Treasury.Prefixes = append([]string(nil), DefaultTreasuryPrefixes...)
	}
	if len(cfg.ThirdParty.Prefixes) == 0 {
		cfg.ThirdParty.Prefixes = append([]string(nil), DefaultThirdPartyPrefixes...)
	}

	seen := make(map[string]bool)
	for _, b := range cfg.BankAccounts {
		if b.ID == "" || b.LedgerAccount == "" {
			return nil, fmt.Errorf("bank account mapping requires id and ledger_account: %+v", b)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate bank account id: %s", b.ID)
		}
		seen[b.ID] = true
		if !ledger.HasAnyPrefix(b.LedgerAccount, cfg.Treasury.Prefixes) {
			return nil, fmt.Errorf("bank account %s maps to non-treasury account %s", b.ID, b.LedgerAccount)
		}
	}

	return newChart(cfg), nil
}

func newChart(cfg ChartConfig) *Chart {
	c := &Chart{
		config:   cfg,
		bankToGL: make(map[string]string, len(cfg.BankAccounts)),
	}
	for _, b := range cfg.BankAccounts {
		c.bankToGL[b.ID] = b.LedgerAccount
	}
	return c
}

// TreasuryPrefixes returns the account prefixes of the treasury class.
func (c *Chart) TreasuryPrefixes() []string {
	return append([]string(nil), c.config.Treasury.Prefixes...)
}

// IsTreasury reports whether account belongs to the treasury class.
func (c *Chart) IsTreasury(account string) bool {
	return ledger.HasAnyPrefix(account, c.config.Treasury.Prefixes)
}

// IsThirdParty reports whether account is a third-party sub-ledger account.
func (c *Chart) IsThirdParty(account string) bool {
	return ledger.HasAnyPrefix(account, c.config.ThirdParty.Prefixes)
}

// ThirdPartyPrefixes returns the account prefixes lettrage runs on.
func (c *Chart) ThirdPartyPrefixes() []string {
	return append([]string(nil), c.config.ThirdParty.Prefixes...)
}

// LedgerAccountFor returns the treasury ledger account mapped to a bank account id.
// An unmapped id that is itself a treasury account number maps to itself; otherwise
// it returns an empty string.
func (c *Chart) LedgerAccountFor(bankAccountID string) string {
	if gl, ok := c.bankToGL[bankAccountID]; ok {
		return gl
	}
	if c.IsTreasury(bankAccountID) {
		return bankAccountID
	}
	return ""
}

// Compatible reports whether a bank line may pair with a ledger line: the ledger line must be
// on a treasury account and, when the bank line's source is mapped, on that very account.
func (c *Chart) Compatible(bank ledger.BankLine, line ledger.Line) bool {
	if !c.IsTreasury(line.Account) {
		return false
	}
	if gl := c.LedgerAccountFor(bank.AccountID); gl != "" {
		return gl == line.Account
	}
	return true
}

// HasBankAccount reports whether id names a bank statement source. Without mappings any id
// is accepted; otherwise id must be mapped or be a treasury account number itself.
func (c *Chart) HasBankAccount(id string) bool {
	if len(c.bankToGL) == 0 {
		return true
	}
	return c.LedgerAccountFor(id) != ""
}

// BankAccounts returns the configured bank account mappings ordered by id.
func (c *Chart) BankAccounts() []BankAccountMapping {
	out := append([]BankAccountMapping(nil), c.config.BankAccounts...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
