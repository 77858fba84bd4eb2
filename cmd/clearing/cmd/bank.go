package cmd

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/clearing"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/report"
)

var (
	bankSessionID     string
	bankToleranceDays int
	bankLineID        int64
	bankLedgerLineID  int64
	bankAmount        string
	bankMethod        string
	bankConfidence    int
	bankLinkID        string
	bankLimit         int
	bankAccountID     string
	bankFrom          string
	bankTo            string
	bankUnreconciled  bool
)

// bankCmd groups the bank reconciliation commands.
var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Reconcile bank statement lines with treasury ledger lines",
	Long: `Bank reconciliation pairs each bank statement line with one treasury ledger line.
Pairs are scored on amount, date proximity and reference overlap.

Example:
  clearing bank auto --session 6f0c... --tolerance-days 5
  clearing bank suggest --bank-line 42
  clearing bank link --bank-line 42 --ledger-line 318
  clearing bank unlink --link 0b9e...`,
}

var bankAutoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Reconcile every unreconciled bank line with its best match",
	Run:   runBankAuto,
}

var bankLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Reconcile one bank line with one ledger line",
	Run:   runBankLink,
}

var bankUnlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Cancel a reconciliation link",
	Run:   runBankUnlink,
}

var bankSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Rank the ledger lines a bank line could pair with (no changes)",
	Run:   runBankSuggest,
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bank statement lines",
	Run:   runBankList,
}

var bankAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the bank accounts mapped in the chart of accounts",
	Run:   runBankAccounts,
}

var bankStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display reconciliation statistics",
	Run:   runBankStats,
}

func init() {
	for _, c := range []*cobra.Command{bankAutoCmd, bankSuggestCmd} {
		c.Flags().IntVar(&bankToleranceDays, "tolerance-days", -1, "Date window in days (default from configuration)")
	}
	bankAutoCmd.Flags().StringVar(&bankSessionID, "session", "", "Restrict to a reconciliation session")

	bankLinkCmd.Flags().Int64Var(&bankLineID, "bank-line", 0, "Bank statement line id (required)")
	bankLinkCmd.Flags().Int64Var(&bankLedgerLineID, "ledger-line", 0, "Ledger line id (required)")
	bankLinkCmd.Flags().StringVar(&bankSessionID, "session", "", "Reconciliation session id")
	bankLinkCmd.Flags().StringVar(&bankAmount, "amount", "", "Matched amount (default is the bank line amount)")
	bankLinkCmd.Flags().StringVar(&bankMethod, "method", string(ledger.MethodManual), "manual or suggestion")
	bankLinkCmd.Flags().IntVar(&bankConfidence, "confidence", -1, "Confidence 0-100 for suggestion links")
	bankLinkCmd.MarkFlagRequired("bank-line")
	bankLinkCmd.MarkFlagRequired("ledger-line")

	bankUnlinkCmd.Flags().StringVar(&bankLinkID, "link", "", "Reconciliation link id (required)")
	bankUnlinkCmd.MarkFlagRequired("link")

	bankSuggestCmd.Flags().Int64Var(&bankLineID, "bank-line", 0, "Bank statement line id (required)")
	bankSuggestCmd.Flags().IntVar(&bankLimit, "limit", 5, "Maximum number of suggestions (0 for all)")
	bankSuggestCmd.MarkFlagRequired("bank-line")

	for _, c := range []*cobra.Command{bankListCmd, bankStatsCmd} {
		c.Flags().StringVar(&bankAccountID, "account", "", "Bank account id")
		c.Flags().StringVar(&bankFrom, "from", "", "Start date (YYYY-MM-DD)")
		c.Flags().StringVar(&bankTo, "to", "", "End date (YYYY-MM-DD)")
	}
	bankListCmd.Flags().BoolVar(&bankUnreconciled, "unreconciled", false, "Only unreconciled lines")

	bankCmd.AddCommand(bankAutoCmd)
	bankCmd.AddCommand(bankLinkCmd)
	bankCmd.AddCommand(bankUnlinkCmd)
	bankCmd.AddCommand(bankSuggestCmd)
	bankCmd.AddCommand(bankListCmd)
	bankCmd.AddCommand(bankStatsCmd)
	bankCmd.AddCommand(bankAccountsCmd)
}

// checkBankAccount rejects a --account the chart does not know.
func checkBankAccount(e *engine, id string) {
	if id != "" && !e.chart.HasBankAccount(id) {
		exitOnError(clearing.NewError(clearing.KindValidation, "bank account %s is not in the chart", id), "invalid arguments")
	}
}

type pairView struct {
	BankLineID   int64  `json:"bank_line_id"`
	LedgerLineID int64  `json:"ledger_line_id"`
	Confidence   int    `json:"confidence"`
	LinkID       string `json:"link_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

func runBankAuto(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	result, err := e.service.AutoReconcile(context.Background(), bankSessionID, bankToleranceDays)
	exitOnError(err, "auto-reconciliation failed")

	var views []pairView
	for _, p := range result.Pairs {
		views = append(views, pairView{BankLineID: p.BankLineID, LedgerLineID: p.LedgerLineID, Confidence: p.Confidence, LinkID: p.LinkID})
	}
	for _, p := range result.Failures {
		views = append(views, pairView{BankLineID: p.BankLineID, LedgerLineID: p.LedgerLineID, Confidence: p.Confidence, Error: p.Err.Error()})
	}

	if jsonOutput {
		printJSON(map[string]any{"matched_count": result.MatchedCount, "pairs": views})
		return
	}
	w := newTable()
	fmt.Fprintln(w, "BANK LINE\tLEDGER LINE\tCONFIDENCE\tRESULT")
	for _, v := range views {
		status := v.LinkID
		if v.Error != "" {
			status = "failed: " + v.Error
		}
		fmt.Fprintf(w, "%d\t%d\t%d%%\t%s\n", v.BankLineID, v.LedgerLineID, v.Confidence, status)
	}
	w.Flush()
	fmt.Printf("\nMatched %d bank lines, %d failed\n", result.MatchedCount, len(result.Failures))
}

func runBankLink(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	req := clearing.ReconciliationRequest{
		BankLineID:   bankLineID,
		LedgerLineID: bankLedgerLineID,
		SessionID:    bankSessionID,
		Method:       ledger.Method(bankMethod),
	}
	if bankAmount != "" {
		amount, err := decimal.NewFromString(bankAmount)
		exitOnError(err, "invalid --amount")
		req.Amount = amount
	}
	if bankConfidence >= 0 {
		req.Confidence = &bankConfidence
	}

	link, err := e.service.ExecuteReconciliation(context.Background(), req)
	exitOnError(err, "reconciliation failed")

	if jsonOutput {
		printJSON(link)
		return
	}
	fmt.Printf("Bank line %d reconciled with ledger line %d (link %s)\n", link.BankLineID, link.LedgerLineID, link.ID)
}

func runBankUnlink(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	result, err := e.service.CancelReconciliation(context.Background(), bankLinkID)
	exitOnError(err, "failed to cancel reconciliation")

	if jsonOutput {
		printJSON(map[string]any{"link_id": result.Link.ID, "bank_line_missing": result.BankLineMissing})
		return
	}
	if result.BankLineMissing {
		fmt.Printf("Link %s removed; bank line %d was not found\n", result.Link.ID, result.Link.BankLineID)
		return
	}
	fmt.Printf("Link %s removed; bank line %d is unreconciled\n", result.Link.ID, result.Link.BankLineID)
}

func runBankSuggest(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	suggestions, err := e.service.SuggestMatches(context.Background(), bankLineID, bankToleranceDays, bankLimit)
	exitOnError(err, "failed to suggest matches")

	if jsonOutput {
		printJSON(suggestions)
		return
	}
	if len(suggestions) == 0 {
		fmt.Println("No eligible ledger lines")
		return
	}
	w := newTable()
	fmt.Fprintln(w, "LEDGER LINE\tDATE\tACCOUNT\tPIECE\tLABEL\tAMOUNT\tCONFIDENCE")
	for _, s := range suggestions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d%%\n",
			s.Line.ID,
			ledger.FormatDate(s.Line.Date),
			s.Line.Account,
			s.Line.PieceNumber,
			s.Line.Label,
			s.Line.BankAmount().StringFixed(2),
			s.Confidence,
		)
	}
	w.Flush()
}

func runBankList(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()
	checkBankAccount(e, bankAccountID)

	filter := ledger.BankLineFilter{
		AccountID: bankAccountID,
		Dates:     ledger.DateRange{From: parseDateFlag("from", bankFrom), To: parseDateFlag("to", bankTo)},
	}
	if bankUnreconciled {
		unreconciled := false
		filter.Reconciled = &unreconciled
	}
	lines, err := e.store.ListBankLines(context.Background(), filter)
	exitOnError(err, "failed to list bank lines")

	if jsonOutput {
		printJSON(lines)
		return
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tACCOUNT\tDATE\tREFERENCE\tLABEL\tAMOUNT\tLINK")
	for _, b := range lines {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID,
			b.AccountID,
			ledger.FormatDate(b.OperationDate),
			b.Reference,
			b.Label,
			b.Amount.StringFixed(2),
			b.LinkID,
		)
	}
	w.Flush()
}

func runBankStats(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()
	checkBankAccount(e, bankAccountID)

	stats, err := e.reporter.ReconciliationStats(context.Background(), report.Scope{
		BankAccount: bankAccountID,
		Dates:       ledger.DateRange{From: parseDateFlag("from", bankFrom), To: parseDateFlag("to", bankTo)},
	})
	exitOnError(err, "failed to get statistics")

	if jsonOutput {
		printJSON(stats)
		return
	}
	fmt.Println("\n=== Reconciliation Statistics ===")
	fmt.Printf("Statement lines:     %d (%d reconciled)\n", stats.StatementTotal, stats.StatementReconciled)
	fmt.Printf("Ledger lines:        %d (%d reconciled)\n", stats.LedgerTotal, stats.LedgerReconciled)
	fmt.Printf("Statement balance:   %s\n", stats.StatementBalance.StringFixed(2))
	fmt.Printf("Ledger balance:      %s\n", stats.LedgerBalance.StringFixed(2))
	fmt.Printf("Variance:            %s\n", stats.Variance.StringFixed(2))
	fmt.Printf("Reconciliation rate: %d%%\n", stats.ReconciliationRate)
	fmt.Println()
}

func runBankAccounts(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	accounts := e.chart.BankAccounts()
	if jsonOutput {
		printJSON(accounts)
		return
	}
	if len(accounts) == 0 {
		fmt.Println("No bank accounts mapped")
		return
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tLEDGER ACCOUNT\tNAME")
	for _, b := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.LedgerAccount, b.Name)
	}
	w.Flush()
}
