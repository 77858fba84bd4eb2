package cmd

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/report"
)

var (
	sessionFrom    string
	sessionTo      string
	sessionAccount string
	sessionOpening string
	sessionClosing string
	sessionID      string
)

// sessionCmd groups the reconciliation session commands.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Record and inspect bank reconciliation sessions",
	Long: `A session records the statement balances of one bank account for a period,
the treasury ledger balance over the same period and the variance between them.

Example:
  clearing session create --account BNK01 --from 2025-01-01 --to 2025-01-31 --opening 1200 --closing 950.40
  clearing session show --id 6f0c...`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Compute and record a reconciliation session",
	Run:   runSessionCreate,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a session with its variance recomputed",
	Run:   runSessionShow,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	Run:   runSessionList,
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionAccount, "account", "", "Bank account id (required)")
	sessionCreateCmd.Flags().StringVar(&sessionFrom, "from", "", "Period start (YYYY-MM-DD) (required)")
	sessionCreateCmd.Flags().StringVar(&sessionTo, "to", "", "Period end (YYYY-MM-DD) (required)")
	sessionCreateCmd.Flags().StringVar(&sessionOpening, "opening", "0", "Statement opening balance")
	sessionCreateCmd.Flags().StringVar(&sessionClosing, "closing", "", "Statement closing balance (required)")
	sessionCreateCmd.MarkFlagRequired("account")
	sessionCreateCmd.MarkFlagRequired("from")
	sessionCreateCmd.MarkFlagRequired("to")
	sessionCreateCmd.MarkFlagRequired("closing")

	sessionShowCmd.Flags().StringVar(&sessionID, "id", "", "Session id (required)")
	sessionShowCmd.MarkFlagRequired("id")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionListCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) {
	opening, err := decimal.NewFromString(sessionOpening)
	exitOnError(err, "invalid --opening")
	closing, err := decimal.NewFromString(sessionClosing)
	exitOnError(err, "invalid --closing")

	e := openEngine()
	defer e.Close()

	s, err := e.reporter.ComputeSession(context.Background(), report.SessionInput{
		PeriodStart:      parseDateFlag("from", sessionFrom),
		PeriodEnd:        parseDateFlag("to", sessionTo),
		BankAccount:      sessionAccount,
		StatementOpening: opening,
		StatementClosing: closing,
	})
	exitOnError(err, "failed to compute session")

	if jsonOutput {
		printJSON(s)
		return
	}
	printSession(*s)
}

func runSessionShow(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	r, err := e.reporter.SessionReport(context.Background(), sessionID)
	exitOnError(err, "failed to load session")

	if jsonOutput {
		printJSON(r)
		return
	}
	printSession(r.Session)
	fmt.Printf("Current balance:   %s\n", r.CurrentBalance.StringFixed(2))
	fmt.Printf("Current variance:  %s\n", r.CurrentVariance.StringFixed(2))
	fmt.Printf("Links:             %d (%s)\n", len(r.Links), r.ReconciledAmount.StringFixed(2))
	fmt.Println()
}

func runSessionList(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	sessions, err := e.store.ListSessions(context.Background())
	exitOnError(err, "failed to list sessions")

	if jsonOutput {
		printJSON(sessions)
		return
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tACCOUNT\tFROM\tTO\tCLOSING\tLEDGER\tVARIANCE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.BankAccount,
			ledger.FormatDate(s.PeriodStart),
			ledger.FormatDate(s.PeriodEnd),
			s.StatementClosing.StringFixed(2),
			s.LedgerBalance.StringFixed(2),
			s.Variance.StringFixed(2),
		)
	}
	w.Flush()
}

func printSession(s ledger.ReconciliationSession) {
	fmt.Printf("\n=== Session %s ===\n", s.ID)
	fmt.Printf("Bank account:      %s\n", s.BankAccount)
	fmt.Printf("Period:            %s to %s\n", ledger.FormatDate(s.PeriodStart), ledger.FormatDate(s.PeriodEnd))
	fmt.Printf("Statement opening: %s\n", s.StatementOpening.StringFixed(2))
	fmt.Printf("Statement closing: %s\n", s.StatementClosing.StringFixed(2))
	fmt.Printf("Ledger balance:    %s\n", s.LedgerBalance.StringFixed(2))
	fmt.Printf("Variance:          %s\n", s.Variance.StringFixed(2))
}
