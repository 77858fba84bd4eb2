package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/clearing"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/matching"
)

var (
	lettrageAccount    string
	lettrageThirdParty string
	lettrageLines      []int64
	lettrageCode       string
	lettrageActor      string
	lettrageAll        bool
)

// lettrageCmd groups the lettrage commands.
var lettrageCmd = &cobra.Command{
	Use:   "lettrage",
	Short: "Clear balanced ledger lines within an account",
	Long: `Lettrage marks two or more open lines of one account whose debits and credits
balance (within 0.01) with a shared clearing code, such as an invoice and its payment.

Without --account, propose and auto run over every third-party account of the
chart that still has open lines.

Example:
  clearing lettrage propose --account 411000 --third-party C001
  clearing lettrage auto
  clearing lettrage execute --account 411000 --lines 12,15,16
  clearing lettrage cancel --account 411000 --code AB`,
}

var lettrageProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "List balanced groupings of open lines (no changes)",
	Run:   runLettragePropose,
}

var lettrageExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Clear the given lines under a new clearing code",
	Run:   runLettrageExecute,
}

var lettrageAutoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Execute every proposed grouping of an account",
	Run:   runLettrageAuto,
}

var lettrageCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Remove a clearing code from its lines",
	Run:   runLettrageCancel,
}

var lettrageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display lettrage completion for an account",
	Run:   runLettrageStats,
}

var lettrageHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List the clearing groups recorded for an account",
	Run:   runLettrageHistory,
}

func init() {
	lettrageCmd.PersistentFlags().StringVar(&lettrageAccount, "account", "", "Third-party ledger account number")

	for _, c := range []*cobra.Command{lettrageProposeCmd, lettrageExecuteCmd, lettrageAutoCmd} {
		c.Flags().StringVar(&lettrageThirdParty, "third-party", "", "Third party code")
	}
	for _, c := range []*cobra.Command{lettrageExecuteCmd, lettrageAutoCmd, lettrageCancelCmd} {
		c.Flags().StringVar(&lettrageActor, "actor", defaultActor(), "Operator recorded on the clearing group")
	}

	lettrageExecuteCmd.Flags().Int64SliceVar(&lettrageLines, "lines", nil, "Ledger line ids, comma separated (required)")
	lettrageExecuteCmd.MarkFlagRequired("lines")

	lettrageCancelCmd.Flags().StringVar(&lettrageCode, "code", "", "Clearing code (required)")
	lettrageCancelCmd.MarkFlagRequired("code")

	lettrageHistoryCmd.Flags().BoolVar(&lettrageAll, "all", false, "Include cancelled groups")

	lettrageCmd.AddCommand(lettrageProposeCmd)
	lettrageCmd.AddCommand(lettrageExecuteCmd)
	lettrageCmd.AddCommand(lettrageAutoCmd)
	lettrageCmd.AddCommand(lettrageCancelCmd)
	lettrageCmd.AddCommand(lettrageStatsCmd)
	lettrageCmd.AddCommand(lettrageHistoryCmd)
}

type groupView struct {
	Code           string          `json:"code,omitempty"`
	Account        string          `json:"account"`
	ThirdPartyCode string          `json:"third_party_code,omitempty"`
	LineIDs        []int64         `json:"line_ids"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	Residual       decimal.Decimal `json:"residual"`
	Score          float64         `json:"score,omitempty"`
	Method         ledger.Method   `json:"method,omitempty"`
	Actor          string          `json:"actor,omitempty"`
}

func proposalView(g matching.Group) groupView {
	return groupView{
		Account:        g.Account,
		ThirdPartyCode: g.ThirdPartyCode,
		LineIDs:        g.LineIDs(),
		TotalDebit:     g.TotalDebit,
		TotalCredit:    g.TotalCredit,
		Residual:       g.Residual,
		Score:          g.Score,
	}
}

func clearingGroupView(g ledger.ClearingGroup) groupView {
	return groupView{
		Code:           g.Code,
		Account:        g.Account,
		ThirdPartyCode: g.ThirdPartyCode,
		LineIDs:        g.LineIDs,
		TotalDebit:     g.TotalDebit,
		TotalCredit:    g.TotalCredit,
		Residual:       g.Residual,
		Method:         g.Method,
		Actor:          g.Actor,
	}
}

func printGroups(groups []groupView) {
	if jsonOutput {
		printJSON(groups)
		return
	}
	if len(groups) == 0 {
		fmt.Println("No groups")
		return
	}
	w := newTable()
	fmt.Fprintln(w, "CODE\tTHIRD PARTY\tLINES\tDEBIT\tCREDIT\tRESIDUAL\tSCORE")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.3f\n",
			g.Code,
			g.ThirdPartyCode,
			formatIDs(g.LineIDs),
			g.TotalDebit.StringFixed(2),
			g.TotalCredit.StringFixed(2),
			g.Residual.StringFixed(2),
			g.Score,
		)
	}
	w.Flush()
}

// lettrageAccounts returns --account, or every third-party account with open lines.
func lettrageAccounts(ctx context.Context, e *engine) []string {
	if lettrageAccount != "" {
		return []string{lettrageAccount}
	}
	accounts, err := e.service.LettrageAccounts(ctx)
	exitOnError(err, "failed to list third-party accounts")
	return accounts
}

func requireLettrageAccount() {
	if lettrageAccount == "" {
		exitOnError(clearing.NewError(clearing.KindValidation, "--account is required"), "invalid arguments")
	}
}

func runLettragePropose(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	ctx := context.Background()
	var views []groupView
	for _, account := range lettrageAccounts(ctx, e) {
		groups, err := e.service.ProposeLettrage(ctx, account, lettrageThirdParty)
		exitOnError(err, "failed to propose lettrage")
		for _, g := range groups {
			views = append(views, proposalView(g))
		}
	}
	printGroups(views)
}

func runLettrageExecute(cmd *cobra.Command, args []string) {
	requireLettrageAccount()
	e := openEngine()
	defer e.Close()

	group, err := e.service.ExecuteLettrage(context.Background(), clearing.LettrageRequest{
		LineIDs:        lettrageLines,
		Account:        lettrageAccount,
		ThirdPartyCode: lettrageThirdParty,
		Actor:          lettrageActor,
	})
	exitOnError(err, "lettrage failed")

	if jsonOutput {
		printJSON(clearingGroupView(*group))
		return
	}
	fmt.Printf("Cleared %d lines of %s with code %s\n", len(group.LineIDs), group.Account, group.Code)
}

func runLettrageAuto(cmd *cobra.Command, args []string) {
	e := openEngine()
	defer e.Close()

	ctx := context.Background()
	var views []groupView
	failed := 0
	for _, account := range lettrageAccounts(ctx, e) {
		result, err := e.service.AutoLettrage(ctx, account, lettrageThirdParty, lettrageActor)
		exitOnError(err, "automatic lettrage failed")

		for _, g := range result.Groups {
			views = append(views, clearingGroupView(g))
		}
		for _, f := range result.Failures {
			slog.Warn("Group not cleared", "account", account, "lines", formatIDs(f.LineIDs), "error", f.Err)
		}
		failed += len(result.Failures)
	}
	printGroups(views)
	if !jsonOutput {
		fmt.Printf("\nCleared %d groups, %d failed\n", len(views), failed)
	}
}

func runLettrageCancel(cmd *cobra.Command, args []string) {
	requireLettrageAccount()
	e := openEngine()
	defer e.Close()

	err := e.service.CancelLettrage(context.Background(), lettrageCode, lettrageAccount, lettrageActor)
	exitOnError(err, "failed to cancel lettrage")
	fmt.Printf("Clearing code %s removed from %s\n", lettrageCode, lettrageAccount)
}

func runLettrageStats(cmd *cobra.Command, args []string) {
	requireLettrageAccount()
	e := openEngine()
	defer e.Close()

	stats, err := e.reporter.LettrageStats(context.Background(), lettrageAccount)
	exitOnError(err, "failed to get statistics")

	if jsonOutput {
		printJSON(stats)
		return
	}
	fmt.Printf("\n=== Lettrage Statistics: %s ===\n", stats.Account)
	fmt.Printf("Total lines:      %d\n", stats.TotalLines)
	fmt.Printf("Cleared lines:    %d\n", stats.ClearedLines)
	fmt.Printf("Open lines:       %d\n", stats.UnclearedLines)
	fmt.Printf("Cleared amount:   %s\n", stats.ClearedAmount.StringFixed(2))
	fmt.Printf("Open amount:      %s\n", stats.UnclearedAmount.StringFixed(2))
	fmt.Printf("Completion:       %d%%\n", stats.CompletionRate)
	fmt.Println()
}

func runLettrageHistory(cmd *cobra.Command, args []string) {
	requireLettrageAccount()
	e := openEngine()
	defer e.Close()

	groups, err := e.store.ListClearingGroups(context.Background(), lettrageAccount, lettrageAll)
	exitOnError(err, "failed to list clearing groups")

	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, clearingGroupView(g))
	}
	printGroups(views)
}
