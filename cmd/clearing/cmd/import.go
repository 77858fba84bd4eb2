package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/importer"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/pathutil"
)

var (
	importBankAccount string
	importArchive     bool
)

// importCmd groups the CSV import commands.
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import bank statements and ledger extracts from CSV",
	Long: `Import CSV files with a header row. Columns are matched by name.

Bank statement columns: date, value_date, label, reference, amount, balance, account
Ledger columns: date, account, debit, credit, entry_id, piece, journal, label,
third_party_code, third_party_name

Example:
  clearing import bank statement-2025-01.csv --account BNK01
  clearing import ledger grand-livre.csv

With --archive the file is copied to $CLEARING_HOME/imports/<kind>/<yyyy>/<mm>/ once imported.`,
}

var importBankCmd = &cobra.Command{
	Use:   "bank FILE",
	Short: "Import a bank statement",
	Args:  cobra.ExactArgs(1),
	Run:   runImportBank,
}

var importLedgerCmd = &cobra.Command{
	Use:   "ledger FILE",
	Short: "Import ledger lines",
	Args:  cobra.ExactArgs(1),
	Run:   runImportLedger,
}

func init() {
	importCmd.PersistentFlags().BoolVar(&importArchive, "archive", false, "Copy the imported file under the data directory")
	importBankCmd.Flags().StringVar(&importBankAccount, "account", "", "Bank account id for rows without an account column")

	importCmd.AddCommand(importBankCmd)
	importCmd.AddCommand(importLedgerCmd)
}

func runImportBank(cmd *cobra.Command, args []string) {
	slog.Info("Reading bank statement", "path", args[0])
	lines, err := importer.ReadBankFile(args[0], importBankAccount)
	exitOnError(err, "failed to read bank statement")

	e := openEngine()
	defer e.Close()
	for _, l := range lines {
		checkBankAccount(e, l.AccountID)
	}

	ids, err := e.store.InsertBankLines(context.Background(), lines)
	exitOnError(err, "failed to import bank lines")

	slog.Info("Bank statement imported", "count", len(ids))
	fmt.Printf("Imported %d bank lines\n", len(ids))
	archiveImport(e, "bank", args[0])
}

func runImportLedger(cmd *cobra.Command, args []string) {
	slog.Info("Reading ledger extract", "path", args[0])
	lines, err := importer.ReadLedgerFile(args[0])
	exitOnError(err, "failed to read ledger extract")

	e := openEngine()
	defer e.Close()

	ids, err := e.store.InsertLines(context.Background(), lines)
	exitOnError(err, "failed to import ledger lines")

	slog.Info("Ledger lines imported", "count", len(ids))
	fmt.Printf("Imported %d ledger lines\n", len(ids))
	archiveImport(e, "ledger", args[0])
}

// archiveImport copies an imported file under the data directory when --archive is set.
// Failures are logged; the import itself has already been committed.
func archiveImport(e *engine, kind, src string) {
	if !importArchive {
		return
	}
	paths := pathutil.New(pathutil.Config{Root: e.cfg.Home, DatabasePath: e.cfg.Database.Path})
	dst, err := paths.GetImportArchivePath(kind, ledger.FormatDate(time.Now()), src)
	if err != nil {
		slog.Warn("Failed to archive import", "path", src, "error", err)
		return
	}
	if err := paths.EnsureParentDir(dst); err != nil {
		slog.Warn("Failed to archive import", "path", src, "error", err)
		return
	}
	if err := copyFile(src, dst); err != nil {
		slog.Warn("Failed to archive import", "path", src, "error", err)
		return
	}
	slog.Info("Import archived", "path", dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
