// Package cmd provides CLI commands for the clearing engine.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/clearing"
)

var (
	cfgFile    string
	debug      bool
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clearing",
	Short: "Lettrage and bank reconciliation for a general ledger",
	Long: `clearing clears balanced ledger lines against each other (lettrage) and
reconciles bank statement lines with treasury ledger lines.

It supports:
- Proposing and executing lettrage groups per account and third party
- Automatic and manual bank reconciliation with scored suggestions
- Reconciliation sessions and completion statistics
- CSV import of bank statements and ledger extracts

Example:
  clearing import ledger ledger.csv
  clearing lettrage propose --account 411000
  clearing bank auto --tolerance-days 5
  clearing lettrage stats --account 411000`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel := slog.LevelInfo
		if debug {
			logLevel = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(lettrageCmd)
	rootCmd.AddCommand(bankCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(importCmd)
}

// Helper function to get config file path.
func getConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "" // Will use default .env loading
}

// Helper function to handle errors and exit.
// Engine errors are printed with their kind so scripts can tell them apart.
func exitOnError(err error, msg string) {
	if err == nil {
		return
	}
	var ce *clearing.Error
	if errors.As(err, &ce) {
		slog.Error(msg, "kind", ce.Kind, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: [%s] %v\n", msg, ce.Kind, err)
		os.Exit(1)
	}
	slog.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
