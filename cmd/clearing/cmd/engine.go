package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/chart"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/clearing"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/config"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/db"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/report"
)

// engine bundles the components a command works with.
type engine struct {
	cfg      *config.Config
	conn     *db.Connection
	store    *db.Ledger
	chart    *chart.Chart
	service  *clearing.Service
	reporter *report.Reporter
}

// openEngine loads the configuration, opens the database and builds the services.
// It exits the process on failure.
func openEngine() *engine {
	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	if err := cfg.Validate([]string{"database", "path"}); err != nil {
		exitOnError(err, "invalid configuration")
	}

	c := chart.Default()
	if cfg.ChartFile != "" {
		slog.Debug("Loading chart of accounts", "path", cfg.ChartFile)
		c, err = chart.Load(cfg.ChartFile)
		exitOnError(err, "failed to load chart of accounts")
	}

	slog.Debug("Opening database", "path", cfg.Database.Path)
	conn, err := db.Open(cfg.Database.Path, db.WithBusyTimeout(cfg.Database.BusyTimeout))
	exitOnError(err, "failed to open database")

	store := db.NewLedger(conn)
	return &engine{
		cfg:   cfg,
		conn:  conn,
		store: store,
		chart: c,
		service: clearing.NewService(store, c,
			clearing.WithLogger(slog.Default()),
			clearing.WithMatchingOptions(cfg.Engine()),
		),
		reporter: report.NewReporter(store, c),
	}
}

func (e *engine) Close() {
	if err := e.conn.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// defaultActor names the operator recorded on clearing groups.
func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	exitOnError(enc.Encode(v), "failed to encode output")
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func parseDateFlag(name, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := ledger.ParseDate(value)
	exitOnError(err, fmt.Sprintf("invalid --%s", name))
	return t
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
