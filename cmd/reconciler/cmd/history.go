package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expense-reconciler/internal/reconciler"
	"expense-reconciler/internal/store"
	"expense-reconciler/pkg/errors"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded reconciliation runs",
	Long: `History lists the runs recorded with --history-db, newest first.

Examples:
  reconciler history --history-db runs.db
  reconciler history --history-db runs.db --limit 5
  reconciler history show 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --history-db runs.db`,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Remove a run from the history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd, historyDeleteCmd)

	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list (0 lists all)")
}

func openHistory() (*store.BoltStore, error) {
	path := viper.GetString("history-db")
	if path == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "history-db", nil, nil).
			WithSuggestion("Pass the history database with --history-db or RECONCILER_HISTORY_DB")
	}
	return store.Open(path)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	runs, err := history.ListRuns(limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderRuns(runs))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	run, err := history.GetRun(args[0])
	if err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), run)
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	if err := history.DeleteRun(args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
	return nil
}

func renderRuns(runs []*store.RunRecord) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Run", "When", "Invoices", "Trip-sheets", "Matched", "Forced", "Unmatched", "Ledger", "High"})

	for _, run := range runs {
		tw.AppendRow(table.Row{
			run.RunID,
			run.CreatedAt.Local().Format(time.DateTime),
			run.Invoices,
			run.TripSheets,
			run.ToleranceMatches,
			run.ForcedMatches,
			fmt.Sprintf("%d / %d", run.UnmatchedInvoices, run.UnmatchedTripSheets),
			run.LedgerAmount.StringFixed(2),
			run.Discrepancies[reconciler.SeverityHigh],
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})

	return tw.Render()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "history_json", err)
	}
	return nil
}
