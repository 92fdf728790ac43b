package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expense-reconciler/internal/reconciler"
	"expense-reconciler/internal/store"
	"expense-reconciler/pkg/errors"
)

func seedHistory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")

	history, err := store.Open(path)
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	defer history.Close()

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-new"} {
		run := &store.RunRecord{
			RunID:            id,
			CreatedAt:        base.Add(time.Duration(i) * time.Hour),
			Invoices:         3,
			TripSheets:       3,
			ToleranceMatches: 2,
			ForcedMatches:    1,
			LedgerAmount:     decimal.RequireFromString("144.70"),
			Discrepancies:    map[reconciler.Severity]int{reconciler.SeverityHigh: 1},
		}
		if err := history.SaveRun(run); err != nil {
			t.Fatalf("failed to seed run: %v", err)
		}
	}
	return path
}

func historyCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().Int("limit", 20, "")
	cmd.SetOut(out)
	return cmd
}

func TestRunHistoryList(t *testing.T) {
	viper.Reset()
	viper.Set("history-db", seedHistory(t))

	var out bytes.Buffer
	if err := runHistoryList(historyCommand(&out), nil); err != nil {
		t.Fatalf("runHistoryList failed: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "run-old") || !strings.Contains(output, "144.70") {
		t.Errorf("unexpected listing:\n%s", output)
	}
	if strings.Index(output, "run-new") > strings.Index(output, "run-old") {
		t.Errorf("runs should be listed newest first:\n%s", output)
	}
}

func TestRunHistoryList_Limit(t *testing.T) {
	viper.Reset()
	viper.Set("history-db", seedHistory(t))

	var out bytes.Buffer
	cmd := historyCommand(&out)
	cmd.Flags().Set("limit", "1")

	if err := runHistoryList(cmd, nil); err != nil {
		t.Fatalf("runHistoryList failed: %v", err)
	}
	if strings.Contains(out.String(), "run-old") {
		t.Errorf("limit should hide older runs:\n%s", out.String())
	}
}

func TestRunHistoryList_Empty(t *testing.T) {
	viper.Reset()
	viper.Set("history-db", filepath.Join(t.TempDir(), "empty.db"))

	var out bytes.Buffer
	if err := runHistoryList(historyCommand(&out), nil); err != nil {
		t.Fatalf("runHistoryList failed: %v", err)
	}
	if !strings.Contains(out.String(), "No runs recorded.") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestRunHistoryShowAndDelete(t *testing.T) {
	viper.Reset()
	viper.Set("history-db", seedHistory(t))

	var out bytes.Buffer
	cmd := historyCommand(&out)

	if err := runHistoryShow(cmd, []string{"run-new"}); err != nil {
		t.Fatalf("runHistoryShow failed: %v", err)
	}
	var run store.RunRecord
	if err := json.Unmarshal(out.Bytes(), &run); err != nil {
		t.Fatalf("show output is not JSON: %v", err)
	}
	if run.RunID != "run-new" || run.ForcedMatches != 1 {
		t.Errorf("unexpected run: %+v", run)
	}

	out.Reset()
	if err := runHistoryDelete(cmd, []string{"run-new"}); err != nil {
		t.Fatalf("runHistoryDelete failed: %v", err)
	}

	err := runHistoryShow(cmd, []string{"run-new"})
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeRecordNotFound {
		t.Errorf("expected not-found error after delete, got %v", err)
	}
}

func TestOpenHistory_RequiresPath(t *testing.T) {
	viper.Reset()

	_, err := openHistory()
	if !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
