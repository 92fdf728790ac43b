// Package store keeps a history of reconciliation runs in a bbolt file.
//
// Only run summaries are stored. Reports themselves are written by the
// reporter package.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"

	"expense-reconciler/internal/reconciler"
	"expense-reconciler/pkg/errors"
)

const (
	runsBucket   = "runs"
	byTimeBucket = "runs_by_time"
)

// RunStore defines the operations on the run history
type RunStore interface {
	// SaveRun stores a run, replacing any run with the same ID
	SaveRun(run *RunRecord) error

	// GetRun retrieves a run by ID
	GetRun(id string) (*RunRecord, error)

	// ListRuns returns up to limit runs, newest first. A limit of zero returns all runs.
	ListRuns(limit int) ([]*RunRecord, error)

	// DeleteRun removes a run from the history
	DeleteRun(id string) error

	// Close closes the underlying database
	Close() error
}

// RunRecord is the persisted summary of one reconciliation run
type RunRecord struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	InvoiceFile  string   `json:"invoice_file,omitempty"`
	TripFiles    []string `json:"trip_files,omitempty"`
	OvertimeFile string   `json:"overtime_file,omitempty"`

	Tolerance decimal.Decimal `json:"tolerance"`

	Invoices            int `json:"invoices"`
	TripSheets          int `json:"trip_sheets"`
	ToleranceMatches    int `json:"tolerance_matches"`
	ForcedMatches       int `json:"forced_matches"`
	UnmatchedInvoices   int `json:"unmatched_invoices"`
	UnmatchedTripSheets int `json:"unmatched_trip_sheets"`
	LedgerRows          int `json:"ledger_rows"`

	LedgerAmount      decimal.Decimal `json:"ledger_amount"`
	UnjustifiedAmount decimal.Decimal `json:"unjustified_amount"`
	NetDiscrepancy    decimal.Decimal `json:"net_discrepancy"`

	Discrepancies map[reconciler.Severity]int `json:"discrepancies,omitempty"`
}

// NewRunRecord summarizes a reconciliation result for the history
func NewRunRecord(result *reconciler.ReconciliationResult) *RunRecord {
	s := result.Summary
	if s == nil {
		s = &reconciler.ResultSummary{}
	}

	record := &RunRecord{
		RunID:               result.RunID,
		CreatedAt:           result.ProcessedAt,
		Tolerance:           result.Tolerance,
		Invoices:            s.TotalInvoices,
		TripSheets:          s.TotalTripSheets,
		ToleranceMatches:    s.ToleranceMatches,
		ForcedMatches:       s.ForcedMatches,
		UnmatchedInvoices:   s.UnmatchedInvoices,
		UnmatchedTripSheets: s.UnmatchedTripSheets,
		LedgerRows:          s.LedgerRows,
		LedgerAmount:        s.LedgerAmount,
		UnjustifiedAmount:   s.UnjustifiedAmount,
		NetDiscrepancy:      s.NetDiscrepancy,
		Discrepancies:       result.CountBySeverity(),
	}

	if req := result.Request; req != nil {
		record.InvoiceFile = req.InvoiceFile
		record.TripFiles = append([]string(nil), req.TripFiles...)
		record.OvertimeFile = req.OvertimeFile
	}

	return record
}

// BoltStore implements RunStore on bbolt
type BoltStore struct {
	db   *bbolt.DB
	path string
}

// Open opens or creates the history database at path
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, byTimeBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStoreUnavailable, path, err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// SaveRun stores a run, replacing any run with the same ID
func (s *BoltStore) SaveRun(run *RunRecord) error {
	if run == nil || run.RunID == "" {
		return errors.ValidationError(errors.CodeMissingField, "run_id", nil, nil)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return errors.InternalError(errors.CodeProcessingError, "marshal_run", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		byTime := tx.Bucket([]byte(byTimeBucket))

		if old := runs.Get([]byte(run.RunID)); old != nil {
			var previous RunRecord
			if err := json.Unmarshal(old, &previous); err != nil {
				return fmt.Errorf("unmarshaling run %s: %w", run.RunID, err)
			}
			if err := byTime.Delete(timeKey(previous.CreatedAt, previous.RunID)); err != nil {
				return err
			}
		}

		if err := runs.Put([]byte(run.RunID), data); err != nil {
			return err
		}
		return byTime.Put(timeKey(run.CreatedAt, run.RunID), []byte(run.RunID))
	})
	if err != nil {
		return errors.StorageError(errors.CodeProcessingError, s.path, err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *BoltStore) GetRun(id string) (*RunRecord, error) {
	var run *RunRecord
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeProcessingError, s.path, err)
	}
	if !found {
		return nil, errors.StorageError(errors.CodeRecordNotFound, id, nil)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero returns all runs.
func (s *BoltStore) ListRuns(limit int) ([]*RunRecord, error) {
	runs := make([]*RunRecord, 0)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket))
		c := tx.Bucket([]byte(byTimeBucket)).Cursor()

		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			data := bucket.Get(id)
			if data == nil {
				continue
			}
			var run RunRecord
			if err := json.Unmarshal(data, &run); err != nil {
				return fmt.Errorf("unmarshaling run %s: %w", id, err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeProcessingError, s.path, err)
	}
	return runs, nil
}

// DeleteRun removes a run from the history
func (s *BoltStore) DeleteRun(id string) error {
	found := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		data := runs.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true

		var run RunRecord
		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("unmarshaling run %s: %w", id, err)
		}
		if err := tx.Bucket([]byte(byTimeBucket)).Delete(timeKey(run.CreatedAt, run.RunID)); err != nil {
			return err
		}
		return runs.Delete([]byte(id))
	})
	if err != nil {
		return errors.StorageError(errors.CodeProcessingError, s.path, err)
	}
	if !found {
		return errors.StorageError(errors.CodeRecordNotFound, id, nil)
	}
	return nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// timeKey sorts by creation time, then run ID
func timeKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}
