package store

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"expense-reconciler/internal/reconciler"
	"expense-reconciler/pkg/errors"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

func sampleRun(id string, createdAt time.Time) *RunRecord {
	return &RunRecord{
		RunID:             id,
		CreatedAt:         createdAt,
		InvoiceFile:       "invoices.csv",
		TripFiles:         []string{"trips-jan.csv", "trips-feb.csv"},
		Tolerance:         decimal.RequireFromString("0.50"),
		Invoices:          3,
		TripSheets:        3,
		ToleranceMatches:  2,
		ForcedMatches:     1,
		LedgerRows:        4,
		LedgerAmount:      decimal.RequireFromString("144.60"),
		UnjustifiedAmount: decimal.RequireFromString("18.00"),
		Discrepancies:     map[reconciler.Severity]int{reconciler.SeverityHigh: 1},
	}
}

var _ = Describe("BoltStore", func() {
	var (
		dbPath string
		store  *BoltStore
		base   time.Time
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "history.db")
		base = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

		var err error
		store, err = Open(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("SaveRun", func() {
		var (
			run *RunRecord
			err error
		)

		BeforeEach(func() {
			run = sampleRun("run-1", base)
		})

		JustBeforeEach(func() {
			err = store.SaveRun(run)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round-trip the summary", func() {
				saved, getErr := store.GetRun("run-1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.InvoiceFile).To(Equal("invoices.csv"))
				Expect(saved.TripFiles).To(Equal([]string{"trips-jan.csv", "trips-feb.csv"}))
				Expect(saved.LedgerAmount.Equal(decimal.RequireFromString("144.60"))).To(BeTrue())
				Expect(saved.Discrepancies).To(HaveKeyWithValue(reconciler.SeverityHigh, 1))
				Expect(saved.CreatedAt.Equal(base)).To(BeTrue())
			})
		})

		When("the run has no ID", func() {
			BeforeEach(func() {
				run.RunID = ""
			})

			It("returns a validation error", func() {
				Expect(errors.IsCategory(err, errors.CategoryValidation)).To(BeTrue())
			})
		})

		When("a run is saved twice with a new timestamp", func() {
			JustBeforeEach(func() {
				again := sampleRun("run-1", base.Add(time.Hour))
				again.LedgerRows = 9
				Expect(store.SaveRun(again)).To(Succeed())
			})

			It("keeps a single entry", func() {
				runs, listErr := store.ListRuns(0)
				Expect(listErr).NotTo(HaveOccurred())
				Expect(runs).To(HaveLen(1))
				Expect(runs[0].LedgerRows).To(Equal(9))
			})
		})
	})

	Describe("GetRun", func() {
		When("the run does not exist", func() {
			It("returns a not-found storage error", func() {
				_, err := store.GetRun("missing")
				Expect(err).To(HaveOccurred())

				rerr, ok := errors.AsReconcilerError(err)
				Expect(ok).To(BeTrue())
				Expect(rerr.Category).To(Equal(errors.CategoryStorage))
				Expect(rerr.Code).To(Equal(errors.CodeRecordNotFound))
			})
		})
	})

	Describe("ListRuns", func() {
		var (
			runs  []*RunRecord
			limit int
			err   error
		)

		BeforeEach(func() {
			limit = 0
			// saved out of chronological order
			Expect(store.SaveRun(sampleRun("run-b", base.Add(2*time.Hour)))).To(Succeed())
			Expect(store.SaveRun(sampleRun("run-a", base))).To(Succeed())
			Expect(store.SaveRun(sampleRun("run-c", base.Add(4*time.Hour)))).To(Succeed())
		})

		JustBeforeEach(func() {
			runs, err = store.ListRuns(limit)
		})

		It("returns runs newest first", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(3))
			Expect(runs[0].RunID).To(Equal("run-c"))
			Expect(runs[1].RunID).To(Equal("run-b"))
			Expect(runs[2].RunID).To(Equal("run-a"))
		})

		When("a limit is given", func() {
			BeforeEach(func() {
				limit = 2
			})

			It("returns only the newest runs", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(runs).To(HaveLen(2))
				Expect(runs[0].RunID).To(Equal("run-c"))
			})
		})
	})

	Describe("DeleteRun", func() {
		BeforeEach(func() {
			Expect(store.SaveRun(sampleRun("run-1", base))).To(Succeed())
		})

		It("removes the run from lookups and listings", func() {
			Expect(store.DeleteRun("run-1")).To(Succeed())

			_, err := store.GetRun("run-1")
			Expect(errors.IsCategory(err, errors.CategoryStorage)).To(BeTrue())

			runs, err := store.ListRuns(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(BeEmpty())
		})

		It("reports unknown runs", func() {
			err := store.DeleteRun("missing")
			rerr, ok := errors.AsReconcilerError(err)
			Expect(ok).To(BeTrue())
			Expect(rerr.Code).To(Equal(errors.CodeRecordNotFound))
		})
	})

	Describe("persistence", func() {
		It("keeps runs across reopen", func() {
			Expect(store.SaveRun(sampleRun("run-1", base))).To(Succeed())
			Expect(store.Close()).To(Succeed())

			reopened, err := Open(dbPath)
			Expect(err).NotTo(HaveOccurred())
			store = reopened

			run, err := store.GetRun("run-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Invoices).To(Equal(3))
		})
	})
})

var _ = Describe("NewRunRecord", func() {
	It("copies the summary and request of a result", func() {
		result := &reconciler.ReconciliationResult{
			RunID:       "run-9",
			Tolerance:   decimal.RequireFromString("0.50"),
			ProcessedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
			Summary: &reconciler.ResultSummary{
				TotalInvoices:     2,
				ToleranceMatches:  1,
				UnmatchedInvoices: 1,
				LedgerRows:        2,
				LedgerAmount:      decimal.RequireFromString("42.60"),
			},
			Discrepancies: []*reconciler.Discrepancy{
				{Type: reconciler.DiscrepancyUnmatchedInvoice, Severity: reconciler.SeverityMedium},
			},
			Request: &reconciler.ReconciliationRequest{
				InvoiceFile: "invoices.csv",
				TripFiles:   []string{"trips.csv"},
			},
		}

		record := NewRunRecord(result)

		Expect(record.RunID).To(Equal("run-9"))
		Expect(record.Invoices).To(Equal(2))
		Expect(record.UnmatchedInvoices).To(Equal(1))
		Expect(record.LedgerAmount.Equal(decimal.RequireFromString("42.60"))).To(BeTrue())
		Expect(record.TripFiles).To(Equal([]string{"trips.csv"}))
		Expect(record.Discrepancies).To(HaveKeyWithValue(reconciler.SeverityMedium, 1))
	})

	It("tolerates a result without request or summary", func() {
		record := NewRunRecord(&reconciler.ReconciliationResult{RunID: "run-0"})
		Expect(record.RunID).To(Equal("run-0"))
		Expect(record.InvoiceFile).To(BeEmpty())
		Expect(record.Invoices).To(BeZero())
	})
})
