package reconciliation_test

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cardvault/storefront/internal/reconciliation"
)

var _ = Describe("Report", func() {
	var (
		mock   sqlmock.Sqlmock
		report *reconciliation.Report
		now    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m
		sqlxDB := sqlx.NewDb(db, "sqlmock")
		DeferCleanup(sqlxDB.Close)
		report = reconciliation.NewReport(sqlxDB)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("lists stuck and manual-review reconciliations", func() {
		// Given
		mock.ExpectQuery("FROM reconciliation_records").
			WithArgs("in_progress", now.Add(-15*time.Minute), "failed", "ORDER_WRITE_FAILURE").
			WillReturnRows(sqlmock.NewRows([]string{"payment_id", "status", "reason_code", "reason", "attempts", "started_at", "updated_at"}).
				AddRow("pay_stuck", "in_progress", "", "", 1, now.Add(-time.Hour), now.Add(-time.Hour)).
				AddRow("pay_review", "failed", "ORDER_WRITE_FAILURE", "disk full", 1, now.Add(-time.Minute), now.Add(-time.Minute)))

		// When
		items, err := report.Pending(context.Background(), 15*time.Minute, now)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(2))
		Expect(items[0].PaymentID).To(Equal("pay_stuck"))
		Expect(items[1].ReasonCode).To(Equal("ORDER_WRITE_FAILURE"))
	})

	It("wraps query failures", func() {
		mock.ExpectQuery("FROM reconciliation_records").WillReturnError(context.DeadlineExceeded)

		_, err := report.Pending(context.Background(), time.Minute, now)

		Expect(err).To(MatchError(ContainSubstring("pending reconciliations query")))
	})

	It("counts records per status", func() {
		mock.ExpectQuery("GROUP BY status").
			WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
				AddRow("failed", 2).
				AddRow("succeeded", 40))

		counts, err := report.Summary(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(Equal([]reconciliation.StatusCount{
			{Status: "failed", Count: 2},
			{Status: "succeeded", Count: 40},
		}))
	})
})
