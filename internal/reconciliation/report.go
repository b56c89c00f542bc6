package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardvault/storefront/internal"
)

// PendingItem is a reconciliation an operator has to look at: either stuck
// in progress past the threshold, or failed after stock already moved.
type PendingItem struct {
	PaymentID  string    `db:"payment_id" json:"payment_id"`
	Status     string    `db:"status" json:"status"`
	ReasonCode string    `db:"reason_code" json:"reason_code,omitempty"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	Attempts   int       `db:"attempts" json:"attempts"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int    `db:"total" json:"count"`
}

// Report runs read-only operator queries straight against the database.
type Report struct {
	db *sqlx.DB
}

func NewReport(db *sqlx.DB) *Report {
	return &Report{db: db}
}

func (r *Report) Pending(ctx context.Context, olderThan time.Duration, now time.Time) ([]PendingItem, error) {
	query := `
SELECT payment_id, status, COALESCE(reason_code, '') AS reason_code, COALESCE(reason, '') AS reason,
       attempts, started_at, updated_at
FROM reconciliation_records
WHERE (status = $1 AND updated_at < $2)
   OR (status = $3 AND reason_code = $4)
ORDER BY updated_at ASC
`
	items := []PendingItem{}
	err := r.db.SelectContext(ctx, &items, query,
		"in_progress", now.Add(-olderThan),
		"failed", string(internal.ErrCodeOrderWriteFailure))
	if err != nil {
		return nil, fmt.Errorf("pending reconciliations query: %w", err)
	}
	return items, nil
}

func (r *Report) Summary(ctx context.Context) ([]StatusCount, error) {
	counts := []StatusCount{}
	query := `SELECT status, COUNT(*) AS total FROM reconciliation_records GROUP BY status ORDER BY status`
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("reconciliation summary query: %w", err)
	}
	return counts, nil
}
