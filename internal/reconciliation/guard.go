package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
)

// ErrRecordNotInProgress is returned when closing a record that another
// attempt already closed.
var ErrRecordNotInProgress = errors.New("reconciliation record is not in progress")

type RecordRepositoryAPI interface {
	// InsertIfAbsent creates an in_progress record; inserted is false when
	// any record already exists for the payment.
	InsertIfAbsent(ctx context.Context, record *reconciliationDatamodel.Record) (inserted bool, err error)
	// TakeOverRetryable moves a failed_retryable record back to in_progress.
	TakeOverRetryable(ctx context.Context, paymentID string, at time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, paymentID, orderID string, at time.Time) error
	MarkFailed(ctx context.Context, paymentID string, status reconciliationDatamodel.Status, code, reason string, at time.Time) error
	Get(ctx context.Context, paymentID string) (*reconciliationDatamodel.Record, error)
	List(ctx context.Context, status reconciliationDatamodel.Status, limit int) ([]reconciliationDatamodel.Record, error)
}

// Decision is the answer to Begin. Existing is set when Proceed is false.
type Decision struct {
	Proceed  bool
	Attempt  int
	Existing *reconciliationDatamodel.Record
}

// Guard grants at most one caller at a time the right to reconcile a payment
// and never lets a terminal record be reopened.
type Guard struct {
	repo   RecordRepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewGuard(repo RecordRepositoryAPI, logger *slog.Logger) *Guard {
	return &Guard{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *Guard) Begin(ctx context.Context, paymentID string) (Decision, error) {
	now := g.now()
	inserted, err := g.repo.InsertIfAbsent(ctx, &reconciliationDatamodel.Record{
		PaymentID: paymentID,
		Status:    reconciliationDatamodel.StatusInProgress,
		Attempts:  1,
		StartedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("claim payment %s: %w", paymentID, err)
	}
	if inserted {
		return Decision{Proceed: true, Attempt: 1}, nil
	}

	took, err := g.repo.TakeOverRetryable(ctx, paymentID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("take over payment %s: %w", paymentID, err)
	}

	existing, err := g.repo.Get(ctx, paymentID)
	if err != nil {
		return Decision{}, fmt.Errorf("load record %s: %w", paymentID, err)
	}
	if took {
		attempt := 0
		if existing != nil {
			attempt = existing.Attempts
		}
		g.logger.Info("retrying reconciliation after retryable failure",
			"payment_id", paymentID,
			"attempt", attempt)
		return Decision{Proceed: true, Attempt: attempt}, nil
	}

	return Decision{Proceed: false, Existing: existing}, nil
}

func (g *Guard) Succeed(ctx context.Context, paymentID, orderID string) error {
	return g.repo.MarkSucceeded(ctx, paymentID, orderID, g.now())
}

// Fail closes the record. Retryable failures stay open for a later delivery.
func (g *Guard) Fail(ctx context.Context, paymentID, code, reason string, retryable bool) error {
	status := reconciliationDatamodel.StatusFailed
	if retryable {
		status = reconciliationDatamodel.StatusFailedRetryable
	}
	return g.repo.MarkFailed(ctx, paymentID, status, code, reason, g.now())
}
