package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/reconciliation"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) reconciliation.RecordRepositoryAPI {
	return &RecordRepository{db: db}
}

// InsertIfAbsent is a single INSERT ... ON CONFLICT DO NOTHING; the primary
// key on payment_id decides which concurrent caller wins.
func (r *RecordRepository) InsertIfAbsent(ctx context.Context, record *reconciliationDatamodel.Record) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RecordRepository) TakeOverRetryable(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&reconciliationDatamodel.Record{}).
		Where("payment_id = ? AND status = ?", paymentID, reconciliationDatamodel.StatusFailedRetryable).
		Updates(map[string]interface{}{
			"status":      reconciliationDatamodel.StatusInProgress,
			"retryable":   false,
			"attempts":    gorm.Expr("attempts + 1"),
			"started_at":  at,
			"updated_at":  at,
			"reason_code": "",
			"reason":      "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkSucceeded only closes a record that is still in progress, so a terminal
// record can never be rewritten.
func (r *RecordRepository) MarkSucceeded(ctx context.Context, paymentID, orderID string, at time.Time) error {
	return r.close(ctx, paymentID, map[string]interface{}{
		"status":       reconciliationDatamodel.StatusSucceeded,
		"retryable":    false,
		"order_id":     orderID,
		"processed_at": at,
		"updated_at":   at,
	})
}

func (r *RecordRepository) MarkFailed(ctx context.Context, paymentID string, status reconciliationDatamodel.Status, code, reason string, at time.Time) error {
	updates := map[string]interface{}{
		"status":      status,
		"retryable":   status == reconciliationDatamodel.StatusFailedRetryable,
		"reason_code": code,
		"reason":      reason,
		"updated_at":  at,
	}
	if status.Terminal() {
		updates["processed_at"] = at
	}
	return r.close(ctx, paymentID, updates)
}

func (r *RecordRepository) close(ctx context.Context, paymentID string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&reconciliationDatamodel.Record{}).
		Where("payment_id = ? AND status = ?", paymentID, reconciliationDatamodel.StatusInProgress).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return reconciliation.ErrRecordNotInProgress
	}
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, paymentID string) (*reconciliationDatamodel.Record, error) {
	var record reconciliationDatamodel.Record
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *RecordRepository) List(ctx context.Context, status reconciliationDatamodel.Status, limit int) ([]reconciliationDatamodel.Record, error) {
	var records []reconciliationDatamodel.Record
	query := r.db.WithContext(ctx).Order("updated_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
