package postgres

import (
	"context"

	"gorm.io/gorm"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/reconciliation"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) reconciliation.AuditRepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *reconciliationDatamodel.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AuditRepository) ListByPayment(ctx context.Context, paymentID string) ([]reconciliationDatamodel.AuditEntry, error) {
	var entries []reconciliationDatamodel.AuditEntry
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("occurred_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
