package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/cardvault/storefront/internal"
	orderDatamodel "github.com/cardvault/storefront/internal/core/datamodel/order"
	"github.com/cardvault/storefront/internal/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) order.RepositoryAPI {
	return &OrderRepository{db: db}
}

// Create relies on the unique index on payment_id as the second line of
// defence behind the idempotency guard.
func (r *OrderRepository) Create(ctx context.Context, o *orderDatamodel.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(o).Error
	})
	if isUniqueViolation(err) {
		return internal.ErrOrderAlreadyExists.WithCause(err)
	}
	return err
}

func (r *OrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*orderDatamodel.Order, error) {
	var o orderDatamodel.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_id = ?", paymentID).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
