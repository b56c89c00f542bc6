package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	"github.com/cardvault/storefront/internal/inventory"
)

type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) inventory.RepositoryAPI {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) Get(ctx context.Context, key inventory.Key) (*inventoryDatamodel.Unit, error) {
	var unit inventoryDatamodel.Unit
	err := r.db.WithContext(ctx).
		Where("card_id = ? AND variant = ?", key.CardID, key.Variant).
		First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}

// Decrement is one guarded UPDATE; zero affected rows is the shortage signal.
// The follow-up read runs in the same transaction, where the row lock taken
// by the UPDATE keeps the value stable.
func (r *InventoryRepository) Decrement(ctx context.Context, key inventory.Key, quantity int) (int, bool, error) {
	return r.adjust(ctx, key,
		gorm.Expr("available - ?", quantity),
		"card_id = ? AND variant = ? AND available >= ?", key.CardID, key.Variant, quantity)
}

func (r *InventoryRepository) Increment(ctx context.Context, key inventory.Key, quantity int) (int, bool, error) {
	return r.adjust(ctx, key,
		gorm.Expr("available + ?", quantity),
		"card_id = ? AND variant = ?", key.CardID, key.Variant)
}

func (r *InventoryRepository) adjust(ctx context.Context, key inventory.Key, expr clause.Expr, where string, args ...interface{}) (int, bool, error) {
	var (
		available int
		ok        bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&inventoryDatamodel.Unit{}).
			Where(where, args...).
			Updates(map[string]interface{}{
				"available":  expr,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		ok = true
		return tx.Model(&inventoryDatamodel.Unit{}).
			Select("available").
			Where("card_id = ? AND variant = ?", key.CardID, key.Variant).
			Scan(&available).Error
	})
	if err != nil {
		return 0, false, err
	}
	return available, ok, nil
}

func (r *InventoryRepository) Upsert(ctx context.Context, unit *inventoryDatamodel.Unit) error {
	unit.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}, {Name: "variant"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "market_price_usd", "listed_price", "updated_at"}),
	}).Create(unit).Error
}

func (r *InventoryRepository) WithinTx(ctx context.Context, fn func(repo inventory.RepositoryAPI) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&InventoryRepository{db: tx})
	})
}
