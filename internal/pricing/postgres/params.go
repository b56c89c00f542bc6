package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pricingDatamodel "github.com/cardvault/storefront/internal/core/datamodel/pricing"
	"github.com/cardvault/storefront/internal/pricing"
)

type ParameterRepository struct {
	db *gorm.DB
}

func NewParameterRepository(db *gorm.DB) pricing.RepositoryAPI {
	return &ParameterRepository{db: db}
}

func (r *ParameterRepository) GetByName(ctx context.Context, name string) (*pricingDatamodel.ParameterSet, error) {
	var set pricingDatamodel.ParameterSet
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&set).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &set, nil
}

func (r *ParameterRepository) Upsert(ctx context.Context, set *pricingDatamodel.ParameterSet) error {
	set.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_tax_rate", "shipping_cost", "destination_vat_rate",
			"exchange_rate", "margin_rate", "gateway_fee_rate", "updated_at",
		}),
	}).Create(set).Error
}
