package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product carries the per-barcode commission snapshot the estimation feed
// reads. LastCommissionRate only advances; an older settlement row never
// overwrites a newer rate.
type Product struct {
	ID                 uint                `gorm:"primary_key" json:"id"`
	StoreId            uuid.UUID           `gorm:"uniqueIndex:idx_store_barcode,priority:1;not null" json:"store_id"`
	Barcode            string              `gorm:"uniqueIndex:idx_store_barcode,priority:2;size:64;not null" json:"barcode"`
	Title              string              `gorm:"size:255" json:"title"`
	LastCommissionRate decimal.NullDecimal `gorm:"type:decimal(10,4)" json:"last_commission_rate"`
	LastCommissionDate *time.Time          `json:"last_commission_date"`
	CreatedAt          time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpdateProductCommission records the commission rate observed on a sale
// settlement, skipping rows older than the stored snapshot.
func UpdateProductCommission(ctx context.Context, storeId uuid.UUID, barcode string, rate decimal.Decimal, observedAt time.Time) error {
	db := config.GetDB()

	var product Product
	err := db.WithContext(ctx).
		Where("store_id = ? AND barcode = ?", storeId, barcode).
		Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if product.LastCommissionDate != nil && !observedAt.After(*product.LastCommissionDate) {
		return nil
	}

	return db.WithContext(ctx).Model(&product).Updates(map[string]interface{}{
		"last_commission_rate": rate,
		"last_commission_date": observedAt,
	}).Error
}
