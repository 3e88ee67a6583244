package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ReconciliationLog is one per-store summary row written when a reconciliation
// run upgrades at least one estimated order.
type ReconciliationLog struct {
	ID              uint                `gorm:"primary_key" json:"id"`
	StoreId         uuid.UUID           `gorm:"index;not null" json:"store_id"`
	RunDate         time.Time           `gorm:"index;not null" json:"run_date"`
	TotalProcessed  int                 `json:"total_processed"`
	TotalReconciled int                 `json:"total_reconciled"`
	TotalPending    int                 `json:"total_pending"`
	TotalEstimated  decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_estimated"`
	TotalReal       decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_real"`
	TotalDifference decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_difference"`
	AverageAccuracy decimal.NullDecimal `gorm:"type:decimal(10,4)" json:"average_accuracy"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// CalculateAccuracy returns 100 - |difference| / real * 100 clamped to
// [0, 100], or null when no real commission was observed.
func CalculateAccuracy(totalDifference, totalReal decimal.Decimal) decimal.NullDecimal {
	if totalReal.IsZero() {
		return decimal.NullDecimal{}
	}
	accuracy := hundred.Sub(totalDifference.Abs().Div(totalReal).Mul(hundred))
	if accuracy.LessThan(decimal.Zero) {
		accuracy = decimal.Zero
	}
	if accuracy.GreaterThan(hundred) {
		accuracy = hundred
	}
	return decimal.NullDecimal{Decimal: accuracy, Valid: true}
}

func ListReconciliationLogs(ctx context.Context, storeId uuid.UUID, from, to *time.Time) ([]*ReconciliationLog, error) {
	db := config.GetDB().WithContext(ctx).Where("store_id = ?", storeId)
	if from != nil {
		db = db.Where("run_date >= ?", *from)
	}
	if to != nil {
		db = db.Where("run_date <= ?", *to)
	}
	var logs []*ReconciliationLog
	if err := db.Order("run_date desc").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
