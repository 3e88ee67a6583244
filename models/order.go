package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DataSourceOrderAPI      = "ORDER_API"
	DataSourceSettlementAPI = "SETTLEMENT_API"
	DataSourceHybrid        = "HYBRID"
)

const (
	TransactionStatusNotSettled = "NOT_SETTLED"
	TransactionStatusSettled    = "SETTLED"
)

const (
	OrderStatusDelivered         = "Delivered"
	OrderStatusPartiallyReturned = "PartiallyReturned"
	OrderStatusReturned          = "Returned"
)

// MarketplaceOrder is the aggregate root per (store, order number, shipment
// package). Orders are never deleted; the ledger only grows.
type MarketplaceOrder struct {
	ID                    uint                `gorm:"primary_key" json:"id"`
	StoreId               uuid.UUID           `gorm:"uniqueIndex:idx_store_order_package,priority:1;not null" json:"store_id"`
	OrderNumber           string              `gorm:"uniqueIndex:idx_store_order_package,priority:2;size:64;not null" json:"order_number"`
	PackageNo             int64               `gorm:"uniqueIndex:idx_store_order_package,priority:3;not null" json:"package_no"`
	OrderDate             *time.Time          `json:"order_date"`
	Status                string              `gorm:"size:32" json:"status"`
	ShipmentCity          string              `gorm:"size:100" json:"shipment_city"`
	GrossAmount           decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"gross_amount"`
	TotalDiscount         decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_discount"`
	CouponDiscount        decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"coupon_discount"`
	EarlyPaymentFee       decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"early_payment_fee"`
	EstimatedCommission   decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"estimated_commission"`
	CommissionDifference  decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"commission_difference"`
	IsCommissionEstimated bool                `gorm:"default:false" json:"is_commission_estimated"`
	DataSource            string              `gorm:"index;size:20;not null" json:"data_source"`
	TransactionStatus     string              `gorm:"size:20;not null" json:"transaction_status"`
	TransactionDate       *time.Time          `json:"transaction_date"`
	LedgersJSON           []byte              `gorm:"type:json" json:"-"`
	OrderSummaryJSON      []byte              `gorm:"type:json" json:"-"`
	CreatedAt             time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *MarketplaceOrder) Ledgers() []LineItemLedger {
	return DecodeLedgers(o.LedgersJSON)
}

func (o *MarketplaceOrder) SetLedgers(ledgers []LineItemLedger) {
	o.LedgersJSON = EncodeLedgers(ledgers)
	summary := SummarizeLedgers(ledgers)
	b, _ := json.Marshal(summary)
	o.OrderSummaryJSON = b
}

// HasOperationalData reports whether the order originated from the orders
// feed; such orders keep their operational fields on settlement merge.
func (o *MarketplaceOrder) HasOperationalData() bool {
	return o.DataSource == DataSourceOrderAPI || o.ShipmentCity != ""
}

func GetOrderByNumberAndPackage(ctx context.Context, storeId uuid.UUID, orderNumber string, packageNo int64) (*MarketplaceOrder, error) {
	db := config.GetDB()
	var order MarketplaceOrder
	if err := db.WithContext(ctx).
		Where("store_id = ? AND order_number = ? AND package_no = ?", storeId, orderNumber, packageNo).
		Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrdersByNumber(ctx context.Context, storeId uuid.UUID, orderNumber string) ([]*MarketplaceOrder, error) {
	db := config.GetDB()
	var orders []*MarketplaceOrder
	if err := db.WithContext(ctx).
		Where("store_id = ? AND order_number = ?", storeId, orderNumber).
		Order("package_no asc").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func GetEstimatedOrders(ctx context.Context, storeId uuid.UUID) ([]*MarketplaceOrder, error) {
	db := config.GetDB()
	var orders []*MarketplaceOrder
	if err := db.WithContext(ctx).
		Where("store_id = ? AND is_commission_estimated = ?", storeId, true).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
