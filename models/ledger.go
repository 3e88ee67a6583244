package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger statuses a raw settlement row can be classified into.
const (
	LedgerStatusSold               = "SOLD"
	LedgerStatusReturned           = "RETURNED"
	LedgerStatusDiscount           = "DISCOUNT"
	LedgerStatusDiscountCancel     = "DISCOUNT_CANCEL"
	LedgerStatusCoupon             = "COUPON"
	LedgerStatusCouponCancel       = "COUPON_CANCEL"
	LedgerStatusCancelled          = "CANCELLED"
	LedgerStatusManualRefund       = "MANUAL_REFUND"
	LedgerStatusManualRefundCancel = "MANUAL_REFUND_CANCEL"
	LedgerStatusTYDiscount         = "TY_DISCOUNT"
	LedgerStatusTYDiscountCancel   = "TY_DISCOUNT_CANCEL"
	LedgerStatusTYCoupon           = "TY_COUPON"
	LedgerStatusTYCouponCancel     = "TY_COUPON_CANCEL"
	LedgerStatusProvisionPositive  = "PROVISION_POSITIVE"
	LedgerStatusProvisionNegative  = "PROVISION_NEGATIVE"
	LedgerStatusCommissionPositive = "COMMISSION_POSITIVE"
	LedgerStatusCommissionNegative = "COMMISSION_NEGATIVE"
	LedgerStatusEarlyPayment       = "EARLY_PAYMENT"
	LedgerStatusUnknown            = "UNKNOWN"
)

// SettlementTransaction is an immutable fact from the settlement feed. Only
// Status and TransactionType mutate after insertion, and only when a return
// converts a SOLD row in place.
type SettlementTransaction struct {
	Id               string          `json:"id"`
	ReturnId         string          `json:"return_id,omitempty"`
	TransactionType  string          `json:"transaction_type"`
	Status           string          `json:"status"`
	Barcode          string          `json:"barcode"`
	TransactionDate  *time.Time      `json:"transaction_date"`
	Debt             decimal.Decimal `json:"debt"`
	Credit           decimal.Decimal `json:"credit"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	ReceiptId        int64           `json:"receipt_id,omitempty"`
	PaymentPeriod    int             `json:"payment_period,omitempty"`
	PaymentOrderId   int64           `json:"payment_order_id,omitempty"`
}

type LedgerSummary struct {
	TotalPrice       decimal.Decimal `json:"total_price"`
	TotalDiscount    decimal.Decimal `json:"total_discount"`
	TotalCoupon      decimal.Decimal `json:"total_coupon"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	FinalPrice       decimal.Decimal `json:"final_price"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	SoldQuantity     int             `json:"sold_quantity"`
	ReturnedQuantity int             `json:"returned_quantity"`
}

// LineItemLedger holds every settlement transaction seen for one barcode of
// one order, plus the cached summary derived from them.
type LineItemLedger struct {
	Barcode      string                  `json:"barcode"`
	Transactions []SettlementTransaction `json:"transactions"`
	Summary      LedgerSummary           `json:"summary"`
}

// HasTransaction also matches the return id recorded when a SOLD row was
// converted in place, so a re-merged return stays a no-op.
func (l *LineItemLedger) HasTransaction(id string) bool {
	for i := range l.Transactions {
		if l.Transactions[i].Id == id || l.Transactions[i].ReturnId == id {
			return true
		}
	}
	return false
}

// Recalculate rebuilds the cached summary from scratch. Discounts and coupons
// are only counted up to soldQuantity occurrences, in insertion order; the
// remainder is assumed to belong to returned units.
func (l *LineItemLedger) Recalculate() {
	summary := LedgerSummary{
		TotalPrice:      decimal.Zero,
		TotalDiscount:   decimal.Zero,
		TotalCoupon:     decimal.Zero,
		TotalCommission: decimal.Zero,
		FinalPrice:      decimal.Zero,
		NetAmount:       decimal.Zero,
	}
	if len(l.Transactions) == 0 {
		l.Summary = summary
		return
	}

	for i := range l.Transactions {
		switch l.Transactions[i].Status {
		case LedgerStatusSold:
			summary.SoldQuantity++
		case LedgerStatusReturned:
			summary.ReturnedQuantity++
		}
	}

	soldCommission := decimal.Zero
	discountCommission := decimal.Zero
	couponCommission := decimal.Zero
	discountCount := 0
	couponCount := 0

	for i := range l.Transactions {
		txn := &l.Transactions[i]
		switch txn.Status {
		case LedgerStatusSold:
			summary.TotalPrice = summary.TotalPrice.Add(txn.Credit)
			soldCommission = soldCommission.Add(txn.CommissionAmount)
		case LedgerStatusReturned:
			// Returned units carry no financial weight here.
		case LedgerStatusDiscount:
			if discountCount < summary.SoldQuantity {
				summary.TotalDiscount = summary.TotalDiscount.Add(txn.Debt)
				discountCommission = discountCommission.Add(txn.CommissionAmount)
				discountCount++
			}
		case LedgerStatusCoupon:
			if couponCount < summary.SoldQuantity {
				summary.TotalCoupon = summary.TotalCoupon.Add(txn.Debt)
				couponCommission = couponCommission.Add(txn.CommissionAmount)
				couponCount++
			}
		}
	}

	summary.FinalPrice = summary.TotalPrice.Sub(summary.TotalDiscount).Sub(summary.TotalCoupon)
	summary.TotalCommission = soldCommission.Sub(discountCommission).Sub(couponCommission)
	summary.NetAmount = summary.FinalPrice.Sub(summary.TotalCommission)
	l.Summary = summary
}

// OrderLedgerSummary aggregates every line-item summary of one order.
type OrderLedgerSummary struct {
	TotalPrice            decimal.Decimal `json:"total_price"`
	TotalDiscount         decimal.Decimal `json:"total_discount"`
	TotalCoupon           decimal.Decimal `json:"total_coupon"`
	TotalCommission       decimal.Decimal `json:"total_commission"`
	FinalPrice            decimal.Decimal `json:"final_price"`
	NetAmount             decimal.Decimal `json:"net_amount"`
	TotalSoldQuantity     int             `json:"total_sold_quantity"`
	TotalReturnedQuantity int             `json:"total_returned_quantity"`
	UniqueProductCount    int             `json:"unique_product_count"`
}

func SummarizeLedgers(ledgers []LineItemLedger) OrderLedgerSummary {
	out := OrderLedgerSummary{
		TotalPrice:      decimal.Zero,
		TotalDiscount:   decimal.Zero,
		TotalCoupon:     decimal.Zero,
		TotalCommission: decimal.Zero,
		FinalPrice:      decimal.Zero,
		NetAmount:       decimal.Zero,
	}
	for i := range ledgers {
		s := ledgers[i].Summary
		out.TotalPrice = out.TotalPrice.Add(s.TotalPrice)
		out.TotalDiscount = out.TotalDiscount.Add(s.TotalDiscount)
		out.TotalCoupon = out.TotalCoupon.Add(s.TotalCoupon)
		out.TotalCommission = out.TotalCommission.Add(s.TotalCommission)
		out.FinalPrice = out.FinalPrice.Add(s.FinalPrice)
		out.NetAmount = out.NetAmount.Add(s.NetAmount)
		out.TotalSoldQuantity += s.SoldQuantity
		out.TotalReturnedQuantity += s.ReturnedQuantity
		out.UniqueProductCount++
	}
	return out
}

func DecodeLedgers(raw []byte) []LineItemLedger {
	if len(raw) == 0 {
		return nil
	}
	var ledgers []LineItemLedger
	if err := json.Unmarshal(raw, &ledgers); err != nil {
		return nil
	}
	return ledgers
}

func EncodeLedgers(ledgers []LineItemLedger) []byte {
	b, _ := json.Marshal(ledgers)
	return b
}
