package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/shopspring/decimal"
)

func txn(id, status string, debt, credit, commission float64) models.SettlementTransaction {
	return models.SettlementTransaction{
		Id:               id,
		Status:           status,
		Debt:             decimal.NewFromFloat(debt),
		Credit:           decimal.NewFromFloat(credit),
		CommissionAmount: decimal.NewFromFloat(commission),
	}
}

func TestRecalculate_TwoSalesOneReturn(t *testing.T) {
	ledger := models.LineItemLedger{
		Barcode: "BC-1",
		Transactions: []models.SettlementTransaction{
			txn("s1", models.LedgerStatusSold, 0, 100, 10),
			txn("s2", models.LedgerStatusSold, 0, 100, 10),
			txn("r1", models.LedgerStatusReturned, 0, 100, 10),
		},
	}
	ledger.Recalculate()

	s := ledger.Summary
	if s.SoldQuantity != 2 || s.ReturnedQuantity != 1 {
		t.Fatalf("quantities sold=%d returned=%d", s.SoldQuantity, s.ReturnedQuantity)
	}
	if !s.TotalPrice.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("total price = %s, expected 200 (returned rows carry nothing)", s.TotalPrice)
	}
	if !s.TotalCommission.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("commission = %s, expected 20", s.TotalCommission)
	}
	if !s.NetAmount.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("net = %s, expected 180", s.NetAmount)
	}
}

func TestRecalculate_DiscountAndCouponCaps(t *testing.T) {
	ledger := models.LineItemLedger{
		Barcode: "BC-1",
		Transactions: []models.SettlementTransaction{
			txn("s1", models.LedgerStatusSold, 0, 100, 10),
			txn("d1", models.LedgerStatusDiscount, 5, 0, 1),
			txn("d2", models.LedgerStatusDiscount, 7, 0, 1),
			txn("c1", models.LedgerStatusCoupon, 4, 0, 0.5),
			txn("c2", models.LedgerStatusCoupon, 6, 0, 0.5),
		},
	}
	ledger.Recalculate()

	s := ledger.Summary
	// Caps bind in insertion order: only the first discount and first coupon
	// count against a single sold unit.
	if !s.TotalDiscount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("discount = %s, expected 5", s.TotalDiscount)
	}
	if !s.TotalCoupon.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("coupon = %s, expected 4", s.TotalCoupon)
	}
	if !s.FinalPrice.Equal(decimal.NewFromInt(91)) {
		t.Fatalf("final = %s, expected 91", s.FinalPrice)
	}
	// totalCommission = sold 10 - discount 1 - coupon 0.5
	if !s.TotalCommission.Equal(decimal.NewFromFloat(8.5)) {
		t.Fatalf("commission = %s, expected 8.5", s.TotalCommission)
	}
	if !s.NetAmount.Equal(decimal.NewFromFloat(82.5)) {
		t.Fatalf("net = %s, expected 82.5", s.NetAmount)
	}
}

func TestRecalculate_AllReturnedMeansNoDiscounts(t *testing.T) {
	ledger := models.LineItemLedger{
		Barcode: "BC-1",
		Transactions: []models.SettlementTransaction{
			txn("r1", models.LedgerStatusReturned, 0, 100, 10),
			txn("d1", models.LedgerStatusDiscount, 5, 0, 1),
		},
	}
	ledger.Recalculate()

	s := ledger.Summary
	if s.SoldQuantity != 0 {
		t.Fatalf("sold = %d", s.SoldQuantity)
	}
	if !s.TotalDiscount.IsZero() {
		t.Fatalf("discounts without sold units must not count, got %s", s.TotalDiscount)
	}
	if !s.FinalPrice.IsZero() || !s.NetAmount.IsZero() {
		t.Fatalf("fully returned ledger must be financially empty: %+v", s)
	}
}

func TestRecalculate_EmptyLedger(t *testing.T) {
	ledger := models.LineItemLedger{Barcode: "BC-1"}
	ledger.Recalculate()
	if ledger.Summary.SoldQuantity != 0 || !ledger.Summary.NetAmount.IsZero() {
		t.Fatalf("empty ledger summary should be zero: %+v", ledger.Summary)
	}
}

func TestHasTransaction_MatchesReturnId(t *testing.T) {
	ledger := models.LineItemLedger{
		Transactions: []models.SettlementTransaction{
			{Id: "sale-1", ReturnId: "return-1", Status: models.LedgerStatusReturned},
		},
	}
	if !ledger.HasTransaction("sale-1") {
		t.Fatal("expected match on transaction id")
	}
	if !ledger.HasTransaction("return-1") {
		t.Fatal("expected match on recorded return id")
	}
	if ledger.HasTransaction("other") {
		t.Fatal("unexpected match")
	}
}

func TestSummarizeLedgers(t *testing.T) {
	a := models.LineItemLedger{Barcode: "A", Transactions: []models.SettlementTransaction{
		txn("s1", models.LedgerStatusSold, 0, 100, 10),
	}}
	b := models.LineItemLedger{Barcode: "B", Transactions: []models.SettlementTransaction{
		txn("s2", models.LedgerStatusSold, 0, 60, 6),
		txn("r1", models.LedgerStatusReturned, 0, 0, 0),
	}}
	a.Recalculate()
	b.Recalculate()

	sum := models.SummarizeLedgers([]models.LineItemLedger{a, b})
	if !sum.TotalPrice.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("total = %s", sum.TotalPrice)
	}
	if sum.TotalSoldQuantity != 2 || sum.TotalReturnedQuantity != 1 {
		t.Fatalf("quantities %d/%d", sum.TotalSoldQuantity, sum.TotalReturnedQuantity)
	}
	if sum.UniqueProductCount != 2 {
		t.Fatalf("unique products = %d", sum.UniqueProductCount)
	}
}

func TestLedgersRoundTripThroughOrder(t *testing.T) {
	order := &models.MarketplaceOrder{}
	ledger := models.LineItemLedger{Barcode: "BC-1", Transactions: []models.SettlementTransaction{
		txn("s1", models.LedgerStatusSold, 0, 100, 10),
	}}
	ledger.Recalculate()

	order.SetLedgers([]models.LineItemLedger{ledger})
	got := order.Ledgers()
	if len(got) != 1 || got[0].Barcode != "BC-1" || len(got[0].Transactions) != 1 {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if len(order.OrderSummaryJSON) == 0 {
		t.Fatal("order summary not cached")
	}
}
