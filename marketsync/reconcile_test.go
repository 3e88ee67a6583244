package marketsync

import (
	"testing"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func estimatedOrder(estimate float64, rows []SettlementRow) *models.MarketplaceOrder {
	order := &models.MarketplaceOrder{
		StoreId:               uuid.New(),
		OrderNumber:           "ORD-R",
		PackageNo:             1,
		DataSource:            models.DataSourceOrderAPI,
		EstimatedCommission:   decimal.NewFromFloat(estimate),
		IsCommissionEstimated: true,
	}
	if len(rows) > 0 {
		mergeSettlements(order, rows)
		// The merge marks commissions settled; restore the estimated state
		// the reconciliation pass starts from.
		order.IsCommissionEstimated = true
		order.EstimatedCommission = decimal.NewFromFloat(estimate)
	}
	return order
}

func TestExtractRealCommission(t *testing.T) {
	order := estimatedOrder(10, []SettlementRow{
		saleRow("s1", "ORD-R", 1, "BC-1", 100, 12),
		saleRow("s2", "ORD-R", 1, "BC-2", 50, 4),
	})
	real, ok := extractRealCommission(order)
	if !ok {
		t.Fatal("expected settlement data")
	}
	if !real.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("real commission = %s, expected 16", real)
	}

	empty := estimatedOrder(10, nil)
	if _, ok := extractRealCommission(empty); ok {
		t.Fatal("order without ledger rows has no real commission")
	}
}

func TestReconcileOrder_UpgradesEstimate(t *testing.T) {
	order := estimatedOrder(10, []SettlementRow{
		saleRow("s1", "ORD-R", 1, "BC-1", 100, 12),
	})

	if !reconcileOrder(order) {
		t.Fatal("expected reconciliation to apply")
	}
	if order.IsCommissionEstimated {
		t.Fatal("reconciled order must not stay estimated")
	}
	if order.DataSource != models.DataSourceHybrid {
		t.Fatalf("data source = %s, expected HYBRID", order.DataSource)
	}
	if !order.EstimatedCommission.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("commission = %s, expected settled 12", order.EstimatedCommission)
	}
	if !order.CommissionDifference.Valid || !order.CommissionDifference.Decimal.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("difference = %+v, expected 2 (real - estimate)", order.CommissionDifference)
	}
}

func TestReconcileOrder_SkipsNonEstimated(t *testing.T) {
	order := estimatedOrder(10, []SettlementRow{
		saleRow("s1", "ORD-R", 1, "BC-1", 100, 12),
	})
	order.IsCommissionEstimated = false
	order.DataSource = models.DataSourceSettlementAPI

	if reconcileOrder(order) {
		t.Fatal("non-estimated order must pass through untouched")
	}
	if order.DataSource != models.DataSourceSettlementAPI {
		t.Fatalf("data source changed to %s", order.DataSource)
	}
}

func TestReconcileOrder_NoSettlementDataStaysPending(t *testing.T) {
	order := estimatedOrder(10, nil)

	if reconcileOrder(order) {
		t.Fatal("order without settlement data must stay pending")
	}
	if !order.IsCommissionEstimated {
		t.Fatal("pending order must stay estimated")
	}
	if order.CommissionDifference.Valid {
		t.Fatal("pending order must not get a difference")
	}
}

func TestReconcileOrder_Idempotent(t *testing.T) {
	order := estimatedOrder(10, []SettlementRow{
		saleRow("s1", "ORD-R", 1, "BC-1", 100, 12),
	})
	if !reconcileOrder(order) {
		t.Fatal("first pass should apply")
	}
	after := *order
	if reconcileOrder(order) {
		t.Fatal("second pass must be a no-op")
	}
	if !order.EstimatedCommission.Equal(after.EstimatedCommission) ||
		order.DataSource != after.DataSource {
		t.Fatal("second pass mutated the order")
	}
}
