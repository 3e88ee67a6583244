package marketsync

import (
	"context"
	"sort"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// classify maps a raw marketplace transaction kind onto a ledger status. The
// API mixes English and Turkish labels depending on the endpoint vintage.
func classify(raw string) string {
	switch raw {
	case "Sale", "Satış":
		return models.LedgerStatusSold
	case "Return", "İade":
		return models.LedgerStatusReturned
	case "Discount", "İndirim":
		return models.LedgerStatusDiscount
	case "DiscountCancel", "İndirim İptal":
		return models.LedgerStatusDiscountCancel
	case "Coupon", "Kupon":
		return models.LedgerStatusCoupon
	case "CouponCancel", "Kupon İptal":
		return models.LedgerStatusCouponCancel
	case "Cancel", "İptal":
		return models.LedgerStatusCancelled
	case "ManualRefund", "Manuel İade":
		return models.LedgerStatusManualRefund
	case "ManualRefundCancel", "Manuel İade İptal":
		return models.LedgerStatusManualRefundCancel
	case "TYDiscount":
		return models.LedgerStatusTYDiscount
	case "TYDiscountCancel":
		return models.LedgerStatusTYDiscountCancel
	case "TYCoupon":
		return models.LedgerStatusTYCoupon
	case "TYCouponCancel":
		return models.LedgerStatusTYCouponCancel
	case "ProvisionPositive":
		return models.LedgerStatusProvisionPositive
	case "ProvisionNegative":
		return models.LedgerStatusProvisionNegative
	case "CommissionPositive":
		return models.LedgerStatusCommissionPositive
	case "CommissionNegative":
		return models.LedgerStatusCommissionNegative
	case "EarlyPayment", "Erken Ödeme":
		return models.LedgerStatusEarlyPayment
	default:
		return models.LedgerStatusUnknown
	}
}

func rowToTransaction(row SettlementRow, status string) models.SettlementTransaction {
	return models.SettlementTransaction{
		Id:               row.Id,
		TransactionType:  row.TransactionType,
		Status:           status,
		Barcode:          row.Barcode,
		TransactionDate:  fromEpochMillis(row.TransactionDate),
		Debt:             row.Debt,
		Credit:           row.Credit,
		CommissionRate:   row.CommissionRate,
		CommissionAmount: row.CommissionAmount,
		ReceiptId:        row.ReceiptId,
		PaymentPeriod:    row.PaymentPeriod,
		PaymentOrderId:   row.PaymentOrderId,
	}
}

// orderPackageKey identifies one shipment package of one order.
type orderPackageKey struct {
	OrderNumber string
	PackageId   int64
}

// groupSettlementRows buckets rows by order number and shipment package. Rows
// without an order number are dropped. Returns without a shipment package are
// handed back separately so they can be matched across a whole order.
func groupSettlementRows(rows []SettlementRow) (map[orderPackageKey][]SettlementRow, []SettlementRow) {
	grouped := make(map[orderPackageKey][]SettlementRow)
	var looseReturns []SettlementRow
	for _, row := range rows {
		if row.OrderNumber == "" {
			continue
		}
		if row.ShipmentPackageId == nil {
			if classify(row.TransactionType) == models.LedgerStatusReturned {
				looseReturns = append(looseReturns, row)
			}
			continue
		}
		key := orderPackageKey{OrderNumber: row.OrderNumber, PackageId: *row.ShipmentPackageId}
		grouped[key] = append(grouped[key], row)
	}
	return grouped, looseReturns
}

func ledgerFor(ledgers []models.LineItemLedger, barcode string) ([]models.LineItemLedger, int) {
	for i := range ledgers {
		if ledgers[i].Barcode == barcode {
			return ledgers, i
		}
	}
	ledgers = append(ledgers, models.LineItemLedger{Barcode: barcode})
	return ledgers, len(ledgers) - 1
}

// convertSoldToReturned flips one SOLD row in the ledger in place, recording
// the return's transaction id so the same return can never convert twice. It
// reports whether a convertible row existed.
func convertSoldToReturned(ledger *models.LineItemLedger, returnId string, returnDate *int64) bool {
	for i := range ledger.Transactions {
		if ledger.Transactions[i].Status == models.LedgerStatusSold {
			ledger.Transactions[i].Status = models.LedgerStatusReturned
			ledger.Transactions[i].TransactionType = "İade"
			ledger.Transactions[i].ReturnId = returnId
			if returnDate != nil {
				ledger.Transactions[i].TransactionDate = fromEpochMillis(*returnDate)
			}
			return true
		}
	}
	return false
}

// mergeSettlements folds settlement rows into an order's ledgers. The merge
// is idempotent per transaction id: rows already present are skipped, so a
// re-run over the same window cannot double count. Sales land first, then
// returns (which convert a SOLD row in place when one exists), then the
// financial adjustment kinds. Operational fields set by the order feed are
// never touched.
func mergeSettlements(order *models.MarketplaceOrder, rows []SettlementRow) bool {
	ledgers := order.Ledgers()

	var sales, returns, rest []SettlementRow
	for _, row := range rows {
		switch classify(row.TransactionType) {
		case models.LedgerStatusSold:
			sales = append(sales, row)
		case models.LedgerStatusReturned:
			returns = append(returns, row)
		default:
			rest = append(rest, row)
		}
	}

	changed := false
	var firstTxnDate *int64

	noteDate := func(row SettlementRow) {
		if firstTxnDate == nil && row.TransactionDate > 0 {
			ms := row.TransactionDate
			firstTxnDate = &ms
		}
	}

	for _, row := range sales {
		var idx int
		ledgers, idx = ledgerFor(ledgers, row.Barcode)
		if ledgers[idx].HasTransaction(row.Id) {
			continue
		}
		ledgers[idx].Transactions = append(ledgers[idx].Transactions, rowToTransaction(row, models.LedgerStatusSold))
		noteDate(row)
		changed = true
	}

	for _, row := range returns {
		var idx int
		ledgers, idx = ledgerFor(ledgers, row.Barcode)
		if ledgers[idx].HasTransaction(row.Id) {
			continue
		}
		ms := row.TransactionDate
		if !convertSoldToReturned(&ledgers[idx], row.Id, &ms) {
			ledgers[idx].Transactions = append(ledgers[idx].Transactions, rowToTransaction(row, models.LedgerStatusReturned))
		}
		noteDate(row)
		changed = true
	}

	for _, row := range rest {
		status := classify(row.TransactionType)
		var idx int
		ledgers, idx = ledgerFor(ledgers, row.Barcode)
		if ledgers[idx].HasTransaction(row.Id) {
			continue
		}
		ledgers[idx].Transactions = append(ledgers[idx].Transactions, rowToTransaction(row, status))
		noteDate(row)
		changed = true

		switch status {
		case models.LedgerStatusCoupon:
			order.CouponDiscount = order.CouponDiscount.Add(row.Debt)
		case models.LedgerStatusEarlyPayment:
			order.EarlyPaymentFee = order.EarlyPaymentFee.Add(row.Debt)
		}
	}

	if !changed {
		return false
	}

	for i := range ledgers {
		ledgers[i].Recalculate()
	}
	order.SetLedgers(ledgers)

	order.TransactionStatus = models.TransactionStatusSettled
	order.IsCommissionEstimated = false
	if order.TransactionDate == nil && firstTxnDate != nil {
		order.TransactionDate = fromEpochMillis(*firstTxnDate)
	}
	if !order.HasOperationalData() {
		order.Status = statusFromLedgers(ledgers)
	}
	return true
}

func statusFromLedgers(ledgers []models.LineItemLedger) string {
	sold, returned := 0, 0
	for _, l := range ledgers {
		sold += l.Summary.SoldQuantity
		returned += l.Summary.ReturnedQuantity
	}
	switch {
	case returned == 0:
		return models.OrderStatusDelivered
	case sold == 0:
		return models.OrderStatusReturned
	default:
		return models.OrderStatusPartiallyReturned
	}
}

// buildOrderFromSettlements creates a settlement-only order from one package's
// rows. Packages with no Sale row carry nothing to anchor an order on and are
// skipped.
func buildOrderFromSettlements(storeId uuid.UUID, orderNumber string, packageId int64, rows []SettlementRow) (*models.MarketplaceOrder, bool) {
	gross := decimal.Zero
	var firstSale *SettlementRow
	for i, row := range rows {
		if classify(row.TransactionType) == models.LedgerStatusSold {
			if firstSale == nil {
				firstSale = &rows[i]
			}
			gross = gross.Add(row.Credit)
		}
	}
	if firstSale == nil {
		return nil, false
	}

	order := &models.MarketplaceOrder{
		StoreId:     storeId,
		OrderNumber: orderNumber,
		PackageNo:   packageId,
		OrderDate:   fromEpochMillis(firstSale.OrderDate),
		GrossAmount: gross,
		DataSource:  models.DataSourceSettlementAPI,
	}
	mergeSettlements(order, rows)
	return order, true
}

// applyLooseReturns matches returns that carry no shipment package against
// every package of the same order, converting one SOLD row per return until
// the quantity is exhausted. Returns the packages it mutated.
func applyLooseReturns(orders []*models.MarketplaceOrder, looseReturns []SettlementRow) []*models.MarketplaceOrder {
	byOrder := make(map[string][]SettlementRow)
	for _, row := range looseReturns {
		byOrder[row.OrderNumber] = append(byOrder[row.OrderNumber], row)
	}

	touched := make(map[*models.MarketplaceOrder]bool)
	for orderNumber, rows := range byOrder {
		var packages []*models.MarketplaceOrder
		for _, o := range orders {
			if o.OrderNumber == orderNumber {
				packages = append(packages, o)
			}
		}
		if len(packages) == 0 {
			continue
		}

		for _, row := range rows {
			for _, pkg := range packages {
				ledgers := pkg.Ledgers()
				converted := false
				for i := range ledgers {
					if ledgers[i].Barcode != row.Barcode {
						continue
					}
					if ledgers[i].HasTransaction(row.Id) {
						converted = true
						break
					}
					ms := row.TransactionDate
					if convertSoldToReturned(&ledgers[i], row.Id, &ms) {
						ledgers[i].Recalculate()
						pkg.SetLedgers(ledgers)
						if !pkg.HasOperationalData() {
							pkg.Status = statusFromLedgers(ledgers)
						}
						touched[pkg] = true
						converted = true
					}
					break
				}
				if converted {
					break
				}
			}
		}
	}

	var changed []*models.MarketplaceOrder
	for _, o := range orders {
		if touched[o] {
			changed = append(changed, o)
		}
	}
	return changed
}

// updateProductCommissionRates records the freshest observed commission rate
// per barcode from this batch's sales.
func updateProductCommissionRates(ctx context.Context, storeId uuid.UUID, rows []SettlementRow) {
	latest := make(map[string]SettlementRow)
	for _, row := range rows {
		if classify(row.TransactionType) != models.LedgerStatusSold || row.Barcode == "" {
			continue
		}
		if prev, ok := latest[row.Barcode]; !ok || row.TransactionDate > prev.TransactionDate {
			latest[row.Barcode] = row
		}
	}

	barcodes := make([]string, 0, len(latest))
	for b := range latest {
		barcodes = append(barcodes, b)
	}
	sort.Strings(barcodes)

	for _, barcode := range barcodes {
		row := latest[barcode]
		observedAt := fromEpochMillis(row.TransactionDate)
		if observedAt == nil {
			continue
		}
		_ = models.UpdateProductCommission(ctx, storeId, barcode, row.CommissionRate, *observedAt)
	}
}
