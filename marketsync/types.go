package marketsync

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementRow is a single settlement line as the marketplace API returns it.
type SettlementRow struct {
	Id                string          `json:"id"`
	TransactionDate   int64           `json:"transactionDate"`
	OrderDate         int64           `json:"orderDate"`
	Barcode           string          `json:"barcode"`
	TransactionType   string          `json:"transactionType"`
	ReceiptId         int64           `json:"receiptId"`
	Debt              decimal.Decimal `json:"debt"`
	Credit            decimal.Decimal `json:"credit"`
	CommissionRate    decimal.Decimal `json:"commissionRate"`
	CommissionAmount  decimal.Decimal `json:"commissionAmount"`
	OrderNumber       string          `json:"orderNumber"`
	ShipmentPackageId *int64          `json:"shipmentPackageId"`
	PaymentOrderId    int64           `json:"paymentOrderId"`
	PaymentPeriod     int             `json:"paymentPeriod"`
}

// settlementKinds are the transaction kinds pulled for every chunk, in the
// order they are merged into the ledger.
var settlementKinds = []string{"Sale", "Return", "Discount", "Coupon", "EarlyPayment"}

const (
	SyncStatusCompleted = "COMPLETED"
	SyncStatusPartial   = "PARTIAL"
	SyncStatusFailed    = "FAILED"
)

// SyncResult summarizes one coordinator run over a store.
type SyncResult struct {
	StoreId       uuid.UUID  `json:"storeId"`
	Status        string     `json:"status"`
	TotalChunks   int        `json:"totalChunks"`
	ProcessedChunks int      `json:"processedChunks"`
	FailedChunks  int        `json:"failedChunks"`
	SkippedChunks int        `json:"skippedChunks"`
	OrdersCreated int        `json:"ordersCreated"`
	OrdersUpdated int        `json:"ordersUpdated"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// ReconciliationResult summarizes one reconciliation pass over a store.
type ReconciliationResult struct {
	StoreId         uuid.UUID       `json:"storeId"`
	Processed       int             `json:"processed"`
	Reconciled      int             `json:"reconciled"`
	Pending         int             `json:"pending"`
	TotalEstimated  decimal.Decimal `json:"totalEstimated"`
	TotalReal       decimal.Decimal `json:"totalReal"`
	TotalDifference decimal.Decimal `json:"totalDifference"`
}

type ConnectRequest struct {
	Marketplace string `json:"marketplace" binding:"required"`
	SellerId    string `json:"sellerId" binding:"required"`
	Name        string `json:"name"`
	ApiKey      string `json:"apiKey" binding:"required"`
	ApiSecret   string `json:"apiSecret" binding:"required"`
}

type ExportRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SyncPubSubPayload is the message body dispatched for asynchronous sync runs.
type SyncPubSubPayload struct {
	RunId   uint      `json:"runId"`
	StoreId uuid.UUID `json:"storeId"`
	Mode    string    `json:"mode"`
}

// PubSubPushEnvelope is the wrapper Google Pub/Sub wraps push deliveries in.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func envBoolDefault(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return parsed
}
