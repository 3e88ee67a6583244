package marketsync

import (
	"errors"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"bitbucket.org/mmdatafocus/sellersync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// resolveStoreId pulls the target store from the store_id query parameter,
// falling back to the store bound to the caller's token.
func resolveStoreId(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Query("store_id")
	if raw == "" {
		raw, _ = utils.GetStoreIdFromContext(c.Request.Context())
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "store_id is required"})
		return uuid.Nil, false
	}
	return id, true
}

func parseDateRange(c *gin.Context) (*time.Time, *time.Time, bool) {
	var from, to *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, marketplaceLocation)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return nil, nil, false
		}
		from = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, marketplaceLocation)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return nil, nil, false
		}
		end := t.AddDate(0, 0, 1).Add(-time.Second)
		to = &end
	}
	return from, to, true
}

// ConnectStore registers a seller account. Credentials are validated with one
// live probe before anything is persisted, then sealed at rest.
func ConnectStore(c *gin.Context) {
	ctx := c.Request.Context()
	logger := config.GetLogger()

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if fields := utils.ProcessValidationErrors(err); len(fields) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": fields})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Marketplace != models.MarketplaceTrendyol {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported marketplace"})
		return
	}

	keyEnc, err := utils.SealCredential(req.ApiKey)
	if err != nil {
		config.LogError(logger, "marketsync", "ConnectStore", "seal api key", req.SellerId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not secure credentials"})
		return
	}
	secretEnc, err := utils.SealCredential(req.ApiSecret)
	if err != nil {
		config.LogError(logger, "marketsync", "ConnectStore", "seal api secret", req.SellerId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not secure credentials"})
		return
	}

	store := &models.Store{
		ID:           uuid.New(),
		Marketplace:  req.Marketplace,
		SellerId:     req.SellerId,
		Name:         req.Name,
		Status:       models.StoreStatusConnected,
		ApiKeyEnc:    keyEnc,
		ApiSecretEnc: secretEnc,
	}

	client, err := newSettlementClient(store, gate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	probeEnd := truncateToDay(time.Now())
	if _, err := client.fetchPage(ctx, "Sale", probeEnd.AddDate(0, 0, -7), probeEnd, 0); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "credential validation failed", "detail": err.Error()})
		return
	}

	if err := config.GetDB().WithContext(ctx).Create(store).Error; err != nil {
		config.LogError(logger, "marketsync", "ConnectStore", "persist store", req.SellerId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save store"})
		return
	}
	c.JSON(http.StatusCreated, store)
}

// StartHistoricalSync queues a backfill run for the store. A live sync lock
// maps to 409 so clients can tell "already running" from a real failure.
func StartHistoricalSync(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}

	if _, err := models.GetStoreById(ctx, storeId); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
		return
	}

	held, err := models.IsSyncLockHeld(ctx, storeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if held {
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrSyncLockHeld.Error()})
		return
	}

	run := models.SettlementSyncRun{
		StoreId:     storeId,
		Mode:        models.SyncModeHistorical,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredManual,
	}
	if err := config.GetDB().WithContext(ctx).Create(&run).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	payload := SyncPubSubPayload{RunId: run.ID, StoreId: storeId, Mode: models.SyncModeHistorical}
	if err := PublishSyncRun(ctx, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "status": run.Status})
}

// HistoricalSyncStatus reports checkpoint progress, the quarantine list, and
// the most recent run row.
func HistoricalSyncStatus(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}

	cp, err := models.GetSyncCheckpoint(ctx, storeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	chunks, err := models.ListFailedChunks(ctx, storeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	held, err := models.IsSyncLockHeld(ctx, storeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var lastRun *models.SettlementSyncRun
	var run models.SettlementSyncRun
	err = config.GetDB().WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("id desc").
		Take(&run).Error
	if err == nil {
		lastRun = &run
	}

	c.JSON(http.StatusOK, gin.H{
		"running":       held,
		"checkpoint":    cp,
		"failed_chunks": chunks,
		"last_run":      lastRun,
	})
}

// ClearFailedChunks drops every quarantined window so the next run retries
// them from scratch.
func ClearFailedChunks(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}
	if err := models.PurgeFailedChunks(ctx, storeId); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func Reconcile(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}
	result, err := ReconcileStore(ctx, storeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func ReconcileAllStores(c *gin.Context) {
	results, err := ReconcileAll(c.Request.Context())
	if errors.Is(err, ErrReconcileRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": len(results), "results": results})
}

func ReconciliationHistory(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}
	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}
	logs, err := models.ListReconciliationLogs(ctx, storeId, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func ExportReconciliation(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}
	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}
	url, err := ExportReconciliationReport(ctx, storeId, from, to)
	if err != nil {
		config.LogError(config.GetLogger(), "marketsync", "ExportReconciliation", "export failed", storeId.String(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type settlementStats struct {
	TotalOrders     int64 `json:"total_orders"`
	SettlementOnly  int64 `json:"settlement_only"`
	OrderFeedOnly   int64 `json:"order_feed_only"`
	Hybrid          int64 `json:"hybrid"`
	Settled         int64 `json:"settled"`
	NotSettled      int64 `json:"not_settled"`
	EstimatedOrders int64 `json:"estimated_orders"`
}

const statsCacheTTL = 5 * time.Minute

// SettlementStats returns per-store order counts split by data source and
// settlement state. Results are cached briefly; operators poll this.
func SettlementStats(c *gin.Context) {
	ctx := c.Request.Context()
	storeId, ok := resolveStoreId(c)
	if !ok {
		return
	}

	cacheKey := "marketsync:stats:" + storeId.String()
	var stats settlementStats
	if hit, err := config.GetRedisObject(cacheKey, &stats); err == nil && hit {
		c.JSON(http.StatusOK, stats)
		return
	}

	counts := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalOrders, "", nil},
		{&stats.SettlementOnly, "data_source = ?", []interface{}{models.DataSourceSettlementAPI}},
		{&stats.OrderFeedOnly, "data_source = ?", []interface{}{models.DataSourceOrderAPI}},
		{&stats.Hybrid, "data_source = ?", []interface{}{models.DataSourceHybrid}},
		{&stats.Settled, "transaction_status = ?", []interface{}{models.TransactionStatusSettled}},
		{&stats.NotSettled, "transaction_status = ?", []interface{}{models.TransactionStatusNotSettled}},
		{&stats.EstimatedOrders, "is_commission_estimated = ?", []interface{}{true}},
	}
	for _, q := range counts {
		db := config.GetDB().WithContext(ctx).
			Model(&models.MarketplaceOrder{}).
			Where("store_id = ?", storeId)
		if q.query != "" {
			db = db.Where(q.query, q.args...)
		}
		if err := db.Count(q.dest).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	_ = config.SetRedisObject(cacheKey, stats, statsCacheTTL)
	c.JSON(http.StatusOK, stats)
}
