package marketsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// gate is shared across every sync path so concurrent runs for the same store
// still respect the per-store request budget.
var gate = NewRateGateFromEnv()

var tracer trace.Tracer = otel.Tracer("sellersync/marketsync")

const dailyLookbackDays = 15

func workerHolderId() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}

// ProcessSyncRun executes one queued SettlementSyncRun to completion and
// finalizes its row. Terminal runs are skipped, so redelivered Pub/Sub
// messages are harmless.
func ProcessSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	ctx, span := tracer.Start(ctx, "marketsync.ProcessSyncRun")
	defer span.End()

	db := config.GetDB().WithContext(ctx)
	logger := config.GetLogger()

	var run models.SettlementSyncRun
	if err := db.Where("id = ?", payload.RunId).Take(&run).Error; err != nil {
		return fmt.Errorf("load sync run %d: %w", payload.RunId, err)
	}
	switch run.Status {
	case models.SyncRunStatusSuccess, models.SyncRunStatusFailed, models.SyncRunStatusPartial:
		return nil
	}

	store, err := models.GetStoreById(ctx, run.StoreId)
	if err != nil {
		return fmt.Errorf("load store %s: %w", run.StoreId, err)
	}

	started := time.Now()
	run.Status = models.SyncRunStatusRunning
	run.StartedAt = &started
	if err := db.Save(&run).Error; err != nil {
		return err
	}

	result, execErr := executeSync(ctx, store, run.Mode)

	finished := time.Now()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(started).Milliseconds()

	if execErr != nil {
		span.RecordError(execErr)
		run.Status = models.SyncRunStatusFailed
		run.ErrorCount++
		run.LastError = execErr.Error()
		config.LogError(logger, "marketsync", "ProcessSyncRun", "sync run failed", store.ID.String(), execErr)
	} else {
		run.OrdersCreated = result.OrdersCreated
		run.OrdersUpdated = result.OrdersUpdated
		run.TotalChunks = result.TotalChunks
		run.FailedChunks = result.FailedChunks
		run.SkippedChunks = result.SkippedChunks
		run.LastError = result.LastError
		switch result.Status {
		case SyncStatusCompleted:
			run.Status = models.SyncRunStatusSuccess
		case SyncStatusPartial:
			run.Status = models.SyncRunStatusPartial
		default:
			run.Status = models.SyncRunStatusFailed
		}
	}
	if err := db.Save(&run).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{"last_sync_at": finished}
	if run.Status == models.SyncRunStatusSuccess {
		updates["last_success_sync_at"] = finished
	}
	return db.Model(&models.Store{}).Where("id = ?", store.ID).Updates(updates).Error
}

func executeSync(ctx context.Context, store *models.Store, mode string) (*SyncResult, error) {
	switch mode {
	case models.SyncModeHistorical:
		coordinator, err := NewChunkedSyncCoordinator(store, gate, workerHolderId())
		if err != nil {
			return nil, err
		}
		return coordinator.Run(ctx)
	case models.SyncModeDaily:
		return runDailySync(ctx, store)
	default:
		return nil, fmt.Errorf("unknown sync mode %q", mode)
	}
}

// runDailySync pulls the trailing fifteen days as one window. The merge is
// idempotent, so overlapping the previous day's pull costs nothing.
func runDailySync(ctx context.Context, store *models.Store) (*SyncResult, error) {
	client, err := newSettlementClient(store, gate)
	if err != nil {
		return nil, err
	}

	end := truncateToDay(time.Now())
	start := end.AddDate(0, 0, -dailyLookbackDays)

	result := &SyncResult{StoreId: store.ID, TotalChunks: 1, StartDate: &start}

	rows, err := fetchChunkPages(ctx, client, start, end, time.Sleep)
	if err != nil {
		result.Status = SyncStatusFailed
		result.FailedChunks = 1
		result.LastError = err.Error()
		return result, nil
	}

	created, updated, err := persistSettlements(ctx, store.ID, rows)
	result.OrdersCreated = created
	result.OrdersUpdated = updated
	if err != nil {
		result.Status = SyncStatusFailed
		result.FailedChunks = 1
		result.LastError = err.Error()
		return result, nil
	}

	result.ProcessedChunks = 1
	result.Status = SyncStatusCompleted
	return result, nil
}

// RunDailySyncAll fans the daily pull out over every connected store. Stores
// failing mid-run do not stop the sweep; a store already holding its sync
// lock is counted as skipped.
func RunDailySyncAll(ctx context.Context) error {
	logger := config.GetLogger()

	stores, err := models.GetConnectedStores(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency())
	for _, store := range stores {
		store := store
		g.Go(func() error {
			run := models.SettlementSyncRun{
				StoreId:     store.ID,
				Mode:        models.SyncModeDaily,
				Status:      models.SyncRunStatusQueued,
				TriggeredBy: models.SyncTriggeredSystem,
			}
			if err := config.GetDB().WithContext(gctx).Create(&run).Error; err != nil {
				config.LogError(logger, "marketsync", "RunDailySyncAll", "create run failed", store.ID.String(), err)
				return nil
			}
			payload := SyncPubSubPayload{RunId: run.ID, StoreId: store.ID, Mode: models.SyncModeDaily}
			if err := ProcessSyncRun(gctx, payload); err != nil && !errors.Is(err, models.ErrSyncLockHeld) {
				config.LogError(logger, "marketsync", "RunDailySyncAll", "daily sync failed", store.ID.String(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
