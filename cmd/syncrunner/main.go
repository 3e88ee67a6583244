package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/marketsync"
	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/google/uuid"
)

// Runs one store's settlement sync from the shell. Useful for onboarding a
// store without waiting for the next scheduled run.
func main() {
	storeFlag := flag.String("store", "", "store id (uuid), required")
	modeFlag := flag.String("mode", models.SyncModeHistorical, "sync mode: historical or daily")
	flag.Parse()

	storeId, err := uuid.Parse(*storeFlag)
	if err != nil {
		log.Fatalf("invalid -store: %v", err)
	}
	if *modeFlag != models.SyncModeHistorical && *modeFlag != models.SyncModeDaily {
		log.Fatalf("invalid -mode: %q", *modeFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	run := models.SettlementSyncRun{
		StoreId:     storeId,
		Mode:        *modeFlag,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredManual,
	}
	if err := config.GetDB().WithContext(ctx).Create(&run).Error; err != nil {
		log.Fatalf("create sync run: %v", err)
	}

	payload := marketsync.SyncPubSubPayload{RunId: run.ID, StoreId: storeId, Mode: *modeFlag}
	if err := marketsync.ProcessSyncRun(ctx, payload); err != nil {
		log.Fatalf("sync run %d failed: %v", run.ID, err)
	}

	var final models.SettlementSyncRun
	if err := config.GetDB().WithContext(ctx).Where("id = ?", run.ID).Take(&final).Error; err != nil {
		log.Fatalf("load sync run %d: %v", run.ID, err)
	}
	log.Printf("run %d finished: status=%s created=%d updated=%d chunks=%d failed=%d skipped=%d",
		final.ID, final.Status, final.OrdersCreated, final.OrdersUpdated,
		final.TotalChunks, final.FailedChunks, final.SkippedChunks)
}
