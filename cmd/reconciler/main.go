package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/marketsync"
	"github.com/google/uuid"
)

// Cron entrypoint: reconciles estimated commissions against settled ledgers
// for every connected store, or a single store when -store is given.
func main() {
	storeFlag := flag.String("store", "", "reconcile only this store id (uuid)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if *storeFlag != "" {
		storeId, err := uuid.Parse(*storeFlag)
		if err != nil {
			log.Fatalf("invalid -store: %v", err)
		}
		result, err := marketsync.ReconcileStore(ctx, storeId)
		if err != nil {
			log.Fatalf("reconcile %s: %v", storeId, err)
		}
		log.Printf("store %s: processed=%d reconciled=%d pending=%d diff=%s",
			storeId, result.Processed, result.Reconciled, result.Pending, result.TotalDifference)
		return
	}

	results, err := marketsync.ReconcileAll(ctx)
	if err != nil {
		log.Fatalf("reconcile-all: %v", err)
	}
	for _, r := range results {
		log.Printf("store %s: processed=%d reconciled=%d pending=%d diff=%s",
			r.StoreId, r.Processed, r.Reconciled, r.Pending, r.TotalDifference)
	}
}
