package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/marketsync"
)

// Cron entrypoint: pulls the trailing settlement window for every connected
// store. Scheduled nightly; a store whose sync lock is held is skipped.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := marketsync.RunDailySyncAll(ctx); err != nil {
		log.Fatalf("daily sync: %v", err)
	}
	log.Println("daily sync sweep finished")
}
