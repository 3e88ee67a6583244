package models

import (
	"log"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Store{},
		&MarketplaceOrder{},
		&Product{},
		&SyncCheckpoint{}, &SyncLock{}, &FailedChunk{},
		&SettlementSyncRun{},
		&ReconciliationLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
