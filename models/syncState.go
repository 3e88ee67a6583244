package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"github.com/google/uuid"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

const (
	SyncModeHistorical = "historical"
	SyncModeDaily      = "daily"
)

// SyncLockStaleAfter is how long a lock may sit untouched before the next run
// is allowed to reclaim it.
const SyncLockStaleAfter = 2 * time.Hour

var ErrSyncLockHeld = errors.New("historical sync already in progress for store")

// SyncCheckpoint tracks resumable progress of one store's historical backfill.
// CheckpointDate is the end of the last chunk fully persisted; a restart
// resumes from CheckpointDate + 1 day.
type SyncCheckpoint struct {
	ID                    uint       `gorm:"primary_key" json:"id"`
	StoreId               uuid.UUID  `gorm:"uniqueIndex;not null" json:"store_id"`
	StartDate             time.Time  `json:"start_date"`
	CheckpointDate        *time.Time `json:"checkpoint_date"`
	CurrentProcessingDate *time.Time `json:"current_processing_date"`
	TotalChunks           int        `json:"total_chunks"`
	CompletedChunks       int        `json:"completed_chunks"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncLock enforces single-flight backfill per store.
type SyncLock struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	StoreId    uuid.UUID `gorm:"uniqueIndex;not null" json:"store_id"`
	HolderId   string    `gorm:"size:64;not null" json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FailedChunk records one date window that failed processing. At
// retryCount >= 5 the chunk is quarantined and skipped until cleared.
type FailedChunk struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	StoreId    uuid.UUID `gorm:"uniqueIndex:idx_store_chunk,priority:1;not null" json:"store_id"`
	ChunkStart time.Time `gorm:"uniqueIndex:idx_store_chunk,priority:2;not null" json:"chunk_start"`
	ChunkEnd   time.Time `gorm:"not null" json:"chunk_end"`
	RetryCount int       `gorm:"default:0" json:"retry_count"`
	LastError  string    `gorm:"type:text" json:"last_error"`
	FailedAt   time.Time `json:"failed_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SettlementSyncRun is the durable record of one sync execution, historical or
// daily, dispatched over Pub/Sub and finalized by the worker.
type SettlementSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	StoreId       uuid.UUID  `gorm:"index;not null" json:"store_id"`
	Mode          string     `gorm:"size:20;not null" json:"mode"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	OrdersCreated int        `json:"orders_created"`
	OrdersUpdated int        `json:"orders_updated"`
	TotalChunks   int        `json:"total_chunks"`
	FailedChunks  int        `json:"failed_chunks"`
	SkippedChunks int        `json:"skipped_chunks"`
	ErrorCount    int        `json:"error_count"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// AcquireSyncLock inserts the per-store lock row. A live lock surfaces
// ErrSyncLockHeld; a stale one (untouched beyond SyncLockStaleAfter) is
// reclaimed in place.
func AcquireSyncLock(ctx context.Context, storeId uuid.UUID, holderId string) error {
	db := config.GetDB().WithContext(ctx)

	lock := SyncLock{
		StoreId:    storeId,
		HolderId:   holderId,
		AcquiredAt: time.Now(),
	}
	err := db.Create(&lock).Error
	if err == nil {
		return nil
	}
	if !isDuplicateKeyErr(err) {
		return err
	}

	var existing SyncLock
	if err := db.Where("store_id = ?", storeId).Take(&existing).Error; err != nil {
		return err
	}
	if time.Since(existing.AcquiredAt) < SyncLockStaleAfter {
		return ErrSyncLockHeld
	}

	// Stale: reclaim by taking over the row.
	return db.Model(&SyncLock{}).
		Where("id = ? AND holder_id = ?", existing.ID, existing.HolderId).
		Updates(map[string]interface{}{
			"holder_id":   holderId,
			"acquired_at": time.Now(),
		}).Error
}

// IsSyncLockHeld reports whether a live (non-stale) lock exists for the store.
func IsSyncLockHeld(ctx context.Context, storeId uuid.UUID) (bool, error) {
	db := config.GetDB()
	var lock SyncLock
	err := db.WithContext(ctx).Where("store_id = ?", storeId).Take(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(lock.AcquiredAt) < SyncLockStaleAfter, nil
}

// ReleaseSyncLock removes the lock row regardless of holder. Called from the
// deferred path of the coordinator so a crashed chunk loop still unlocks.
func ReleaseSyncLock(ctx context.Context, storeId uuid.UUID) error {
	return config.GetDB().WithContext(ctx).
		Where("store_id = ?", storeId).
		Delete(&SyncLock{}).Error
}

func GetSyncCheckpoint(ctx context.Context, storeId uuid.UUID) (*SyncCheckpoint, error) {
	db := config.GetDB()
	var cp SyncCheckpoint
	err := db.WithContext(ctx).Where("store_id = ?", storeId).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func DeleteSyncCheckpoint(ctx context.Context, storeId uuid.UUID) error {
	return config.GetDB().WithContext(ctx).
		Where("store_id = ?", storeId).
		Delete(&SyncCheckpoint{}).Error
}

func GetFailedChunk(ctx context.Context, storeId uuid.UUID, chunkStart time.Time) (*FailedChunk, error) {
	db := config.GetDB()
	var fc FailedChunk
	err := db.WithContext(ctx).
		Where("store_id = ? AND chunk_start = ?", storeId, chunkStart).
		Take(&fc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

// RecordFailedChunk creates or increments the failure record for one window.
func RecordFailedChunk(ctx context.Context, storeId uuid.UUID, chunkStart, chunkEnd time.Time, cause error) error {
	db := config.GetDB().WithContext(ctx)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	existing, err := GetFailedChunk(ctx, storeId, chunkStart)
	if err != nil {
		return err
	}
	if existing == nil {
		return db.Create(&FailedChunk{
			StoreId:    storeId,
			ChunkStart: chunkStart,
			ChunkEnd:   chunkEnd,
			RetryCount: 1,
			LastError:  msg,
			FailedAt:   time.Now(),
		}).Error
	}
	return db.Model(&FailedChunk{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"retry_count": existing.RetryCount + 1,
			"last_error":  msg,
			"failed_at":   time.Now(),
		}).Error
}

func ClearFailedChunk(ctx context.Context, storeId uuid.UUID, chunkStart time.Time) error {
	return config.GetDB().WithContext(ctx).
		Where("store_id = ? AND chunk_start = ?", storeId, chunkStart).
		Delete(&FailedChunk{}).Error
}

func ListFailedChunks(ctx context.Context, storeId uuid.UUID) ([]*FailedChunk, error) {
	db := config.GetDB()
	var chunks []*FailedChunk
	if err := db.WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("chunk_start asc").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// PurgeFailedChunks drops every quarantine row for a store. Used when a
// backfill completes clean and by the operator clear endpoint.
func PurgeFailedChunks(ctx context.Context, storeId uuid.UUID) error {
	return config.GetDB().WithContext(ctx).
		Where("store_id = ?", storeId).
		Delete(&FailedChunk{}).Error
}
