package marketsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	chunkDays           = 14
	quarantineThreshold = 5

	interChunkDelay = 300 * time.Millisecond
	interKindDelay  = 200 * time.Millisecond
	interPageDelay  = 100 * time.Millisecond
)

type dateChunk struct {
	start time.Time
	end   time.Time
}

// partitionChunks splits [from, to] into ascending 14-day windows. The last
// window is clipped to the end date.
func partitionChunks(from, to time.Time) []dateChunk {
	from = truncateToDay(from)
	to = truncateToDay(to)

	var chunks []dateChunk
	for cursor := from; !cursor.After(to); cursor = cursor.AddDate(0, 0, chunkDays) {
		end := cursor.AddDate(0, 0, chunkDays-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, dateChunk{start: cursor, end: end})
	}
	return chunks
}

func finalStatus(total, failed, skipped int) string {
	switch {
	case failed == 0 && skipped == 0:
		return SyncStatusCompleted
	case failed+skipped < total:
		return SyncStatusPartial
	default:
		return SyncStatusFailed
	}
}

// coordinatorDeps is the seam between the chunk loop and everything with side
// effects. Tests swap these; production wiring lives in
// NewChunkedSyncCoordinator.
type coordinatorDeps struct {
	findOrigin      func(ctx context.Context) (time.Time, error)
	fetchChunk      func(ctx context.Context, start, end time.Time) ([]SettlementRow, error)
	persistRows     func(ctx context.Context, rows []SettlementRow) (created, updated int, err error)
	acquireLock     func(ctx context.Context) error
	releaseLock     func(ctx context.Context)
	getCheckpoint   func(ctx context.Context) (*models.SyncCheckpoint, error)
	saveCheckpoint  func(ctx context.Context, cp *models.SyncCheckpoint) error
	clearCheckpoint func(ctx context.Context) error
	failedChunk     func(ctx context.Context, chunkStart time.Time) (*models.FailedChunk, error)
	recordFailure   func(ctx context.Context, chunkStart, chunkEnd time.Time, cause error) error
	clearFailure    func(ctx context.Context, chunkStart time.Time) error
	purgeFailures   func(ctx context.Context) error
	sleep           func(d time.Duration)
	now             func() time.Time
}

// ChunkedSyncCoordinator drives one store's historical settlement backfill:
// single-flight lock, checkpointed 14-day chunks, and per-chunk failure
// isolation with quarantine after repeated failures.
type ChunkedSyncCoordinator struct {
	storeId uuid.UUID
	deps    coordinatorDeps
}

func NewChunkedSyncCoordinator(store *models.Store, gate *RateGate, holderId string) (*ChunkedSyncCoordinator, error) {
	client, err := newSettlementClient(store, gate)
	if err != nil {
		return nil, err
	}
	finder := newOriginDateFinder(client)
	storeId := store.ID

	return &ChunkedSyncCoordinator{
		storeId: storeId,
		deps: coordinatorDeps{
			findOrigin: finder.Find,
			fetchChunk: func(ctx context.Context, start, end time.Time) ([]SettlementRow, error) {
				return fetchChunkPages(ctx, client, start, end, time.Sleep)
			},
			persistRows: func(ctx context.Context, rows []SettlementRow) (int, int, error) {
				return persistSettlements(ctx, storeId, rows)
			},
			acquireLock: func(ctx context.Context) error {
				return models.AcquireSyncLock(ctx, storeId, holderId)
			},
			releaseLock: func(ctx context.Context) {
				if err := models.ReleaseSyncLock(ctx, storeId); err != nil {
					config.LogError(config.GetLogger(), "marketsync", "ReleaseSyncLock", "release failed", storeId.String(), err)
				}
			},
			getCheckpoint: func(ctx context.Context) (*models.SyncCheckpoint, error) {
				return models.GetSyncCheckpoint(ctx, storeId)
			},
			saveCheckpoint: func(ctx context.Context, cp *models.SyncCheckpoint) error {
				return config.GetDB().WithContext(ctx).Save(cp).Error
			},
			clearCheckpoint: func(ctx context.Context) error {
				return models.DeleteSyncCheckpoint(ctx, storeId)
			},
			failedChunk: func(ctx context.Context, chunkStart time.Time) (*models.FailedChunk, error) {
				return models.GetFailedChunk(ctx, storeId, chunkStart)
			},
			recordFailure: func(ctx context.Context, chunkStart, chunkEnd time.Time, cause error) error {
				return models.RecordFailedChunk(ctx, storeId, chunkStart, chunkEnd, cause)
			},
			clearFailure: func(ctx context.Context, chunkStart time.Time) error {
				return models.ClearFailedChunk(ctx, storeId, chunkStart)
			},
			purgeFailures: func(ctx context.Context) error {
				return models.PurgeFailedChunks(ctx, storeId)
			},
			sleep: time.Sleep,
			now:   time.Now,
		},
	}, nil
}

// Run executes the backfill. The lock is released on every exit path; a held
// lock surfaces models.ErrSyncLockHeld untouched so callers can map it to a
// conflict response.
func (c *ChunkedSyncCoordinator) Run(ctx context.Context) (*SyncResult, error) {
	if err := c.deps.acquireLock(ctx); err != nil {
		return nil, err
	}
	defer c.deps.releaseLock(context.WithoutCancel(ctx))

	cp, err := c.deps.getCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	var syncStart time.Time
	if cp != nil && cp.CheckpointDate != nil {
		syncStart = truncateToDay(*cp.CheckpointDate).AddDate(0, 0, 1)
	} else if cp != nil {
		syncStart = truncateToDay(cp.StartDate)
	} else {
		origin, err := c.deps.findOrigin(ctx)
		if err != nil {
			return nil, fmt.Errorf("origin date search: %w", err)
		}
		cp = &models.SyncCheckpoint{StoreId: c.storeId, StartDate: origin}
		syncStart = origin
	}

	today := truncateToDay(c.deps.now())
	chunks := partitionChunks(syncStart, today)

	result := &SyncResult{
		StoreId:     c.storeId,
		TotalChunks: len(chunks),
		StartDate:   &cp.StartDate,
	}

	cp.TotalChunks = cp.CompletedChunks + len(chunks)
	if err := c.deps.saveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	// The checkpoint only advances while every earlier chunk in this run is
	// complete or quarantined. A failed chunk freezes it so the next run
	// resumes at the failure and retries it; later chunks still process
	// (idempotent merge makes the overlap on the next run harmless).
	prefixClean := true

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := chunk.start
		cp.CurrentProcessingDate = &start
		if err := c.deps.saveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}

		fc, err := c.deps.failedChunk(ctx, chunk.start)
		if err != nil {
			return nil, err
		}
		if fc != nil && fc.RetryCount >= quarantineThreshold {
			result.SkippedChunks++
			if prefixClean {
				end := chunk.end
				cp.CheckpointDate = &end
				if err := c.deps.saveCheckpoint(ctx, cp); err != nil {
					return nil, err
				}
			}
			continue
		}

		rows, err := c.deps.fetchChunk(ctx, chunk.start, chunk.end)
		if err == nil {
			var created, updated int
			created, updated, err = c.deps.persistRows(ctx, rows)
			result.OrdersCreated += created
			result.OrdersUpdated += updated
		}
		if err != nil {
			if recErr := c.deps.recordFailure(ctx, chunk.start, chunk.end, err); recErr != nil {
				return nil, recErr
			}
			result.FailedChunks++
			result.LastError = err.Error()
			prefixClean = false
			continue
		}

		result.ProcessedChunks++
		if prefixClean {
			end := chunk.end
			cp.CheckpointDate = &end
			cp.CompletedChunks++
			if err := c.deps.saveCheckpoint(ctx, cp); err != nil {
				return nil, err
			}
		}
		if err := c.deps.clearFailure(ctx, chunk.start); err != nil {
			return nil, err
		}

		if i < len(chunks)-1 {
			c.deps.sleep(interChunkDelay)
		}
	}

	result.Status = finalStatus(len(chunks), result.FailedChunks, result.SkippedChunks)
	if result.Status == SyncStatusCompleted {
		if err := c.deps.clearCheckpoint(ctx); err != nil {
			return nil, err
		}
		if err := c.deps.purgeFailures(ctx); err != nil {
			return nil, err
		}
	} else {
		cp.CurrentProcessingDate = nil
		if err := c.deps.saveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// fetchChunkPages pulls every transaction kind for one window, walking the
// paged responses. totalPages comes from the first page of each kind.
func fetchChunkPages(ctx context.Context, client *settlementClient, start, end time.Time, sleep func(time.Duration)) ([]SettlementRow, error) {
	windowStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, marketplaceLocation)
	windowEnd := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, marketplaceLocation)

	var rows []SettlementRow
	for k, kind := range settlementKinds {
		first, err := client.fetchPage(ctx, kind, windowStart, windowEnd, 0)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page 0: %w", kind, err)
		}
		rows = append(rows, first.Content...)

		for page := 1; page < first.TotalPages; page++ {
			sleep(interPageDelay)
			next, err := client.fetchPage(ctx, kind, windowStart, windowEnd, page)
			if err != nil {
				return nil, fmt.Errorf("fetch %s page %d: %w", kind, page, err)
			}
			rows = append(rows, next.Content...)
		}

		if k < len(settlementKinds)-1 {
			sleep(interKindDelay)
		}
	}
	return rows, nil
}

// persistSettlements writes one chunk's rows to the order store: settlement
// rows merge into existing orders, packages never seen before become
// settlement-only orders, and packageless returns convert SOLD rows across
// the order's packages.
func persistSettlements(ctx context.Context, storeId uuid.UUID, rows []SettlementRow) (int, int, error) {
	db := config.GetDB().WithContext(ctx)

	grouped, looseReturns := groupSettlementRows(rows)
	created, updated := 0, 0

	for key, group := range grouped {
		order, err := models.GetOrderByNumberAndPackage(ctx, storeId, key.OrderNumber, key.PackageId)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, updated, err
		}

		if order == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			fresh, ok := buildOrderFromSettlements(storeId, key.OrderNumber, key.PackageId, group)
			if !ok {
				continue
			}
			if err := db.Create(fresh).Error; err != nil {
				return created, updated, err
			}
			created++
			continue
		}

		if mergeSettlements(order, group) {
			if err := db.Save(order).Error; err != nil {
				return created, updated, err
			}
			updated++
		}
	}

	orderNumbers := make(map[string]bool)
	for _, row := range looseReturns {
		orderNumbers[row.OrderNumber] = true
	}
	for orderNumber := range orderNumbers {
		packages, err := models.GetOrdersByNumber(ctx, storeId, orderNumber)
		if err != nil {
			return created, updated, err
		}
		var rowsForOrder []SettlementRow
		for _, row := range looseReturns {
			if row.OrderNumber == orderNumber {
				rowsForOrder = append(rowsForOrder, row)
			}
		}
		for _, changed := range applyLooseReturns(packages, rowsForOrder) {
			if err := db.Save(changed).Error; err != nil {
				return created, updated, err
			}
			updated++
		}
	}

	updateProductCommissionRates(ctx, storeId, rows)
	return created, updated, nil
}
