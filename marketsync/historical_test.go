package marketsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/google/uuid"
)

// fakeBackfill is an in-memory stand-in for the coordinator's persistence and
// marketplace surfaces, so the chunk loop's state machine is testable on its
// own.
type fakeBackfill struct {
	storeId uuid.UUID
	now     time.Time
	origin  time.Time

	checkpoint *models.SyncCheckpoint
	failed     map[string]*models.FailedChunk

	attempted []time.Time
	fetchErr  func(start time.Time) error

	acquireErr  error
	acquired    int
	released    int
	originCalls int
	purged      int
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func newFakeBackfill(daysOfHistory int) *fakeBackfill {
	now := time.Date(2026, 8, 28, 0, 0, 0, 0, marketplaceLocation)
	return &fakeBackfill{
		storeId: uuid.New(),
		now:     now,
		origin:  now.AddDate(0, 0, -daysOfHistory),
		failed:  map[string]*models.FailedChunk{},
	}
}

func (f *fakeBackfill) coordinator() *ChunkedSyncCoordinator {
	return &ChunkedSyncCoordinator{
		storeId: f.storeId,
		deps: coordinatorDeps{
			findOrigin: func(context.Context) (time.Time, error) {
				f.originCalls++
				return f.origin, nil
			},
			fetchChunk: func(_ context.Context, start, end time.Time) ([]SettlementRow, error) {
				f.attempted = append(f.attempted, start)
				if f.fetchErr != nil {
					if err := f.fetchErr(start); err != nil {
						return nil, err
					}
				}
				return nil, nil
			},
			persistRows: func(context.Context, []SettlementRow) (int, int, error) {
				return 0, 0, nil
			},
			acquireLock: func(context.Context) error {
				if f.acquireErr != nil {
					return f.acquireErr
				}
				f.acquired++
				return nil
			},
			releaseLock: func(context.Context) { f.released++ },
			getCheckpoint: func(context.Context) (*models.SyncCheckpoint, error) {
				if f.checkpoint == nil {
					return nil, nil
				}
				cp := *f.checkpoint
				return &cp, nil
			},
			saveCheckpoint: func(_ context.Context, cp *models.SyncCheckpoint) error {
				saved := *cp
				f.checkpoint = &saved
				return nil
			},
			clearCheckpoint: func(context.Context) error {
				f.checkpoint = nil
				return nil
			},
			failedChunk: func(_ context.Context, chunkStart time.Time) (*models.FailedChunk, error) {
				fc, ok := f.failed[dayKey(chunkStart)]
				if !ok {
					return nil, nil
				}
				cp := *fc
				return &cp, nil
			},
			recordFailure: func(_ context.Context, chunkStart, chunkEnd time.Time, cause error) error {
				key := dayKey(chunkStart)
				if fc, ok := f.failed[key]; ok {
					fc.RetryCount++
					fc.LastError = cause.Error()
					return nil
				}
				f.failed[key] = &models.FailedChunk{
					StoreId:    f.storeId,
					ChunkStart: chunkStart,
					ChunkEnd:   chunkEnd,
					RetryCount: 1,
					LastError:  cause.Error(),
				}
				return nil
			},
			clearFailure: func(_ context.Context, chunkStart time.Time) error {
				delete(f.failed, dayKey(chunkStart))
				return nil
			},
			purgeFailures: func(context.Context) error {
				f.purged++
				f.failed = map[string]*models.FailedChunk{}
				return nil
			},
			sleep: func(time.Duration) {},
			now:   func() time.Time { return f.now },
		},
	}
}

func TestPartitionChunks(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, marketplaceLocation)

	chunks := partitionChunks(from, from.AddDate(0, 0, 30))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks over 31 days, got %d", len(chunks))
	}
	for i, c := range chunks {
		if i > 0 && !c.start.After(chunks[i-1].end) {
			t.Fatalf("chunks out of ascending order: %v", chunks)
		}
		if got := daysBetween(c.start, c.end); got > chunkDays-1 {
			t.Fatalf("chunk %d spans %d days", i, got+1)
		}
	}
	// Last chunk is clipped to the end date.
	if !chunks[2].end.Equal(from.AddDate(0, 0, 30)) {
		t.Fatalf("last chunk end = %s", chunks[2].end.Format("2006-01-02"))
	}

	if got := partitionChunks(from, from); len(got) != 1 || !got[0].start.Equal(got[0].end) {
		t.Fatalf("single-day window should be one chunk, got %v", got)
	}
	if got := partitionChunks(from, from.AddDate(0, 0, -1)); got != nil {
		t.Fatalf("inverted window should yield no chunks, got %v", got)
	}
}

func TestFinalStatus(t *testing.T) {
	cases := []struct {
		total, failed, skipped int
		want                   string
	}{
		{5, 0, 0, SyncStatusCompleted},
		{0, 0, 0, SyncStatusCompleted},
		{5, 1, 0, SyncStatusPartial},
		{5, 0, 2, SyncStatusPartial},
		{5, 2, 3, SyncStatusFailed},
		{1, 1, 0, SyncStatusFailed},
	}
	for _, tc := range cases {
		if got := finalStatus(tc.total, tc.failed, tc.skipped); got != tc.want {
			t.Fatalf("finalStatus(%d,%d,%d) = %s, expected %s",
				tc.total, tc.failed, tc.skipped, got, tc.want)
		}
	}
}

func TestCoordinator_CompletedRun(t *testing.T) {
	f := newFakeBackfill(40)

	result, err := f.coordinator().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != SyncStatusCompleted {
		t.Fatalf("status = %s, expected COMPLETED", result.Status)
	}
	if f.originCalls != 1 {
		t.Fatalf("origin search should run once, ran %d times", f.originCalls)
	}
	if len(f.attempted) != result.TotalChunks || result.TotalChunks == 0 {
		t.Fatalf("attempted %d chunks of %d", len(f.attempted), result.TotalChunks)
	}
	for i := 1; i < len(f.attempted); i++ {
		if !f.attempted[i].After(f.attempted[i-1]) {
			t.Fatal("chunks fetched out of ascending order")
		}
	}
	if f.checkpoint != nil {
		t.Fatal("completed run must clear the checkpoint")
	}
	if f.purged != 1 {
		t.Fatal("completed run must purge the quarantine")
	}
	if f.released != 1 {
		t.Fatalf("lock released %d times", f.released)
	}
}

func TestCoordinator_LockHeld(t *testing.T) {
	f := newFakeBackfill(40)
	f.acquireErr = models.ErrSyncLockHeld

	_, err := f.coordinator().Run(context.Background())
	if !errors.Is(err, models.ErrSyncLockHeld) {
		t.Fatalf("expected ErrSyncLockHeld, got %v", err)
	}
	if len(f.attempted) != 0 {
		t.Fatal("held lock must prevent any fetch")
	}
	if f.released != 0 {
		t.Fatal("lock not acquired must not be released")
	}
}

func TestCoordinator_ResumesFromCheckpoint(t *testing.T) {
	f := newFakeBackfill(60)
	checkpointDate := f.now.AddDate(0, 0, -20)
	f.checkpoint = &models.SyncCheckpoint{
		StoreId:        f.storeId,
		StartDate:      f.origin,
		CheckpointDate: &checkpointDate,
	}

	result, err := f.coordinator().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.originCalls != 0 {
		t.Fatal("resume must not re-run the origin search")
	}
	wantStart := checkpointDate.AddDate(0, 0, 1)
	if len(f.attempted) == 0 || !f.attempted[0].Equal(wantStart) {
		t.Fatalf("first fetched chunk starts %v, expected %s",
			f.attempted, wantStart.Format("2006-01-02"))
	}
	if result.Status != SyncStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestCoordinator_FailedChunkIsolation(t *testing.T) {
	f := newFakeBackfill(40) // three chunks
	failAt := truncateToDay(f.origin).AddDate(0, 0, chunkDays)
	f.fetchErr = func(start time.Time) error {
		if start.Equal(failAt) {
			return fakeTimeout{}
		}
		return nil
	}

	result, err := f.coordinator().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != SyncStatusPartial {
		t.Fatalf("status = %s, expected PARTIAL", result.Status)
	}
	if result.FailedChunks != 1 || result.ProcessedChunks != result.TotalChunks-1 {
		t.Fatalf("failed=%d processed=%d of %d",
			result.FailedChunks, result.ProcessedChunks, result.TotalChunks)
	}
	// Later chunks still ran.
	if len(f.attempted) != result.TotalChunks {
		t.Fatalf("attempted %d of %d chunks", len(f.attempted), result.TotalChunks)
	}

	fc := f.failed[dayKey(failAt)]
	if fc == nil || fc.RetryCount != 1 {
		t.Fatalf("expected one failure recorded, got %+v", fc)
	}

	// The checkpoint froze at the last clean chunk before the failure.
	if f.checkpoint == nil || f.checkpoint.CheckpointDate == nil {
		t.Fatal("partial run must keep the checkpoint")
	}
	if !f.checkpoint.CheckpointDate.Before(failAt) {
		t.Fatalf("checkpoint %s advanced past failed chunk %s",
			f.checkpoint.CheckpointDate.Format("2006-01-02"), failAt.Format("2006-01-02"))
	}
	if f.released != 1 {
		t.Fatal("lock must be released after a partial run")
	}
}

func TestCoordinator_RetryCountAccumulatesAcrossRuns(t *testing.T) {
	f := newFakeBackfill(40)
	failAt := truncateToDay(f.origin).AddDate(0, 0, chunkDays)
	f.fetchErr = func(start time.Time) error {
		if start.Equal(failAt) {
			return fakeTimeout{}
		}
		return nil
	}

	for run := 1; run <= 3; run++ {
		f.attempted = nil
		if _, err := f.coordinator().Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		fc := f.failed[dayKey(failAt)]
		if fc == nil || fc.RetryCount != run {
			t.Fatalf("after run %d: retryCount = %+v, expected %d", run, fc, run)
		}
		if len(f.attempted) == 0 {
			t.Fatalf("run %d attempted nothing", run)
		}
	}
}

func TestCoordinator_PoisonChunkSkippedWithoutFetch(t *testing.T) {
	f := newFakeBackfill(40)
	poisonAt := truncateToDay(f.origin).AddDate(0, 0, chunkDays)
	f.failed[dayKey(poisonAt)] = &models.FailedChunk{
		StoreId:    f.storeId,
		ChunkStart: poisonAt,
		RetryCount: quarantineThreshold,
	}

	result, err := f.coordinator().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SkippedChunks != 1 {
		t.Fatalf("skipped = %d, expected 1", result.SkippedChunks)
	}
	if result.Status != SyncStatusPartial {
		t.Fatalf("status = %s, expected PARTIAL", result.Status)
	}
	for _, start := range f.attempted {
		if start.Equal(poisonAt) {
			t.Fatal("quarantined chunk must be skipped without any external call")
		}
	}
}

func TestCoordinator_FailureBelowThresholdStillRetried(t *testing.T) {
	f := newFakeBackfill(40)
	retryAt := truncateToDay(f.origin).AddDate(0, 0, chunkDays)
	f.failed[dayKey(retryAt)] = &models.FailedChunk{
		StoreId:    f.storeId,
		ChunkStart: retryAt,
		RetryCount: quarantineThreshold - 1,
	}

	result, err := f.coordinator().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	retried := false
	for _, start := range f.attempted {
		if start.Equal(retryAt) {
			retried = true
		}
	}
	if !retried {
		t.Fatal("chunk below quarantine threshold must be retried")
	}
	// It succeeded this time, so its failure record is gone.
	if _, ok := f.failed[dayKey(retryAt)]; ok {
		t.Fatal("successful chunk must clear its failure record")
	}
	if result.Status != SyncStatusCompleted {
		t.Fatalf("status = %s, expected COMPLETED", result.Status)
	}
}
