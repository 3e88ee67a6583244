package marketsync

import (
	"context"
	"time"
)

// marketplaceEpoch is the earliest date the settlement API holds data for.
var marketplaceEpoch = time.Date(2017, time.October, 1, 0, 0, 0, 0, marketplaceLocation)

const probeWindowDays = 15

// OriginDateFinder locates the first date a store has settlement activity by
// binary-searching probe windows between the marketplace epoch and today.
// Each probe covers one 15-day window across every transaction kind; a probe
// that errors counts as no data, so the search never gets stuck on a flaky
// window.
type OriginDateFinder struct {
	probe func(ctx context.Context, start, end time.Time) bool
	now   func() time.Time
}

func newOriginDateFinder(client *settlementClient) *OriginDateFinder {
	return &OriginDateFinder{
		probe: func(ctx context.Context, start, end time.Time) bool {
			for _, kind := range settlementKinds {
				if client.hasData(ctx, kind, start, end) {
					return true
				}
			}
			return false
		},
		now: time.Now,
	}
}

// Find returns the store's data origin date, truncated to midnight.
func (f *OriginDateFinder) Find(ctx context.Context) (time.Time, error) {
	low := marketplaceEpoch
	high := truncateToDay(f.now())

	low, err := f.search(ctx, low, high)
	if err != nil {
		return time.Time{}, err
	}

	// A large gap early in the account's history can land the search after
	// the true origin. One backward probe catches that; if it hits, the same
	// search refines inside the 30-day lookback.
	lookback := low.AddDate(0, 0, -30)
	if lookback.Before(marketplaceEpoch) {
		lookback = marketplaceEpoch
	}
	if !lookback.Equal(low) && f.probe(ctx, lookback, low) {
		refined, err := f.search(ctx, lookback, low)
		if err != nil {
			return time.Time{}, err
		}
		low = refined
	}
	return low, nil
}

func (f *OriginDateFinder) search(ctx context.Context, low, high time.Time) (time.Time, error) {
	for daysBetween(low, high) >= probeWindowDays {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		mid := low.AddDate(0, 0, daysBetween(low, high)/2)
		if f.probe(ctx, mid, mid.AddDate(0, 0, probeWindowDays-1)) {
			high = mid
		} else {
			low = mid.AddDate(0, 0, probeWindowDays)
		}
	}
	return low, nil
}

func truncateToDay(t time.Time) time.Time {
	t = t.In(marketplaceLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, marketplaceLocation)
}

func daysBetween(from, to time.Time) int {
	return int(truncateToDay(to).Sub(truncateToDay(from)) / (24 * time.Hour))
}
