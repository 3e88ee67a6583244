package marketsync

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// extractRealCommission sums commissionAmount over every ledger transaction of
// the order. The second return is false when the order carries no ledger rows
// at all, meaning no settlement data has arrived yet.
func extractRealCommission(order *models.MarketplaceOrder) (decimal.Decimal, bool) {
	ledgers := order.Ledgers()
	total := decimal.Zero
	seen := false
	for i := range ledgers {
		for j := range ledgers[i].Transactions {
			total = total.Add(ledgers[i].Transactions[j].CommissionAmount)
			seen = true
		}
	}
	return total, seen
}

// reconcileOrder upgrades one estimated order to its settled commission. It
// reports whether the order changed; orders that are not estimated, or have
// no settlement data yet, pass through untouched.
func reconcileOrder(order *models.MarketplaceOrder) bool {
	if !order.IsCommissionEstimated {
		return false
	}
	real, ok := extractRealCommission(order)
	if !ok {
		return false
	}

	diff := real.Sub(order.EstimatedCommission)
	order.CommissionDifference = decimal.NullDecimal{Decimal: diff, Valid: true}
	order.EstimatedCommission = real
	order.IsCommissionEstimated = false
	order.DataSource = models.DataSourceHybrid
	return true
}

// ReconcileStore walks every estimated order of a store, replaces estimates
// with settled commissions, and writes one ReconciliationLog row when at
// least one order was upgraded.
func ReconcileStore(ctx context.Context, storeId uuid.UUID) (*ReconciliationResult, error) {
	db := config.GetDB().WithContext(ctx)

	orders, err := models.GetEstimatedOrders(ctx, storeId)
	if err != nil {
		return nil, err
	}

	result := &ReconciliationResult{
		StoreId:         storeId,
		Processed:       len(orders),
		TotalEstimated:  decimal.Zero,
		TotalReal:       decimal.Zero,
		TotalDifference: decimal.Zero,
	}

	for _, order := range orders {
		estimate := order.EstimatedCommission
		if !reconcileOrder(order) {
			result.Pending++
			continue
		}
		if err := db.Save(order).Error; err != nil {
			return nil, err
		}
		result.Reconciled++
		result.TotalEstimated = result.TotalEstimated.Add(estimate)
		result.TotalReal = result.TotalReal.Add(order.EstimatedCommission)
		result.TotalDifference = result.TotalDifference.Add(order.CommissionDifference.Decimal)
	}

	if result.Reconciled > 0 {
		log := &models.ReconciliationLog{
			StoreId:         storeId,
			RunDate:         time.Now(),
			TotalProcessed:  result.Processed,
			TotalReconciled: result.Reconciled,
			TotalPending:    result.Pending,
			TotalEstimated:  result.TotalEstimated,
			TotalReal:       result.TotalReal,
			TotalDifference: result.TotalDifference,
			AverageAccuracy: models.CalculateAccuracy(result.TotalDifference, result.TotalReal),
		}
		if err := db.Create(log).Error; err != nil {
			return nil, err
		}
	}
	return result, nil
}

const reconcileAllLockKey = "marketsync:reconcile-all"

var ErrReconcileRunning = errors.New("reconciliation sweep already running")

func reconcileConcurrency() int {
	raw := os.Getenv("RECONCILE_CONCURRENCY")
	if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 50 {
		return n
	}
	return 10
}

// ReconcileAll reconciles every connected store, bounded by
// RECONCILE_CONCURRENCY workers. A Redis lock keeps overlapping cron and
// manual triggers from running two passes at once; per-store failures are
// logged and do not stop the sweep.
func ReconcileAll(ctx context.Context) ([]*ReconciliationResult, error) {
	logger := config.GetLogger()

	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, reconcileAllLockKey, 30*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return nil, ErrReconcileRunning
		}
		if err != nil {
			return nil, err
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	stores, err := models.GetConnectedStores(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*ReconciliationResult, len(stores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency())

	for i, store := range stores {
		i, store := i, store
		g.Go(func() error {
			res, err := ReconcileStore(gctx, store.ID)
			if err != nil {
				config.LogError(logger, "marketsync", "ReconcileAll", "store reconciliation failed", store.ID.String(), err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
