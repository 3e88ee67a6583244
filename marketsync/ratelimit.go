package marketsync

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const defaultRequestsPerSecond = 10

// RateGate paces outbound marketplace calls per store. Acquire blocks until a
// token is available; one throttled store never stalls another.
type RateGate struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	perSec   rate.Limit
}

func NewRateGate(perSecond float64) *RateGate {
	if perSecond <= 0 {
		perSecond = defaultRequestsPerSecond
	}
	return &RateGate{
		limiters: map[uuid.UUID]*rate.Limiter{},
		perSec:   rate.Limit(perSecond),
	}
}

// NewRateGateFromEnv honors SETTLEMENT_RATE_LIMIT_PER_SEC.
func NewRateGateFromEnv() *RateGate {
	perSecond := float64(defaultRequestsPerSecond)
	if v := strings.TrimSpace(os.Getenv("SETTLEMENT_RATE_LIMIT_PER_SEC")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			perSecond = n
		}
	}
	return NewRateGate(perSecond)
}

func (g *RateGate) limiterFor(storeId uuid.UUID) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim := g.limiters[storeId]
	if lim == nil {
		lim = rate.NewLimiter(g.perSec, 1)
		g.limiters[storeId] = lim
	}
	return lim
}

// Acquire blocks until the store may issue its next call.
func (g *RateGate) Acquire(ctx context.Context, storeId uuid.UUID) error {
	return g.limiterFor(storeId).Wait(ctx)
}
