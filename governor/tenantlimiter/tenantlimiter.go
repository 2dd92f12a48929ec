// Package tenantlimiter implements the Governor's optional per-tenant
// sliding-window admission rate limit (spec §4.4 layer 3), backed by Redis
// so the limit is shared across every orchestrator process on a host.
package tenantlimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces a sliding-window admission rate per tenant (workspace
// id), implementing governor.TenantLimiter.
type Limiter struct {
	redis  *redis.Client
	window time.Duration
	limit  int64
	prefix string
}

// New constructs a Limiter allowing at most limit admissions per tenant
// within window, using client as the shared counter store.
func New(client *redis.Client, window time.Duration, limit int64) *Limiter {
	return &Limiter{redis: client, window: window, limit: limit, prefix: "orchestrator:tenant-admit:"}
}

// Allow increments tenant's sliding-window counter and reports whether the
// admission should proceed. On any Redis error, Allow fails open (returns
// true) so a limiter outage never blocks orchestration; the caller's own
// plan/worker caps remain the binding limit in that case.
func (l *Limiter) Allow(ctx context.Context, tenant string) bool {
	if l.redis == nil || tenant == "" {
		return true
	}
	key := fmt.Sprintf("%s%s", l.prefix, tenant)

	// The counter is a sorted set of attempt timestamps: entries older than
	// window are trimmed before the new attempt is added and counted.
	now := time.Now().UnixNano()
	cutoff := now - int64(l.window)
	pipe := l.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}
	return count.Val() <= l.limit
}
