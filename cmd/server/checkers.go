package main

import (
	"context"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/broker"
	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/health"
	"github.com/redis/go-redis/v9"
)

// redisChecker probes the optional Redis-backed presence/rate-limit
// store. A nil client (Redis disabled) reports healthy: the in-memory
// rate limiter fallback is a supported deployment mode, not a degraded
// one (internal/ratelimit's New doc comment).
func redisChecker(client *redis.Client) health.ComponentChecker {
	if client == nil {
		return nil
	}
	return health.CheckerFunc(func(ctx context.Context) (health.Status, time.Duration) {
		start := time.Now()
		if err := client.Ping(ctx).Err(); err != nil {
			return health.StatusUnhealthy, time.Since(start)
		}
		return health.StatusHealthy, time.Since(start)
	})
}

// connmgrChecker always reports healthy; it times one Stats call as the
// component's response-time sample. Stats is cheap enough to call on
// every /health/detailed probe.
func connmgrChecker(conns *connmgr.Manager) health.ComponentChecker {
	return health.CheckerFunc(func(ctx context.Context) (health.Status, time.Duration) {
		start := time.Now()
		_ = conns.Stats()
		return health.StatusHealthy, time.Since(start)
	})
}

// brokerChecker reports degraded when the broker client's last health
// probe failed (IsConnected is false), and healthy otherwise. A nil client (no broker configured, or the
// startup Connect failed) reports healthy: broker mirroring degrading to
// a no-op is an explicit single-process fallback (spec §4.3), not an
// operational fault worth paging on.
func brokerChecker(client *broker.Client) health.ComponentChecker {
	if client == nil {
		return nil
	}
	return health.CheckerFunc(func(ctx context.Context) (health.Status, time.Duration) {
		start := time.Now()
		if !client.IsConnected() {
			return health.StatusDegraded, time.Since(start)
		}
		return health.StatusHealthy, time.Since(start)
	})
}
