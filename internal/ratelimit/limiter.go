// Package ratelimit enforces the per-channel message rate limits spec
// §6.5 leaves as configuration ("Rate limits per channel (optional)
// messages/min by channel kind") plus a per-IP/per-player cap on new
// WebSocket/SSE attach attempts. Grounded on the teacher's ratelimit
// package: github.com/ulule/limiter/v3 over a Redis store when presence
// storage is enabled, falling back to an in-memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/logging"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// ChannelRates maps a chat channel kind to its formatted rate string
// (ulule/limiter's "<limit>-<period>" shape, e.g. "10-M").
type ChannelRates map[domain.ChatChannel]string

// Config carries the rate-limit tunables.
type Config struct {
	ChannelRates   ChannelRates
	ConnectPerIP   string
	ConnectPerUser string
}

func (c Config) withDefaults() Config {
	if c.ChannelRates == nil {
		c.ChannelRates = ChannelRates{}
	}
	defaults := map[domain.ChatChannel]string{
		domain.ChatChannelSay:     "20-M",
		domain.ChatChannelLocal:   "20-M",
		domain.ChatChannelZone:    "10-M",
		domain.ChatChannelSubzone: "10-M",
		domain.ChatChannelWhisper: "10-M",
		domain.ChatChannelGlobal:  "2-M",
	}
	for k, v := range defaults {
		if _, ok := c.ChannelRates[k]; !ok {
			c.ChannelRates[k] = v
		}
	}
	if c.ConnectPerIP == "" {
		c.ConnectPerIP = "300-M"
	}
	if c.ConnectPerUser == "" {
		c.ConnectPerUser = "60-M"
	}
	return c
}

// Limiter enforces every configured rate, one limiter.Limiter instance
// per channel plus the two connect limiters, all sharing one store.
type Limiter struct {
	cfg         Config
	store       limiter.Store
	channels    map[domain.ChatChannel]*limiter.Limiter
	connectIP   *limiter.Limiter
	connectUser *limiter.Limiter
}

// New builds a Limiter. redisClient may be nil, in which case an
// in-memory store is used (single-process / dev deployment).
func New(cfg Config, redisClient *redis.Client) (*Limiter, error) {
	cfg = cfg.withDefaults()

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "mythosmud:ratelimit:"})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (no redis configured)")
	}

	l := &Limiter{cfg: cfg, store: store, channels: make(map[domain.ChatChannel]*limiter.Limiter)}

	for channel, rateStr := range cfg.ChannelRates {
		rate, err := limiter.NewRateFromFormatted(rateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q for channel %s: %w", rateStr, channel, err)
		}
		l.channels[channel] = limiter.New(store, rate)
	}

	ipRate, err := limiter.NewRateFromFormatted(cfg.ConnectPerIP)
	if err != nil {
		return nil, fmt.Errorf("invalid connect-per-ip rate: %w", err)
	}
	userRate, err := limiter.NewRateFromFormatted(cfg.ConnectPerUser)
	if err != nil {
		return nil, fmt.Errorf("invalid connect-per-user rate: %w", err)
	}
	l.connectIP = limiter.New(store, ipRate)
	l.connectUser = limiter.New(store, userRate)

	return l, nil
}

// AllowChatMessage checks whether playerID may send another message on
// channel right now. Fails open (allows, and logs) if the store itself
// errors, matching the teacher's "fail open is safer for availability"
// stance.
func (l *Limiter) AllowChatMessage(ctx context.Context, playerID domain.PlayerIDType, channel domain.ChatChannel) bool {
	lim, ok := l.channels[channel]
	if !ok {
		return true
	}
	key := fmt.Sprintf("chat:%s:%s", channel, playerID)
	result, err := lim.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err), zap.String("channel", string(channel)))
		return true
	}
	metrics.RateLimitRequests.WithLabelValues(string(channel)).Inc()
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(channel), "chat_rate").Inc()
		return false
	}
	return true
}

// AllowConnect checks both the per-IP and per-player connect rate
// before a new WebSocket/SSE attach is accepted.
func (l *Limiter) AllowConnect(ctx context.Context, remoteIP string, playerID domain.PlayerIDType) bool {
	ipResult, err := l.connectIP.Get(ctx, remoteIP)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (ip)", zap.Error(err))
	} else if ipResult.Reached {
		metrics.RateLimitExceeded.WithLabelValues("connect", "ip").Inc()
		return false
	}

	userResult, err := l.connectUser.Get(ctx, string(playerID))
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (user)", zap.Error(err))
		return true
	}
	metrics.RateLimitRequests.WithLabelValues("connect").Inc()
	if userResult.Reached {
		metrics.RateLimitExceeded.WithLabelValues("connect", "user").Inc()
		return false
	}
	return true
}
