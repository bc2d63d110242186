package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l, err := New(Config{
		ChannelRates: ChannelRates{domain.ChatChannelSay: "2-M"},
		ConnectPerIP: "2-M",
	}, rc)
	require.NoError(t, err)

	return l, mr
}

func TestNewFallsBackToMemoryStoreWithoutRedis(t *testing.T) {
	l, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, l.store)
}

func TestAllowChatMessageEnforcesPerChannelRate(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	assert.True(t, l.AllowChatMessage(ctx, "alice", domain.ChatChannelSay))
	assert.True(t, l.AllowChatMessage(ctx, "alice", domain.ChatChannelSay))
	assert.False(t, l.AllowChatMessage(ctx, "alice", domain.ChatChannelSay))
}

func TestAllowChatMessageIsPerPlayer(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	assert.True(t, l.AllowChatMessage(ctx, "alice", domain.ChatChannelSay))
	assert.True(t, l.AllowChatMessage(ctx, "alice", domain.ChatChannelSay))
	assert.True(t, l.AllowChatMessage(ctx, "bob", domain.ChatChannelSay))
}

func TestAllowChatMessageUnconfiguredChannelAlwaysAllowed(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		assert.True(t, l.AllowChatMessage(ctx, "alice", domain.ChatChannel("gm")))
	}
}

func TestAllowConnectEnforcesPerIPRate(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	assert.True(t, l.AllowConnect(ctx, "127.0.0.1", "alice"))
	assert.True(t, l.AllowConnect(ctx, "127.0.0.1", "bob"))
	assert.False(t, l.AllowConnect(ctx, "127.0.0.1", "carol"))
}
