package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDrainStopsEveryTopicWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := New(16, nil)
	bus.Subscribe(domain.TopicChatMessage, func(ctx context.Context, ev domain.Event) error { return nil })
	bus.Subscribe(domain.TopicSystem, func(ctx context.Context, ev domain.Event) error { return nil })
	bus.Publish(domain.Event{Topic: domain.TopicChatMessage})
	bus.Publish(domain.Event{Topic: domain.TopicSystem})

	bus.Drain(2 * time.Second)
}

func TestPublishDeliversInOrderPerTopic(t *testing.T) {
	bus := New(64, nil)

	var mu sync.Mutex
	var seen []int

	done := make(chan struct{})
	count := 0
	bus.Subscribe(domain.TopicChatMessage, func(ctx context.Context, ev domain.Event) error {
		mu.Lock()
		seen = append(seen, ev.Data["seq"].(int))
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		bus.Publish(domain.Event{Topic: domain.TopicChatMessage, Data: map[string]any{"seq": i}})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestPublishHandlerErrorDoesNotStopOtherSubscribers(t *testing.T) {
	bus := New(16, nil)

	var calledOK bool
	var mu sync.Mutex
	done := make(chan struct{})

	bus.Subscribe(domain.TopicSystem, func(ctx context.Context, ev domain.Event) error {
		return assert.AnError
	})
	bus.Subscribe(domain.TopicSystem, func(ctx context.Context, ev domain.Event) error {
		mu.Lock()
		calledOK = true
		mu.Unlock()
		close(done)
		return nil
	})

	bus.Publish(domain.Event{Topic: domain.TopicSystem})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second subscriber")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, calledOK)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(16, nil)
	var count int32
	var mu sync.Mutex

	sub := bus.Subscribe(domain.TopicSystem, func(ctx context.Context, ev domain.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	bus.Unsubscribe(sub)

	bus.Publish(domain.Event{Topic: domain.TopicSystem})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 0, count)
}

func TestPublishSyncDeliversInline(t *testing.T) {
	bus := New(16, nil)
	var got domain.Event
	bus.Subscribe(domain.TopicSystem, func(ctx context.Context, ev domain.Event) error {
		got = ev
		return nil
	})

	bus.PublishSync(context.Background(), domain.Event{Topic: domain.TopicSystem, PlayerID: "p1"})
	assert.Equal(t, domain.PlayerIDType("p1"), got.PlayerID)
}
