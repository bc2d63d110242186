package main

import (
	"context"

	"github.com/arkanwolfshade/mythosmud/internal/broker"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/eventbus"
	"github.com/arkanwolfshade/mythosmud/internal/realtime"
)

// busPublisher adapts *eventbus.Bus (whose Publish takes no context) to
// room.EventPublisher's context-carrying signature. The context is
// dropped: the event is published as given, so it carries a correlation
// id only if the caller set one on the event. This is a pure shim.
type busPublisher struct {
	bus *eventbus.Bus
}

func newBusPublisher(bus *eventbus.Bus) *busPublisher {
	return &busPublisher{bus: bus}
}

func (p *busPublisher) Publish(ctx context.Context, ev domain.Event) {
	p.bus.Publish(ev)
}

// brokerSubscriber adapts *broker.Client to realtime.BrokerSubscriber,
// keeping the realtime package free of the broker's NATS dependency.
type brokerSubscriber struct {
	client *broker.Client
}

func (a brokerSubscriber) Subscribe(pattern, queueGroup string, handler func(ctx context.Context, msg realtime.BrokerMessage)) error {
	_, err := a.client.Subscribe(pattern, queueGroup, func(ctx context.Context, m *broker.Msg) {
		handler(ctx, realtime.BrokerMessage{Subject: m.Subject, Payload: m.Payload})
	})
	return err
}
