// Package realtime contains the glue handlers that translate event-bus
// and broker events into connection-manager broadcast calls (spec §4.6).
// It contains no game logic of its own: every rule here is "which
// recipients get this envelope", never "what should happen next".
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/eventbus"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BrokerPublisher is the capability handlers need to mirror selected
// in-process events onto the external broker (spec §4.3: "mirror
// selected in-process events to other subscribers"). Satisfied by
// *broker.Client; kept as an interface here so this package never
// imports the broker's NATS dependency directly.
type BrokerPublisher interface {
	Publish(subject string, payload any) error
}

// BrokerMessage is the handler-facing view of a message delivered by the
// external broker.
type BrokerMessage struct {
	Subject string
	Payload []byte
}

// BrokerSubscriber is the capability handlers need to receive chat and
// admin traffic published by other processes (spec §4.3: "receive
// chat/routing messages that require cross-process fan-out"). Satisfied
// by an adapter over *broker.Client in cmd/server.
type BrokerSubscriber interface {
	Subscribe(pattern string, queueGroup string, handler func(ctx context.Context, msg BrokerMessage)) error
}

// mirroredEvent is the payload shape mirrored events travel in on the
// broker. Origin identifies the publishing process so a subscriber can
// discard its own mirrors echoed back by the broker.
type mirroredEvent struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// Handlers wires a connection manager and room registry into the bus
// subscriptions that actually move envelopes to clients.
type Handlers struct {
	conns  *connmgr.Manager
	rooms  *room.Registry
	broker BrokerPublisher
	logger *zap.Logger

	nodeID string
}

// New constructs Handlers. broker may be nil, in which case mirroring is
// skipped (single-process deployment, spec §4.3's "if/when multi-process
// deployment occurs").
func New(conns *connmgr.Manager, rooms *room.Registry, broker BrokerPublisher, logger *zap.Logger) *Handlers {
	return &Handlers{conns: conns, rooms: rooms, broker: broker, logger: logger, nodeID: uuid.NewString()}
}

// Register subscribes every topic handler onto the bus.
func (h *Handlers) Register(bus *eventbus.Bus) {
	bus.Subscribe(domain.TopicPlayerEnteredRoom, h.onPlayerEnteredRoom)
	bus.Subscribe(domain.TopicPlayerLeftRoom, h.onPlayerLeftRoom)
	bus.Subscribe(domain.TopicChatMessage, h.onChatMessage)
	bus.Subscribe(domain.TopicPlayerConnected, h.onPlayerConnected)
	bus.Subscribe(domain.TopicPlayerDisconnected, h.onPlayerDisconnected)
	bus.Subscribe(domain.TopicAdminBroadcast, h.onAdminBroadcast)
	bus.Subscribe(domain.TopicNPCEnteredRoom, h.onMirrorOnly)
	bus.Subscribe(domain.TopicNPCLeftRoom, h.onMirrorOnly)
	bus.Subscribe(domain.TopicObjectAdded, h.onMirrorOnly)
	bus.Subscribe(domain.TopicObjectRemoved, h.onMirrorOnly)
	bus.Subscribe(domain.TopicHPChanged, h.onMirrorOnly)
	bus.Subscribe(domain.TopicXPChanged, h.onMirrorOnly)
}

func buildEnvelope(ev domain.Event, payload map[string]any) domain.Envelope {
	if payload == nil {
		payload = ev.Data
	}
	return domain.Envelope{
		EventID:         uuid.NewString(),
		Topic:           ev.Topic,
		Payload:         payload,
		ServerTimestamp: time.Now(),
		Critical:        ev.Critical(),
	}
}

func (h *Handlers) mirror(ev domain.Event) {
	if h.broker == nil {
		return
	}
	subject := mirrorSubject(ev)
	payload := mirroredEvent{Origin: h.nodeID, Event: ev}
	if err := h.broker.Publish(subject, payload); err != nil && h.logger != nil {
		h.logger.Warn("failed to mirror event to broker", zap.String("topic", string(ev.Topic)), zap.Error(err))
	}
}

// mirrorSubject maps an event to its stable broker subject (spec §6.3):
// admin broadcasts go to admin.broadcast; chat messages go to the chat.*
// hierarchy by channel scope; every other topic, and a chat message with
// an unrecognized channel, mirrors under events.room or events.player.
func mirrorSubject(ev domain.Event) string {
	if ev.Topic == domain.TopicAdminBroadcast {
		return SubjectAdminBroadcast()
	}
	if ev.Topic == domain.TopicChatMessage {
		channel, _ := ev.Data["channel"].(string)
		switch domain.ChatChannel(channel) {
		case domain.ChatChannelSay:
			return SubjectChatSayRoom(string(ev.RoomID))
		case domain.ChatChannelLocal:
			return SubjectChatLocalRoom(string(ev.RoomID))
		case domain.ChatChannelZone:
			return SubjectChatZone(string(ev.ZoneID))
		case domain.ChatChannelSubzone:
			return SubjectChatSubzone(string(ev.SubZoneID))
		case domain.ChatChannelWhisper:
			target, _ := ev.Data["target_player_id"].(string)
			return SubjectChatWhisperPlayer(target)
		case domain.ChatChannelGlobal:
			return SubjectChatGlobal()
		}
	}
	if ev.RoomID != "" {
		return SubjectEventsRoom(string(ev.RoomID), string(ev.Topic))
	}
	return SubjectEventsPlayer(string(ev.Topic))
}

// RegisterBroker subscribes the cross-process receive side: chat and
// admin messages published by other processes are delivered to this
// process's local connections. sub may be nil (single-process
// deployment), in which case nothing is registered.
func (h *Handlers) RegisterBroker(sub BrokerSubscriber) error {
	if sub == nil {
		return nil
	}
	if err := sub.Subscribe(SubjectChatAll, "", h.onBrokerMessage); err != nil {
		return err
	}
	return sub.Subscribe(SubjectAdminWildcard, "", h.onBrokerMessage)
}

func (h *Handlers) onBrokerMessage(ctx context.Context, msg BrokerMessage) {
	var me mirroredEvent
	if err := json.Unmarshal(msg.Payload, &me); err != nil {
		if h.logger != nil {
			h.logger.Warn("discarding undecodable broker message", zap.String("subject", msg.Subject), zap.Error(err))
		}
		return
	}
	if me.Origin == h.nodeID {
		// Our own mirror echoed back; local delivery already happened.
		return
	}

	switch me.Event.Topic {
	case domain.TopicChatMessage:
		h.deliverChat(me.Event)
	case domain.TopicAdminBroadcast:
		h.conns.BroadcastToAll(buildEnvelope(me.Event, nil))
	}
}

func (h *Handlers) onMirrorOnly(ctx context.Context, ev domain.Event) error {
	h.mirror(ev)
	return nil
}

func (h *Handlers) onPlayerEnteredRoom(ctx context.Context, ev domain.Event) error {
	env := buildEnvelope(ev, nil)
	h.conns.BroadcastToRoom(ev.RoomID, env, ev.PlayerID)

	arrival := buildEnvelope(ev, map[string]any{"message": "you arrive", "room_id": string(ev.RoomID)})
	h.conns.SendToPlayer(ev.PlayerID, arrival)

	h.mirror(ev)
	return nil
}

func (h *Handlers) onPlayerLeftRoom(ctx context.Context, ev domain.Event) error {
	env := buildEnvelope(ev, nil)
	h.conns.BroadcastToRoom(ev.RoomID, env, ev.PlayerID)
	h.mirror(ev)
	return nil
}

func (h *Handlers) onChatMessage(ctx context.Context, ev domain.Event) error {
	h.deliverChat(ev)
	h.mirror(ev)
	return nil
}

// deliverChat routes a chat event to its channel's recipient set. Shared
// by the local bus path and the cross-process broker path.
func (h *Handlers) deliverChat(ev domain.Event) {
	env := buildEnvelope(ev, nil)

	channel, _ := ev.Data["channel"].(string)
	switch domain.ChatChannel(channel) {
	case domain.ChatChannelSay, domain.ChatChannelLocal:
		h.conns.BroadcastToRoom(ev.RoomID, env, "")
	case domain.ChatChannelZone:
		h.conns.BroadcastToZone(ev.ZoneID, env, "")
	case domain.ChatChannelSubzone:
		h.conns.BroadcastToSubZone(ev.SubZoneID, env, "")
	case domain.ChatChannelWhisper:
		target, _ := ev.Data["target_player_id"].(string)
		h.conns.SendToPlayer(domain.PlayerIDType(target), env)
		h.conns.SendToPlayer(ev.PlayerID, env) // mirror to sender
	case domain.ChatChannelGlobal:
		h.conns.BroadcastToAll(env)
	}
}

func (h *Handlers) onPlayerConnected(ctx context.Context, ev domain.Event) error {
	env := buildEnvelope(ev, nil)
	h.conns.BroadcastToRoom(ev.RoomID, env, ev.PlayerID)
	h.mirror(ev)
	return nil
}

func (h *Handlers) onPlayerDisconnected(ctx context.Context, ev domain.Event) error {
	env := buildEnvelope(ev, nil)
	h.conns.BroadcastToRoom(ev.RoomID, env, ev.PlayerID)
	h.mirror(ev)
	return nil
}

// onAdminBroadcast sends to every connected player regardless of
// location. The admin flag of the publisher is enforced upstream (spec
// §4.6: "enforced by publisher not by handler") — by the time an
// admin_broadcast event reaches the bus it has already been authorized.
func (h *Handlers) onAdminBroadcast(ctx context.Context, ev domain.Event) error {
	env := buildEnvelope(ev, nil)
	h.conns.BroadcastToAll(env)
	h.mirror(ev)
	return nil
}
