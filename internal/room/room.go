// Package room implements the in-memory room catalog and occupant
// tracking described in spec §4.4. Rooms are process-wide singletons
// created once from a catalog at startup; only their occupant sets
// mutate afterward, all under a per-room lock.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// EventPublisher is the capability a Room needs to announce occupant
// changes. Rooms never call the connection manager directly (spec §4.4:
// "Rooms never call connection manager directly") — they only know how
// to publish an Event; something downstream (internal/realtime) decides
// what to do with it. This breaks the Room<->EventBus<->ConnectionManager
// cycle the source has, the way spec §9 requires.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Room is the mutable half of a room: the occupant sets. The static
// half (zone, sub-zone, exits) is fixed at construction and never
// mutates again, matching spec's "rooms are immutable w.r.t. static
// data" invariant.
type Room struct {
	id      domain.RoomIDType
	zone    domain.ZoneIDType
	subZone domain.SubZoneIDType
	exits   map[domain.Direction]domain.RoomIDType

	mu      sync.RWMutex
	players set.Set[domain.PlayerIDType]
	npcs    set.Set[string]
	objects set.Set[string]

	publisher EventPublisher
}

// New constructs a Room from its static catalog data. The occupant sets
// start empty; they are populated only through PlayerEntered and its
// siblings, never directly.
func New(id domain.RoomIDType, zone domain.ZoneIDType, subZone domain.SubZoneIDType, exits map[domain.Direction]domain.RoomIDType, publisher EventPublisher) *Room {
	if exits == nil {
		exits = map[domain.Direction]domain.RoomIDType{}
	}
	return &Room{
		id:        id,
		zone:      zone,
		subZone:   subZone,
		exits:     exits,
		players:   set.New[domain.PlayerIDType](),
		npcs:      set.New[string](),
		objects:   set.New[string](),
		publisher: publisher,
	}
}

func (r *Room) ID() domain.RoomIDType           { return r.id }
func (r *Room) Zone() domain.ZoneIDType         { return r.zone }
func (r *Room) SubZone() domain.SubZoneIDType   { return r.subZone }

// ExitTo returns the neighbor room id for a direction, and whether that
// exit exists at all.
func (r *Room) ExitTo(dir domain.Direction) (domain.RoomIDType, bool) {
	to, ok := r.exits[dir]
	return to, ok
}

// Occupants returns a snapshot of the players currently present.
func (r *Room) Occupants() []domain.PlayerIDType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players.UnsortedList()
}

// HasOccupant reports whether a player is currently present.
func (r *Room) HasOccupant(id domain.PlayerIDType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players.Has(id)
}

func (r *Room) occupantCountLocked() int {
	return r.players.Len()
}

// OccupantCount returns the number of players currently present.
func (r *Room) OccupantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.occupantCountLocked()
}

func (r *Room) publish(ctx context.Context, topic domain.Topic, playerID domain.PlayerIDType, priority domain.Priority, data map[string]any) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(ctx, domain.Event{
		Topic:     topic,
		PlayerID:  playerID,
		RoomID:    r.id,
		ZoneID:    r.zone,
		SubZoneID: r.subZone,
		Data:      data,
		Timestamp: time.Now(),
		Priority:  priority,
	})
}

// PlayerEntered inserts a player into the occupant set and emits
// player_entered_room. A no-op re-entry (player already present) emits
// no event, per spec's "no double-insertion" invariant.
func (r *Room) PlayerEntered(ctx context.Context, playerID domain.PlayerIDType) {
	r.mu.Lock()
	if r.players.Has(playerID) {
		r.mu.Unlock()
		return
	}
	r.players.Insert(playerID)
	count := r.occupantCountLocked()
	r.mu.Unlock()

	metrics.RoomOccupants.WithLabelValues(string(r.id)).Set(float64(count))
	r.publish(ctx, domain.TopicPlayerEnteredRoom, playerID, domain.PriorityCritical, nil)
}

// PlayerLeft removes a player from the occupant set and emits
// player_left_room. Idempotent: leaving twice is a no-op the second time.
func (r *Room) PlayerLeft(ctx context.Context, playerID domain.PlayerIDType) {
	r.mu.Lock()
	if !r.players.Has(playerID) {
		r.mu.Unlock()
		return
	}
	r.players.Delete(playerID)
	count := r.occupantCountLocked()
	r.mu.Unlock()

	metrics.RoomOccupants.WithLabelValues(string(r.id)).Set(float64(count))
	r.publish(ctx, domain.TopicPlayerLeftRoom, playerID, domain.PriorityCritical, nil)
}

// NPCEntered/NPCLeft/ObjectAdded/ObjectRemoved are stub occupant sets the
// core mutates but never interprets (spec §3: "stubs; mutated but not
// interpreted by core").

func (r *Room) NPCEntered(ctx context.Context, npcID string) {
	r.mu.Lock()
	if r.npcs.Has(npcID) {
		r.mu.Unlock()
		return
	}
	r.npcs.Insert(npcID)
	r.mu.Unlock()
	r.publish(ctx, domain.TopicNPCEnteredRoom, "", domain.PriorityNormal, map[string]any{"npc_id": npcID})
}

func (r *Room) NPCLeft(ctx context.Context, npcID string) {
	r.mu.Lock()
	if !r.npcs.Has(npcID) {
		r.mu.Unlock()
		return
	}
	r.npcs.Delete(npcID)
	r.mu.Unlock()
	r.publish(ctx, domain.TopicNPCLeftRoom, "", domain.PriorityNormal, map[string]any{"npc_id": npcID})
}

func (r *Room) ObjectAdded(ctx context.Context, objectID string) {
	r.mu.Lock()
	if r.objects.Has(objectID) {
		r.mu.Unlock()
		return
	}
	r.objects.Insert(objectID)
	r.mu.Unlock()
	r.publish(ctx, domain.TopicObjectAdded, "", domain.PriorityNormal, map[string]any{"object_id": objectID})
}

func (r *Room) ObjectRemoved(ctx context.Context, objectID string) {
	r.mu.Lock()
	if !r.objects.Has(objectID) {
		r.mu.Unlock()
		return
	}
	r.objects.Delete(objectID)
	r.mu.Unlock()
	r.publish(ctx, domain.TopicObjectRemoved, "", domain.PriorityNormal, map[string]any{"object_id": objectID})
}

// RemovePresenceOnly removes a player from the occupant set without
// going through the movement service and without requiring a
// destination room. Used exclusively by the grace-period subsystem
// (spec §4.7: "a dedicated presence removal path calls room.player_left").
func (r *Room) RemovePresenceOnly(ctx context.Context, playerID domain.PlayerIDType, logger *zap.Logger) {
	r.PlayerLeft(ctx, playerID)
	if logger != nil {
		logger.Info("removed player presence after grace expiry",
			zap.String("room_id", string(r.id)),
			zap.String("player_id", string(playerID)),
		)
	}
}
