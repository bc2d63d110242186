package room

import (
	"sync"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"k8s.io/utils/set"
)

// Registry is the process-wide room index: room_id -> Room and
// zone/sub-zone -> member room ids, for O(1) broadcast-scoping lookups
// (spec §9: "occupant tracking and zone membership rely on constant-time
// lookups", which is why the spec mandates load-at-startup). Grounded
// on the teacher's own use of k8s.io/utils/set for role-filtered
// broadcast membership (session/room.go's set.Set[RoleType]),
// generalized here from a role filter to a zone/sub-zone membership
// index.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[domain.RoomIDType]*Room
	byZone    map[domain.ZoneIDType]set.Set[domain.RoomIDType]
	bySubZone map[domain.SubZoneIDType]set.Set[domain.RoomIDType]
}

// NewRegistry creates an empty registry. Rooms are added with Add,
// typically once at startup from LoadCatalog.
func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[domain.RoomIDType]*Room),
		byZone:    make(map[domain.ZoneIDType]set.Set[domain.RoomIDType]),
		bySubZone: make(map[domain.SubZoneIDType]set.Set[domain.RoomIDType]),
	}
}

// Add registers a room, indexing it by zone and sub-zone.
func (reg *Registry) Add(r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.rooms[r.ID()] = r

	if reg.byZone[r.Zone()] == nil {
		reg.byZone[r.Zone()] = set.New[domain.RoomIDType]()
	}
	reg.byZone[r.Zone()].Insert(r.ID())

	if reg.bySubZone[r.SubZone()] == nil {
		reg.bySubZone[r.SubZone()] = set.New[domain.RoomIDType]()
	}
	reg.bySubZone[r.SubZone()].Insert(r.ID())
}

// Get returns the room for an id, or ok=false if unknown.
func (reg *Registry) Get(id domain.RoomIDType) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// RoomsInZone returns the room ids belonging to a zone.
func (reg *Registry) RoomsInZone(zone domain.ZoneIDType) []domain.RoomIDType {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byZone[zone].UnsortedList()
}

// RoomsInSubZone returns the room ids belonging to a sub-zone.
func (reg *Registry) RoomsInSubZone(subZone domain.SubZoneIDType) []domain.RoomIDType {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.bySubZone[subZone].UnsortedList()
}

// Len returns the number of rooms loaded.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// All returns every room in the registry, in no defined order. Used by
// catalog validation and by the server's start-room fallback.
func (reg *Registry) All() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}
