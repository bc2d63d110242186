// Package session implements the login/disconnect grace-period state
// machine and concurrent-attach/session-conflict handover logic from
// spec §4.7 and §4.8. It is the authoritative owner of each online
// player's current room, which is why it also implements
// movement.PlayerDirectory.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/eventbus"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"go.uber.org/zap"
)

// presenceState is the per-player state machine from spec §4.7:
// OFFLINE -> PROVISIONAL_ONLINE -> ONLINE -> GRACE -> OFFLINE.
type presenceState string

const (
	stateOffline           presenceState = "offline"
	stateProvisionalOnline presenceState = "provisional_online"
	stateOnline            presenceState = "online"
	stateGrace             presenceState = "grace"
)

// Config carries the grace-period tunables from spec §6.5.
type Config struct {
	LoginGracePeriod      time.Duration
	DisconnectGracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoginGracePeriod <= 0 {
		c.LoginGracePeriod = 5 * time.Second
	}
	if c.DisconnectGracePeriod <= 0 {
		c.DisconnectGracePeriod = 30 * time.Second
	}
	return c
}

type playerRecord struct {
	state           presenceState
	currentRoom     domain.RoomIDType
	forbidsMovement bool
	sessionID       domain.SessionIDType
	connCount       int
	loginTimer      *time.Timer
	graceTimer      *time.Timer
}

// Manager is the session/grace-period subsystem singleton.
type Manager struct {
	mu      sync.Mutex
	players map[domain.PlayerIDType]*playerRecord

	cfg    Config
	bus    *eventbus.Bus
	rooms  *room.Registry
	logger *zap.Logger
}

// New constructs a Manager. bus is used to publish player_connected and
// player_disconnected; rooms is used to remove presence on grace expiry
// without invoking the movement service (spec §4.7: "a dedicated
// presence removal path calls room.player_left").
func New(cfg Config, bus *eventbus.Bus, rooms *room.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		players: make(map[domain.PlayerIDType]*playerRecord),
		cfg:     cfg.withDefaults(),
		bus:     bus,
		rooms:   rooms,
		logger:  logger,
	}
}

func (m *Manager) recordFor(playerID domain.PlayerIDType) *playerRecord {
	rec, ok := m.players[playerID]
	if !ok {
		rec = &playerRecord{state: stateOffline}
		m.players[playerID] = rec
	}
	return rec
}

// RegisterLogin seeds a player's starting room before their first
// transport attaches. The room itself is resolved by the caller (the
// handshake handler, from its room_id query param or a catalog room);
// the session subsystem does not know how to resolve it on its own. A
// genuinely new login (player was OFFLINE) also places the player into
// that room's occupant set directly, satisfying spec's invariant that a
// player's id appears in occupant_players whenever ONLINE or GRACE — a
// reconnect (player already PROVISIONAL_ONLINE/ONLINE/GRACE) leaves the
// existing occupant entry alone.
func (m *Manager) RegisterLogin(playerID domain.PlayerIDType, startRoomID domain.RoomIDType) {
	m.mu.Lock()
	rec := m.recordFor(playerID)
	wasOffline := rec.state == stateOffline
	if wasOffline {
		rec.currentRoom = startRoomID
	}
	m.mu.Unlock()

	if wasOffline && m.rooms != nil {
		if r, ok := m.rooms.Get(startRoomID); ok {
			r.PlayerEntered(context.Background(), playerID)
		}
	}
}

// SetForbidsMovement flags or clears a player's movement-forbidding
// state (dead, stunned, etc.), consulted by the movement service.
func (m *Manager) SetForbidsMovement(playerID domain.PlayerIDType, forbid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(playerID)
	rec.forbidsMovement = forbid
}

// --- movement.PlayerDirectory ---

// CurrentRoom returns a player's recorded room. Returns ok=false for a
// player who is fully OFFLINE: an offline player cannot move.
func (m *Manager) CurrentRoom(playerID domain.PlayerIDType) (domain.RoomIDType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.players[playerID]
	if !ok || rec.state == stateOffline {
		return "", false
	}
	return rec.currentRoom, true
}

// ForbidsMovement reports whether a player is in a state that forbids
// movement.
func (m *Manager) ForbidsMovement(playerID domain.PlayerIDType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.players[playerID]
	return ok && rec.forbidsMovement
}

// CompareAndSetRoom atomically updates a player's recorded room.
func (m *Manager) CompareAndSetRoom(playerID domain.PlayerIDType, expectedFrom, to domain.RoomIDType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.players[playerID]
	if !ok || rec.currentRoom != expectedFrom {
		return false
	}
	rec.currentRoom = to
	return true
}

// --- connmgr.PresenceNotifier ---

// ConnectionAttached advances the presence state machine per spec §4.7
// and §4.8: a first connection starts the login grace period; a
// reattach during GRACE suppresses the disconnect event and returns to
// ONLINE; any other attach (additional connection, or a session-conflict
// handover already resolved by the connection manager) leaves state
// unchanged and emits nothing extra.
func (m *Manager) ConnectionAttached(playerID domain.PlayerIDType, sessionID domain.SessionIDType, connID domain.ConnectionIDType) {
	m.mu.Lock()
	rec := m.recordFor(playerID)
	rec.sessionID = sessionID
	rec.connCount++

	switch rec.state {
	case stateOffline:
		rec.state = stateProvisionalOnline
		rec.loginTimer = time.AfterFunc(m.cfg.LoginGracePeriod, func() {
			m.promoteToOnline(playerID)
		})
	case stateGrace:
		if rec.graceTimer != nil {
			rec.graceTimer.Stop()
			rec.graceTimer = nil
		}
		rec.state = stateOnline
		metrics.GraceSuppressedEventsTotal.WithLabelValues("player_disconnected").Inc()
	case stateProvisionalOnline, stateOnline:
		// Additional connection for an already (provisionally) online
		// player, or a same-player session handover: no state change.
	}
	m.mu.Unlock()
}

// ConnectionDetached retires a connection and, once a player's last
// connection is gone, either cancels a not-yet-promoted login or starts
// the disconnect grace period. A session-replacement close is neither:
// the connection manager is about to accept the replacing attach, the
// player remains logically online (spec §4.8), and both presence state
// and room occupancy stay exactly as they are.
func (m *Manager) ConnectionDetached(playerID domain.PlayerIDType, connID domain.ConnectionIDType, remaining int, reason domain.DisconnectReason) {
	m.mu.Lock()
	rec, ok := m.players[playerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.connCount = remaining
	if remaining > 0 || reason == domain.ReasonNewGameSession {
		m.mu.Unlock()
		return
	}

	switch rec.state {
	case stateProvisionalOnline:
		if rec.loginTimer != nil {
			rec.loginTimer.Stop()
			rec.loginTimer = nil
		}
		rec.state = stateOffline
		roomID := rec.currentRoom
		m.mu.Unlock()

		// player_connected never fired, so there is no disconnect to
		// announce; only the provisional occupancy needs unwinding.
		metrics.GraceSuppressedEventsTotal.WithLabelValues("player_connected").Inc()
		if m.rooms != nil {
			if r, found := m.rooms.Get(roomID); found {
				r.RemovePresenceOnly(context.Background(), playerID, m.logger)
			}
		}
		return
	case stateOnline:
		rec.state = stateGrace
		rec.graceTimer = time.AfterFunc(m.cfg.DisconnectGracePeriod, func() {
			m.expireGrace(playerID)
		})
	}
	m.mu.Unlock()
}

func (m *Manager) promoteToOnline(playerID domain.PlayerIDType) {
	m.mu.Lock()
	rec, ok := m.players[playerID]
	if !ok || rec.state != stateProvisionalOnline {
		m.mu.Unlock()
		return
	}
	rec.state = stateOnline
	roomID := rec.currentRoom
	m.mu.Unlock()

	metrics.PlayersOnline.Inc()
	if m.bus != nil {
		m.bus.Publish(domain.Event{
			Topic:     domain.TopicPlayerConnected,
			PlayerID:  playerID,
			RoomID:    roomID,
			Timestamp: time.Now(),
			Priority:  domain.PriorityNormal,
		})
	}
}

func (m *Manager) expireGrace(playerID domain.PlayerIDType) {
	m.mu.Lock()
	rec, ok := m.players[playerID]
	if !ok || rec.state != stateGrace {
		m.mu.Unlock()
		return
	}
	rec.state = stateOffline
	roomID := rec.currentRoom
	m.mu.Unlock()

	metrics.PlayersOnline.Dec()

	if m.rooms != nil {
		if r, found := m.rooms.Get(roomID); found {
			r.RemovePresenceOnly(context.Background(), playerID, m.logger)
		}
	}

	if m.bus != nil {
		m.bus.Publish(domain.Event{
			Topic:     domain.TopicPlayerDisconnected,
			PlayerID:  playerID,
			RoomID:    roomID,
			Timestamp: time.Now(),
			Priority:  domain.PriorityCritical,
		})
	}
}
