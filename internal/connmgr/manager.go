package connmgr

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config carries the connection-manager tunables from spec §6.5.
type Config struct {
	MaxConnectionsPerPlayer int
	OutboundQueueSize       int
	StaleIdleThreshold      time.Duration
	MaxConnectionAge        time.Duration
	CleanupInterval         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnectionsPerPlayer <= 0 {
		c.MaxConnectionsPerPlayer = 4
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 256
	}
	if c.StaleIdleThreshold <= 0 {
		c.StaleIdleThreshold = 90 * time.Second
	}
	if c.MaxConnectionAge <= 0 {
		c.MaxConnectionAge = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	return c
}

// PresenceNotifier is the capability the connection manager needs to tell
// the session subsystem about attach/detach events. The session package
// implements this; the connection manager never imports it, breaking the
// cycle the two would otherwise form. The detach reason lets the session
// subsystem distinguish a session-replacement close (the player stays
// logically online, spec §4.8) from a real last-connection detach.
type PresenceNotifier interface {
	ConnectionAttached(playerID domain.PlayerIDType, sessionID domain.SessionIDType, connID domain.ConnectionIDType)
	ConnectionDetached(playerID domain.PlayerIDType, connID domain.ConnectionIDType, remaining int, reason domain.DisconnectReason)
}

// Stats is the snapshot returned by Manager.Stats.
type Stats struct {
	TotalConnections int
	ByKind           map[domain.TransportKind]int
	PlayersConnected int
}

// Manager owns every attached transport, process-wide (spec §4.1: a
// process-wide singleton initialized at startup). It is grounded on the
// teacher's transport.Hub: a global map guarded by one mutex, plus
// per-connection state guarded by the connection itself, with the grace-
// period timer pattern (hub.go's pendingRoomCleanups) generalized here
// into the session package instead of living on the manager.
type Manager struct {
	mu              sync.RWMutex
	byPlayer        map[domain.PlayerIDType]map[domain.ConnectionIDType]*Connection
	byID            map[domain.ConnectionIDType]*Connection
	sessionByPlayer map[domain.PlayerIDType]domain.SessionIDType

	rooms    *room.Registry
	cfg      Config
	logger   *zap.Logger
	notifier PresenceNotifier

	stopCh chan struct{}
	wg     sync.WaitGroup

	shuttingDown atomic.Bool
}

// New constructs a Manager. rooms is used to resolve occupant sets for
// broadcast_to_room/zone/subzone.
func New(rooms *room.Registry, cfg Config, logger *zap.Logger) *Manager {
	m := &Manager{
		byPlayer:        make(map[domain.PlayerIDType]map[domain.ConnectionIDType]*Connection),
		byID:            make(map[domain.ConnectionIDType]*Connection),
		sessionByPlayer: make(map[domain.PlayerIDType]domain.SessionIDType),
		rooms:           rooms,
		cfg:             cfg.withDefaults(),
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
	m.wg.Add(1)
	go m.healthSweepLoop()
	return m
}

// SetNotifier wires the presence notifier. Called once during startup
// wiring, before any attach can occur.
func (m *Manager) SetNotifier(n PresenceNotifier) {
	m.notifier = n
}

// AttachWebSocket registers a new WebSocket-backed connection for a
// player, enforcing session affinity and the per-player connection cap
// (spec §4.1).
func (m *Manager) AttachWebSocket(playerID domain.PlayerIDType, sessionID domain.SessionIDType, transport Transport) (domain.ConnectionIDType, error) {
	return m.attach(domain.TransportWebSocket, playerID, sessionID, transport)
}

// AttachSSE registers a new SSE-backed connection for a player, with the
// same semantics as AttachWebSocket.
func (m *Manager) AttachSSE(playerID domain.PlayerIDType, sessionID domain.SessionIDType, transport Transport) (domain.ConnectionIDType, error) {
	return m.attach(domain.TransportSSE, playerID, sessionID, transport)
}

func (m *Manager) attach(kind domain.TransportKind, playerID domain.PlayerIDType, sessionID domain.SessionIDType, transport Transport) (domain.ConnectionIDType, error) {
	if m.shuttingDown.Load() {
		return "", domain.NewConnError(domain.ErrKindTransportAcceptFailed, fmt.Errorf("manager is shutting down"))
	}

	// Session affinity (spec §4.8): forcibly close the prior session's
	// connections before accepting the new attach. The closure happens
	// outside the manager lock since it performs transport I/O.
	m.mu.Lock()
	current, hasSession := m.sessionByPlayer[playerID]
	var toClose []*Connection
	if hasSession && current != sessionID {
		for _, c := range m.byPlayer[playerID] {
			toClose = append(toClose, c)
		}
	}
	m.mu.Unlock()

	for _, c := range toClose {
		c.closeWithReason(domain.ReasonNewGameSession)
	}

	m.mu.Lock()
	if len(m.byPlayer[playerID]) >= m.cfg.MaxConnectionsPerPlayer {
		m.mu.Unlock()
		return "", domain.NewConnError(domain.ErrKindMaxConnectionsExceeded, nil)
	}

	connID := domain.ConnectionIDType(uuid.NewString())
	conn := newConnection(connID, playerID, sessionID, kind, transport, m.cfg.OutboundQueueSize, m.logger)
	conn.onClose = func(reason domain.DisconnectReason) {
		m.removeConnection(playerID, connID, reason)
	}

	if m.byPlayer[playerID] == nil {
		m.byPlayer[playerID] = make(map[domain.ConnectionIDType]*Connection)
	}
	m.byPlayer[playerID][connID] = conn
	m.byID[connID] = conn
	m.sessionByPlayer[playerID] = sessionID
	m.mu.Unlock()

	conn.markOpen()
	conn.startPump()

	metrics.ActiveConnections.WithLabelValues(string(kind)).Inc()
	metrics.ConnectionsEstablishedTotal.WithLabelValues(string(kind)).Inc()

	if m.notifier != nil {
		m.notifier.ConnectionAttached(playerID, sessionID, connID)
	}

	return connID, nil
}

// removeConnection deletes a closed connection from every index and
// notifies the session subsystem of the remaining connection count.
func (m *Manager) removeConnection(playerID domain.PlayerIDType, connID domain.ConnectionIDType, reason domain.DisconnectReason) {
	m.mu.Lock()
	conn, existed := m.byID[connID]
	if !existed {
		m.mu.Unlock()
		return
	}
	delete(m.byID, connID)
	if set, ok := m.byPlayer[playerID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.byPlayer, playerID)
		}
	}
	remaining := len(m.byPlayer[playerID])
	m.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(string(conn.kind)).Dec()
	metrics.ConnectionsClosedTotal.WithLabelValues(string(conn.kind), string(reason)).Inc()

	if m.notifier != nil {
		m.notifier.ConnectionDetached(playerID, connID, remaining, reason)
	}
}

// Detach closes a single connection by id. Idempotent: closing an
// already-closed or unknown connection is a no-op.
func (m *Manager) Detach(connID domain.ConnectionIDType, reason domain.DisconnectReason) {
	m.mu.RLock()
	conn, ok := m.byID[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.closeWithReason(reason)
}

// Touch records client-originated activity (the WS read loop calls it for
// every inbound frame) against connID, resetting its idle timer. Unknown or
// already-closed connection ids are a no-op.
func (m *Manager) Touch(connID domain.ConnectionIDType) {
	m.mu.RLock()
	conn, ok := m.byID[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.Touch()
}

// ForceDisconnectPlayer closes every connection belonging to a player
// (spec §4.1 and the session-conflict handover in §4.8).
func (m *Manager) ForceDisconnectPlayer(playerID domain.PlayerIDType, reason domain.DisconnectReason) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byPlayer[playerID]))
	for _, c := range m.byPlayer[playerID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.closeWithReason(reason)
	}
}

// SendToPlayer writes an envelope to every healthy connection a player
// currently has, snapshotting the connection list under the lock and
// enqueuing outside it, per spec §4.1's concurrency rule.
func (m *Manager) SendToPlayer(playerID domain.PlayerIDType, env domain.Envelope) domain.DeliveryReport {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byPlayer[playerID]))
	for _, c := range m.byPlayer[playerID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	report := domain.DeliveryReport{Attempted: len(conns)}
	for _, c := range conns {
		if c.State() == domain.ConnStateClosed || c.State() == domain.ConnStateClosing {
			report.Failed++
			continue
		}
		c.enqueue(env)
		report.Succeeded++
	}
	return report
}

// BroadcastToRoom delivers an envelope to every occupant of a room at
// call time, optionally excluding one player (e.g. the mover).
func (m *Manager) BroadcastToRoom(roomID domain.RoomIDType, env domain.Envelope, excludePlayerID domain.PlayerIDType) {
	r, ok := m.rooms.Get(roomID)
	if !ok {
		return
	}
	for _, playerID := range r.Occupants() {
		if playerID == excludePlayerID {
			continue
		}
		m.SendToPlayer(playerID, env)
	}
}

// BroadcastToZone delivers an envelope to every occupant of every room in
// a zone, optionally excluding one player.
func (m *Manager) BroadcastToZone(zoneID domain.ZoneIDType, env domain.Envelope, excludePlayerID domain.PlayerIDType) {
	for _, roomID := range m.rooms.RoomsInZone(zoneID) {
		m.BroadcastToRoom(roomID, env, excludePlayerID)
	}
}

// BroadcastToSubZone delivers an envelope to every occupant of every room
// in a sub-zone, optionally excluding one player.
func (m *Manager) BroadcastToSubZone(subZoneID domain.SubZoneIDType, env domain.Envelope, excludePlayerID domain.PlayerIDType) {
	for _, roomID := range m.rooms.RoomsInSubZone(subZoneID) {
		m.BroadcastToRoom(roomID, env, excludePlayerID)
	}
}

// BroadcastToAll delivers an envelope to every connected player,
// regardless of location. Used for admin_broadcast (spec §4.6); the
// admin-flag check happens at the publisher, not here.
func (m *Manager) BroadcastToAll(env domain.Envelope) {
	m.mu.RLock()
	playerIDs := make([]domain.PlayerIDType, 0, len(m.byPlayer))
	for id := range m.byPlayer {
		playerIDs = append(playerIDs, id)
	}
	m.mu.RUnlock()

	for _, id := range playerIDs {
		m.SendToPlayer(id, env)
	}
}

// Stats returns a snapshot of global connection counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(m.byID),
		ByKind:           make(map[domain.TransportKind]int),
		PlayersConnected: len(m.byPlayer),
	}
	for _, c := range m.byID {
		stats.ByKind[c.kind]++
	}
	return stats
}

func (m *Manager) healthSweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep closes stale and over-age connections (spec §4.1 health model).
func (m *Manager) sweep() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, c := range conns {
		if c.State() == domain.ConnStateClosed || c.State() == domain.ConnStateClosing {
			continue
		}
		idle := now.Sub(c.LastSeen())
		age := now.Sub(c.CreatedAt())

		switch {
		case age > m.cfg.MaxConnectionAge:
			c.closeWithReason(domain.ReasonStalePrune)
		case idle > m.cfg.StaleIdleThreshold:
			c.closeWithReason(domain.ReasonConnectionTimeout)
		case idle > m.cfg.StaleIdleThreshold/2:
			c.state.Store(domain.ConnStateIdleWarn)
		}
	}
}

// Shutdown closes every connection with reason shutdown and stops the
// health sweeper, part of the reverse-dependency-order shutdown sequence
// in spec §5.
func (m *Manager) Shutdown() {
	m.shuttingDown.Store(true)
	close(m.stopCh)
	m.wg.Wait()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.closeWithReason(domain.ReasonShutdown)
	}
}
