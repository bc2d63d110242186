package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/auth"
	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/eventbus"
	"github.com/arkanwolfshade/mythosmud/internal/logging"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/arkanwolfshade/mythosmud/internal/movement"
	"github.com/arkanwolfshade/mythosmud/internal/ratelimit"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/arkanwolfshade/mythosmud/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errRateLimited   = errors.New("rate limit exceeded")
	errNotAuthorized = errors.New("not authorized")
)

// application bundles the request-scoped dependencies every transport
// endpoint needs, the way the teacher's hub holds a validator and a room
// set. Built once in main and closed over by the route handlers.
type application struct {
	cfg        *appConfig
	validator  auth.Validator
	limiter    *ratelimit.Limiter
	conns      *connmgr.Manager
	rooms      *room.Registry
	sessions   *session.Manager
	movement   *movement.Service
	bus        *eventbus.Bus
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// HandleMoveCommand is movement's own wire entry point: a move in a
// direction, with the destination room resolved from the player's
// current room's exit table (spec §4.5's move_player contract). General
// text-command parsing/dispatch stays an out-of-scope collaborator
// (spec §1); this only covers the one primitive the real-time core
// itself is responsible for.
func (a *application) HandleMoveCommand(ctx context.Context, playerID domain.PlayerIDType, direction domain.Direction) error {
	fromRoomID, ok := a.sessions.CurrentRoom(playerID)
	if !ok {
		return domain.NewMovementError(domain.ErrKindPlayerNotFound, nil)
	}
	fromRoom, ok := a.rooms.Get(fromRoomID)
	if !ok {
		return domain.NewMovementError(domain.ErrKindRoomNotFound, nil)
	}
	toRoomID, ok := fromRoom.ExitTo(direction)
	if !ok {
		return domain.NewMovementError(domain.ErrKindInvalidExit, nil)
	}
	return a.movement.MovePlayer(ctx, playerID, fromRoomID, toRoomID, direction)
}

// HandleChatCommand publishes a chat_message event onto the bus once the
// channel's rate limit admits it. Room/zone scoping is resolved from the
// sender's current room; the realtime handlers decide the recipient set.
func (a *application) HandleChatCommand(ctx context.Context, playerID domain.PlayerIDType, channel domain.ChatChannel, text string, targetPlayerID domain.PlayerIDType) error {
	if a.limiter != nil && !a.limiter.AllowChatMessage(ctx, playerID, channel) {
		return errRateLimited
	}

	roomID, _ := a.sessions.CurrentRoom(playerID)
	var zoneID domain.ZoneIDType
	var subZoneID domain.SubZoneIDType
	if r, ok := a.rooms.Get(roomID); ok {
		zoneID = r.Zone()
		subZoneID = r.SubZone()
	}

	data := map[string]any{"channel": string(channel), "text": text}
	if targetPlayerID != "" {
		data["target_player_id"] = string(targetPlayerID)
	}
	a.bus.Publish(domain.Event{
		Topic:     domain.TopicChatMessage,
		PlayerID:  playerID,
		RoomID:    roomID,
		ZoneID:    zoneID,
		SubZoneID: subZoneID,
		Data:      data,
		Timestamp: time.Now(),
	})
	return nil
}

// HandleAdminBroadcast publishes an admin_broadcast event. The admin
// flag is enforced here, at the publisher; the realtime handler trusts
// any admin_broadcast that reaches the bus.
func (a *application) HandleAdminBroadcast(playerID domain.PlayerIDType, isAdmin bool, text string) error {
	if !isAdmin {
		return errNotAuthorized
	}
	a.bus.Publish(domain.Event{
		Topic:     domain.TopicAdminBroadcast,
		PlayerID:  playerID,
		Data:      map[string]any{"text": text},
		Timestamp: time.Now(),
	})
	return nil
}

// commandDispatcher builds the per-connection command callback shared by
// the WebSocket read loop and the SSE POST companion: a direction moves
// the player, a channel+text publishes chat, and channel "admin"
// publishes an admin broadcast. Anything else is acknowledged only —
// general text-command parsing/dispatch stays an external collaborator.
func (a *application) commandDispatcher(ctx context.Context, playerID domain.PlayerIDType, isAdmin bool) func(map[string]any) error {
	return func(data map[string]any) error {
		if dir, _ := data["direction"].(string); dir != "" {
			return a.HandleMoveCommand(ctx, playerID, domain.Direction(dir))
		}
		channel, _ := data["channel"].(string)
		text, _ := data["text"].(string)
		if channel == "" || text == "" {
			return nil
		}
		if channel == "admin" {
			return a.HandleAdminBroadcast(playerID, isAdmin, text)
		}
		target, _ := data["target_player_id"].(string)
		return a.HandleChatCommand(ctx, playerID, domain.ChatChannel(channel), text, domain.PlayerIDType(target))
	}
}

type appConfig struct {
	allowedOrigins []string
}

func parseAllowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	return strings.Split(raw, ",")
}

func (a *application) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// bearerToken extracts the session token per spec §6.1 ("authentication
// by bearer token, header or subprotocol"): the Authorization header
// takes precedence, then a `token` query param for browser clients that
// can't set a header on the WS handshake.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// resolveStartRoom picks a player's starting room. Persistence (the
// player's last-known location) is out of scope (spec §1); a `room_id`
// query param lets a reconnecting client supply it, falling back to the
// first room returned by Registry.All for a brand-new login. All has no
// defined order, so which catalog room that is can differ between calls.
func (a *application) resolveStartRoom(c *gin.Context) domain.RoomIDType {
	if rid := c.Query("room_id"); rid != "" {
		if _, ok := a.rooms.Get(domain.RoomIDType(rid)); ok {
			return domain.RoomIDType(rid)
		}
	}
	all := a.rooms.All()
	if len(all) == 0 {
		return ""
	}
	return all[0].ID()
}

// authenticate validates the bearer token and checks it authorizes the
// path's player_id, writing an HTTP 401 itself on failure (spec §6.1:
// "on reject they respond with HTTP 401").
func (a *application) authenticate(c *gin.Context) (*auth.Claims, bool) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return nil, false
	}
	claims, err := a.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	if claims.PlayerID() != c.Param("player_id") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token does not authorize this player"})
		return nil, false
	}
	return claims, true
}

// HandleWS serves GET /ws/:player_id?session_id=<sid> (spec §6.1).
func (a *application) HandleWS(c *gin.Context) {
	start := time.Now()

	claims, ok := a.authenticate(c)
	if !ok {
		return
	}
	playerID := domain.PlayerIDType(claims.PlayerID())
	sessionID := domain.SessionIDType(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	if a.limiter != nil && !a.limiter.AllowConnect(c.Request.Context(), c.ClientIP(), playerID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "connect rate limit exceeded"})
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	transport := &wsTransport{conn: conn}
	a.sessions.RegisterLogin(playerID, a.resolveStartRoom(c))

	connID, err := a.conns.AttachWebSocket(playerID, sessionID, transport)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket attach rejected", zap.Error(err), zap.String("player_id", string(playerID)))
		_ = conn.Close()
		return
	}
	metrics.ConnectionEstablishDuration.Observe(time.Since(start).Seconds())

	reason := domain.ReasonNormal
	transport.readLoop(a.conns, connID, &reason, a.commandDispatcher(c.Request.Context(), playerID, claims.IsAdmin))
	a.conns.Detach(connID, reason)
}

// HandleSSE serves GET /sse/:player_id?session_id=<sid> (spec §6.1):
// server->client only, streamed until the client disconnects.
func (a *application) HandleSSE(c *gin.Context) {
	start := time.Now()

	claims, ok := a.authenticate(c)
	if !ok {
		return
	}
	playerID := domain.PlayerIDType(claims.PlayerID())
	sessionID := domain.SessionIDType(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	if a.limiter != nil && !a.limiter.AllowConnect(c.Request.Context(), c.ClientIP(), playerID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "connect rate limit exceeded"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	transport := newSSETransport(c.Writer, flusher)
	a.sessions.RegisterLogin(playerID, a.resolveStartRoom(c))

	connID, err := a.conns.AttachSSE(playerID, sessionID, transport)
	if err != nil {
		logging.Warn(c.Request.Context(), "sse attach rejected", zap.Error(err), zap.String("player_id", string(playerID)))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attach failed"})
		return
	}
	metrics.ConnectionEstablishDuration.Observe(time.Since(start).Seconds())

	select {
	case <-c.Request.Context().Done():
	case <-transport.done():
	}
	a.conns.Detach(connID, domain.ReasonTransportError)
}

// HandleSSESend serves the client->server companion to SSE (spec §9:
// "SSE: strictly server->client; client->server uses HTTP POST"). The
// payload shape matches the data half of a WebSocket command frame.
func (a *application) HandleSSESend(c *gin.Context) {
	claims, ok := a.authenticate(c)
	if !ok {
		return
	}

	var data map[string]any
	_ = c.ShouldBindJSON(&data)
	if len(data) > 0 {
		playerID := domain.PlayerIDType(claims.PlayerID())
		if err := a.commandDispatcher(c.Request.Context(), playerID, claims.IsAdmin)(data); err != nil {
			status := http.StatusUnprocessableEntity
			switch {
			case errors.Is(err, errRateLimited):
				status = http.StatusTooManyRequests
			case errors.Is(err, errNotAuthorized):
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
