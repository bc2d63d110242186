// Package connmgr owns every attached transport (WebSocket and SSE),
// routes outbound envelopes to the right connections, and enforces
// session affinity and health policy. It is grounded on the teacher's
// transport.Hub/transport.Client pair: a per-connection goroutine pump
// draining a bounded outbound channel, exactly the way Client.writePump
// drains Client.send, generalized here from a single room to
// player/room/zone/sub-zone scoped broadcast.
package connmgr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"go.uber.org/zap"
)

// Transport is the capability a Connection needs over its underlying
// socket or stream. The WebSocket and SSE adapters in cmd/server each
// implement this against gorilla/websocket and http.Flusher respectively.
type Transport interface {
	Send(env domain.Envelope) error
	Close() error
}

// Connection is one attached transport for one player.
type Connection struct {
	id        domain.ConnectionIDType
	playerID  domain.PlayerIDType
	sessionID domain.SessionIDType
	kind      domain.TransportKind

	transport Transport
	logger    *zap.Logger

	// sendMu serializes enqueue against closeWithReason so no goroutine
	// can send on send after it is closed.
	sendMu     sync.Mutex
	sendClosed bool
	send       chan domain.Envelope

	state    atomic.Value // domain.ConnectionState
	lastSeen atomic.Int64 // unix nano
	created  time.Time

	closeOnce sync.Once
	closed    chan struct{}

	onClose func(reason domain.DisconnectReason)
}

func newConnection(id domain.ConnectionIDType, playerID domain.PlayerIDType, sessionID domain.SessionIDType, kind domain.TransportKind, transport Transport, queueSize int, logger *zap.Logger) *Connection {
	c := &Connection{
		id:        id,
		playerID:  playerID,
		sessionID: sessionID,
		kind:      kind,
		transport: transport,
		logger:    logger,
		send:      make(chan domain.Envelope, queueSize),
		created:   time.Now(),
		closed:    make(chan struct{}),
	}
	c.state.Store(domain.ConnStateAttaching)
	c.touch()
	return c
}

func (c *Connection) ID() domain.ConnectionIDType     { return c.id }
func (c *Connection) PlayerID() domain.PlayerIDType    { return c.playerID }
func (c *Connection) SessionID() domain.SessionIDType  { return c.sessionID }
func (c *Connection) Kind() domain.TransportKind       { return c.kind }
func (c *Connection) State() domain.ConnectionState    { return c.state.Load().(domain.ConnectionState) }
func (c *Connection) CreatedAt() time.Time             { return c.created }

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the timestamp of the most recent inbound frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Touch records an inbound frame (including an application-level ping),
// resetting the idle clock (spec §4.1: "Per-connection last_seen is
// updated on every inbound frame").
func (c *Connection) Touch() {
	c.touch()
	if c.State() == domain.ConnStateIdleWarn {
		c.state.Store(domain.ConnStateOpen)
	}
}

func (c *Connection) markOpen() {
	c.state.Store(domain.ConnStateOpen)
}

// startPump launches the goroutine draining the outbound queue into the
// transport, mirroring the teacher's Client.writePump.
func (c *Connection) startPump() {
	go func() {
		for env := range c.send {
			start := time.Now()
			err := c.transport.Send(env)
			metrics.MessageDeliveryDuration.WithLabelValues(string(c.kind)).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.MessageDeliveryTotal.WithLabelValues(string(c.kind), "error").Inc()
				c.closeWithReason(domain.ReasonTransportError)
				return
			}
			metrics.MessageDeliveryTotal.WithLabelValues(string(c.kind), "ok").Inc()
		}
	}()
}

// enqueue attempts a non-blocking send of an envelope. When the queue is
// full, the oldest queued envelope is discarded to make room; a critical
// envelope (queued or new) that would have to be dropped instead closes
// the connection with slow_consumer (spec §4.1 backpressure policy).
func (c *Connection) enqueue(env domain.Envelope) {
	c.sendMu.Lock()
	if c.sendClosed {
		c.sendMu.Unlock()
		return
	}

	select {
	case c.send <- env:
		c.sendMu.Unlock()
		return
	default:
	}

	select {
	case old := <-c.send:
		if old.Critical {
			c.sendMu.Unlock()
			metrics.SlowConsumerClosesTotal.Inc()
			c.closeWithReason(domain.ReasonSlowConsumer)
			return
		}
		metrics.DroppedMessagesTotal.WithLabelValues(string(c.kind)).Inc()
	default:
	}

	select {
	case c.send <- env:
		c.sendMu.Unlock()
		return
	default:
	}
	c.sendMu.Unlock()

	if !env.Critical {
		metrics.DroppedMessagesTotal.WithLabelValues(string(c.kind)).Inc()
		return
	}
	metrics.SlowConsumerClosesTotal.Inc()
	c.closeWithReason(domain.ReasonSlowConsumer)
}

// closeWithReason transitions the connection to CLOSED exactly once,
// closes the underlying transport, and invokes the manager's onClose
// callback so the manager can update its indices.
func (c *Connection) closeWithReason(reason domain.DisconnectReason) {
	c.closeOnce.Do(func() {
		c.state.Store(domain.ConnStateClosing)
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.send)
		c.sendMu.Unlock()
		_ = c.transport.Close()
		c.state.Store(domain.ConnStateClosed)
		close(c.closed)
		if c.onClose != nil {
			c.onClose(reason)
		}
		if c.logger != nil {
			c.logger.Info("connection closed",
				zap.String("connection_id", string(c.id)),
				zap.String("player_id", string(c.playerID)),
				zap.String("reason", string(reason)),
			)
		}
	})
}
