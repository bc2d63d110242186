package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/gorilla/websocket"
)

// writeWait bounds every outbound WebSocket write (spec §6.1's frame
// grammar says nothing about timeouts; this follows the teacher's
// transport.Client write-deadline idiom so a stalled peer can't pin a
// writer goroutine forever).
const writeWait = 10 * time.Second

// wsOutbound is the outbound frame shape from spec §6.1:
// `{type, data, server_ts}` with type in {game_event, chat, system, pong, error}.
type wsOutbound struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	ServerTS time.Time      `json:"server_ts"`
}

// wsInbound is the inbound frame shape: `{type, data}` with type in
// {command, ping, ack}.
type wsInbound struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func outboundTypeFor(topic domain.Topic) string {
	switch topic {
	case domain.TopicChatMessage:
		return "chat"
	case domain.TopicSystem:
		return "system"
	default:
		return "game_event"
	}
}

// wsTransport implements connmgr.Transport over a gorilla/websocket
// connection. Grounded on the teacher's transport.Client: a mutex
// serializes writes (gorilla connections are not safe for concurrent
// writers) and every write carries a deadline.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ connmgr.Transport = (*wsTransport)(nil)

func (t *wsTransport) Send(env domain.Envelope) error {
	frame := wsOutbound{
		Type:     outboundTypeFor(env.Topic),
		Data:     env.Payload,
		ServerTS: env.ServerTimestamp,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) sendRaw(frameType string, data map[string]any) error {
	frame := wsOutbound{Type: frameType, Data: data, ServerTS: time.Now()}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// readLoop blocks reading inbound frames until the connection errors or
// closes, touching connID's last_seen on every frame (spec §4.1: "updated
// on every inbound frame, including application-level ping") and
// answering ping with pong. Command frames are handed to onCommand; a
// command the dispatcher does not recognize is acknowledged only —
// general text-command parsing/dispatch stays an out-of-scope
// collaborator (spec §1).
func (t *wsTransport) readLoop(conns *connmgr.Manager, connID domain.ConnectionIDType, reason *domain.DisconnectReason, onCommand func(map[string]any) error) {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			*reason = domain.ReasonTransportError
			return
		}

		conns.Touch(connID)

		var frame wsInbound
		if err := json.Unmarshal(raw, &frame); err != nil {
			*reason = domain.ReasonProtocolError
			return
		}

		switch frame.Type {
		case "ping":
			_ = t.sendRaw("pong", nil)
		case "command":
			if frame.Data == nil {
				continue
			}
			if err := onCommand(frame.Data); err != nil {
				_ = t.sendRaw("error", map[string]any{"error": err.Error()})
			}
		case "ack":
			// Acknowledged only.
		}
	}
}
