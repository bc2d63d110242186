package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
)

// sseTransport implements connmgr.Transport over a flushed HTTP
// response, per spec §6.1: "Response is text/event-stream. Each event is
// `event: <type>\ndata: <json>\n\n`." SSE is strictly server→client
// (spec §9's open-question resolution); client→server traffic arrives
// over the companion POST handler in handlers.go, not through this type.
type sseTransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  chan struct{}
	once    sync.Once
}

var _ connmgr.Transport = (*sseTransport)(nil)

func newSSETransport(w http.ResponseWriter, flusher http.Flusher) *sseTransport {
	return &sseTransport{w: w, flusher: flusher, closed: make(chan struct{})}
}

func (t *sseTransport) Send(env domain.Envelope) error {
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
	select {
	case <-t.closed:
		return fmt.Errorf("sse transport closed")
	default:
	}

	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", frame.Type, payload); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close marks the stream closed. The underlying HTTP handler's return is
// what actually tears down the connection; Close only stops further
// Sends from writing to a response that is (or is about to be) gone.
func (t *sseTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *sseTransport) done() <-chan struct{} {
	return t.closed
}
