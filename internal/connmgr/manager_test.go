package connmgr_test

import (
	"sync"
	"testing"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []domain.Envelope
	closed bool
	sendErr error
}

func (f *fakeTransport) Send(env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeNotifier struct {
	mu       sync.Mutex
	attached []domain.PlayerIDType
	detached []domain.PlayerIDType
}

func (n *fakeNotifier) ConnectionAttached(playerID domain.PlayerIDType, sessionID domain.SessionIDType, connID domain.ConnectionIDType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attached = append(n.attached, playerID)
}

func (n *fakeNotifier) ConnectionDetached(playerID domain.PlayerIDType, connID domain.ConnectionIDType, remaining int, reason domain.DisconnectReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detached = append(n.detached, playerID)
}

func newTestManager() *connmgr.Manager {
	reg := room.NewRegistry()
	reg.Add(room.New("room-a", "zone-1", "sub-1", nil, nil))
	return connmgr.New(reg, connmgr.Config{CleanupInterval: time.Hour}, nil)
}

func TestAttachAndSendToPlayer(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	tr := &fakeTransport{}
	connID, err := m.AttachWebSocket("p1", "sess-1", tr)
	require.NoError(t, err)
	assert.NotEmpty(t, connID)

	report := m.SendToPlayer("p1", domain.Envelope{Topic: domain.TopicSystem})
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)

	require.Eventually(t, func() bool {
		return tr.sentCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSessionConflictClosesPriorConnections(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	tr1 := &fakeTransport{}
	_, err := m.AttachWebSocket("p1", "sess-1", tr1)
	require.NoError(t, err)

	tr2 := &fakeTransport{}
	_, err = m.AttachWebSocket("p1", "sess-2", tr2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr1.mu.Lock()
		defer tr1.mu.Unlock()
		return tr1.closed
	}, time.Second, 10*time.Millisecond)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
}

func TestMaxConnectionsExceeded(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	for i := 0; i < 4; i++ {
		_, err := m.AttachSSE("p1", "sess-1", &fakeTransport{})
		require.NoError(t, err)
	}

	_, err := m.AttachSSE("p1", "sess-1", &fakeTransport{})
	require.Error(t, err)

	var connErr *domain.ConnError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, domain.ErrKindMaxConnectionsExceeded, connErr.Kind)
}

func TestForceDisconnectPlayer(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	tr := &fakeTransport{}
	_, err := m.AttachWebSocket("p1", "sess-1", tr)
	require.NoError(t, err)

	m.ForceDisconnectPlayer("p1", domain.ReasonAdminKick)

	require.Eventually(t, func() bool {
		return m.Stats().TotalConnections == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastToRoomExcludesMover(t *testing.T) {
	reg := room.NewRegistry()
	r := room.New("room-a", "zone-1", "sub-1", nil, nil)
	reg.Add(r)
	m := connmgr.New(reg, connmgr.Config{CleanupInterval: time.Hour}, nil)
	defer m.Shutdown()

	trMover := &fakeTransport{}
	trOther := &fakeTransport{}
	_, err := m.AttachWebSocket("mover", "s1", trMover)
	require.NoError(t, err)
	_, err = m.AttachWebSocket("other", "s2", trOther)
	require.NoError(t, err)

	r.PlayerEntered(nil, "mover")
	r.PlayerEntered(nil, "other")

	m.BroadcastToRoom("room-a", domain.Envelope{Topic: domain.TopicPlayerEnteredRoom}, "mover")

	require.Eventually(t, func() bool {
		return trOther.sentCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, trMover.sentCount())
}

// blockingTransport wedges its first Send until release is closed,
// pinning the pump goroutine so the outbound queue can be filled.
type blockingTransport struct {
	release chan struct{}
}

func (b *blockingTransport) Send(env domain.Envelope) error {
	<-b.release
	return nil
}

func (b *blockingTransport) Close() error { return nil }

func TestFullQueueDropsOldestNonCritical(t *testing.T) {
	reg := room.NewRegistry()
	m := connmgr.New(reg, connmgr.Config{CleanupInterval: time.Hour, OutboundQueueSize: 2}, nil)
	defer m.Shutdown()

	tr := &blockingTransport{release: make(chan struct{})}
	defer close(tr.release)

	_, err := m.AttachWebSocket("ned", "s1", tr)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		m.SendToPlayer("ned", domain.Envelope{Topic: domain.TopicSystem})
	}

	// Overflow only drops envelopes; the connection survives.
	assert.Equal(t, 1, m.Stats().TotalConnections)
}

func TestCriticalOnFullQueueOfCriticalsClosesSlowConsumer(t *testing.T) {
	reg := room.NewRegistry()
	m := connmgr.New(reg, connmgr.Config{CleanupInterval: time.Hour, OutboundQueueSize: 2}, nil)
	defer m.Shutdown()

	tr := &blockingTransport{release: make(chan struct{})}
	defer close(tr.release)

	_, err := m.AttachWebSocket("ned", "s1", tr)
	require.NoError(t, err)

	// The pump pulls one envelope and blocks in Send; the rest fill the
	// queue until making room would mean dropping a queued critical.
	crit := domain.Envelope{Topic: domain.TopicPlayerDisconnected, Critical: true}
	for i := 0; i < 6; i++ {
		m.SendToPlayer("ned", crit)
	}

	require.Eventually(t, func() bool {
		return m.Stats().TotalConnections == 0
	}, time.Second, 10*time.Millisecond)
}
