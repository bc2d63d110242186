package room

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) topics() []domain.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Topic, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Topic)
	}
	return out
}

func TestPlayerEnteredEmitsEventOnce(t *testing.T) {
	pub := &recordingPublisher{}
	r := New("r1", "arkham", "campus", nil, pub)

	r.PlayerEntered(context.Background(), "alice")
	r.PlayerEntered(context.Background(), "alice")

	assert.True(t, r.HasOccupant("alice"))
	assert.Equal(t, 1, r.OccupantCount())
	assert.Equal(t, []domain.Topic{domain.TopicPlayerEnteredRoom}, pub.topics())
}

func TestPlayerLeftIsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	r := New("r1", "arkham", "campus", nil, pub)

	r.PlayerEntered(context.Background(), "alice")
	r.PlayerLeft(context.Background(), "alice")
	r.PlayerLeft(context.Background(), "alice")

	assert.False(t, r.HasOccupant("alice"))
	assert.Equal(t, 0, r.OccupantCount())
	assert.Equal(t, []domain.Topic{domain.TopicPlayerEnteredRoom, domain.TopicPlayerLeftRoom}, pub.topics())
}

func TestNilPublisherDoesNotPanic(t *testing.T) {
	r := New("r1", "arkham", "campus", nil, nil)
	assert.NotPanics(t, func() {
		r.PlayerEntered(context.Background(), "alice")
		r.NPCEntered(context.Background(), "ghoul")
		r.ObjectAdded(context.Background(), "lantern")
	})
}

func TestExitToReportsMissingExit(t *testing.T) {
	r := New("r1", "arkham", "campus", map[domain.Direction]domain.RoomIDType{"north": "r2"}, nil)

	to, ok := r.ExitTo("north")
	assert.True(t, ok)
	assert.Equal(t, domain.RoomIDType("r2"), to)

	_, ok = r.ExitTo("south")
	assert.False(t, ok)
}

func TestRegistryIndexesByZoneAndSubZone(t *testing.T) {
	reg := NewRegistry()
	reg.Add(New("quad", "arkham", "campus", nil, nil))
	reg.Add(New("library", "arkham", "campus", nil, nil))
	reg.Add(New("street", "arkham", "french_hill", nil, nil))

	zoneMembers := reg.RoomsInZone("arkham")
	assert.Len(t, zoneMembers, 3)
	assert.Len(t, reg.RoomsInSubZone("campus"), 2)

	got, ok := reg.Get("quad")
	require.True(t, ok)
	assert.Equal(t, domain.RoomIDType("quad"), got.ID())

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)
}

func TestLoadCatalogBuildsRegistryFromDisk(t *testing.T) {
	reg, err := LoadCatalog("../../data/rooms.json", nil)
	require.NoError(t, err)

	quad, ok := reg.Get("arkham_campus_quad")
	require.True(t, ok)
	assert.Equal(t, domain.ZoneIDType("arkham"), quad.Zone())
	assert.Equal(t, domain.SubZoneIDType("campus"), quad.SubZone())

	to, ok := quad.ExitTo("north")
	assert.True(t, ok)
	assert.Equal(t, domain.RoomIDType("miskatonic_library_foyer"), to)
}

func TestLoadCatalogRejectsDanglingExit(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"r1":{"zone":"z","sub_zone":"s","exits":{"north":"ghost"}}}`), 0o644))

	_, err := LoadCatalog(path, nil)
	assert.Error(t, err)
}
