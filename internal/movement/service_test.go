package movement_test

import (
	"context"
	"sync"
	"testing"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/movement"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu       sync.Mutex
	rooms    map[domain.PlayerIDType]domain.RoomIDType
	forbid   map[domain.PlayerIDType]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		rooms:  make(map[domain.PlayerIDType]domain.RoomIDType),
		forbid: make(map[domain.PlayerIDType]bool),
	}
}

func (f *fakeDirectory) CurrentRoom(playerID domain.PlayerIDType) (domain.RoomIDType, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[playerID]
	return r, ok
}

func (f *fakeDirectory) ForbidsMovement(playerID domain.PlayerIDType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forbid[playerID]
}

func (f *fakeDirectory) CompareAndSetRoom(playerID domain.PlayerIDType, expectedFrom, to domain.RoomIDType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[playerID] != expectedFrom {
		return false
	}
	f.rooms[playerID] = to
	return true
}

func buildTestRegistry() *room.Registry {
	reg := room.NewRegistry()
	reg.Add(room.New("room-a", "zone-1", "sub-1", map[domain.Direction]domain.RoomIDType{
		domain.DirectionNorth: "room-b",
	}, nil))
	reg.Add(room.New("room-b", "zone-1", "sub-1", map[domain.Direction]domain.RoomIDType{
		domain.DirectionSouth: "room-a",
	}, nil))
	return reg
}

func TestMovePlayerSuccess(t *testing.T) {
	reg := buildTestRegistry()
	dir := newFakeDirectory()
	dir.rooms["p1"] = "room-a"

	svc := movement.New(reg, dir, nil)
	err := svc.MovePlayer(context.Background(), "p1", "room-a", "room-b", domain.DirectionNorth)
	require.NoError(t, err)

	current, ok := dir.CurrentRoom("p1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomIDType("room-b"), current)

	a, _ := reg.Get("room-a")
	b, _ := reg.Get("room-b")
	assert.False(t, a.HasOccupant("p1"))
	assert.True(t, b.HasOccupant("p1"))
}

func TestMovePlayerInvalidExit(t *testing.T) {
	reg := buildTestRegistry()
	dir := newFakeDirectory()
	dir.rooms["p1"] = "room-a"

	svc := movement.New(reg, dir, nil)
	err := svc.MovePlayer(context.Background(), "p1", "room-a", "room-b", domain.DirectionSouth)
	require.Error(t, err)

	var mErr *domain.MovementError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, domain.ErrKindInvalidExit, mErr.Kind)
}

func TestMovePlayerSameRoomIsNoOp(t *testing.T) {
	reg := buildTestRegistry()
	dir := newFakeDirectory()
	dir.rooms["p1"] = "room-a"

	svc := movement.New(reg, dir, nil)
	err := svc.MovePlayer(context.Background(), "p1", "room-a", "room-a", "")
	require.NoError(t, err)

	current, _ := dir.CurrentRoom("p1")
	assert.Equal(t, domain.RoomIDType("room-a"), current)
}

func TestMovePlayerStateForbidsMovement(t *testing.T) {
	reg := buildTestRegistry()
	dir := newFakeDirectory()
	dir.rooms["p1"] = "room-a"
	dir.forbid["p1"] = true

	svc := movement.New(reg, dir, nil)
	err := svc.MovePlayer(context.Background(), "p1", "room-a", "room-b", domain.DirectionNorth)
	require.Error(t, err)

	var mErr *domain.MovementError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, domain.ErrKindStateForbidsMovement, mErr.Kind)
}

func TestMovePlayerUnknownPlayer(t *testing.T) {
	reg := buildTestRegistry()
	dir := newFakeDirectory()

	svc := movement.New(reg, dir, nil)
	err := svc.MovePlayer(context.Background(), "ghost", "room-a", "room-b", "")
	require.Error(t, err)

	var mErr *domain.MovementError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, domain.ErrKindPlayerNotFound, mErr.Kind)
}
