// Package movement implements the sole path by which a player changes
// rooms (spec §4.5). It grounds its canonical-lock-ordering technique on
// the teacher's transport.Room pattern of acquiring one lock at a time in
// a fixed order before mutating shared state, generalized here to two
// rooms instead of one.
package movement

import (
	"context"
	"errors"
	"sync"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"go.uber.org/zap"
)

// maxConcurrentModificationRetries bounds the optimistic-concurrency
// retry loop before concurrent_modification is surfaced to the caller
// (spec §4.5: "service retries up to N times before surfacing").
const maxConcurrentModificationRetries = 3

// PlayerDirectory is the capability the movement service needs over
// player presence state. It is satisfied by the session subsystem, which
// owns the authoritative current_room_id and movement-forbidding state
// for every online player.
type PlayerDirectory interface {
	// CurrentRoom returns a player's recorded room, or ok=false if the
	// player is not known to the directory (player_not_found).
	CurrentRoom(playerID domain.PlayerIDType) (domain.RoomIDType, bool)

	// ForbidsMovement reports whether the player is in a state that
	// forbids movement (dead, stunned, etc.).
	ForbidsMovement(playerID domain.PlayerIDType) bool

	// CompareAndSetRoom atomically updates the player's recorded room
	// from expectedFrom to to, returning false if the player's recorded
	// room no longer equals expectedFrom (a concurrent modification).
	CompareAndSetRoom(playerID domain.PlayerIDType, expectedFrom, to domain.RoomIDType) bool
}

// Service is the movement service singleton.
type Service struct {
	rooms     *room.Registry
	directory PlayerDirectory
	logger    *zap.Logger

	locksMu     sync.Mutex
	playerLocks map[domain.PlayerIDType]*sync.Mutex
	roomLocks   map[domain.RoomIDType]*sync.Mutex
}

// New constructs a movement Service over a room registry and a player
// directory.
func New(rooms *room.Registry, directory PlayerDirectory, logger *zap.Logger) *Service {
	return &Service{
		rooms:       rooms,
		directory:   directory,
		logger:      logger,
		playerLocks: make(map[domain.PlayerIDType]*sync.Mutex),
		roomLocks:   make(map[domain.RoomIDType]*sync.Mutex),
	}
}

func (s *Service) lockFor(playerID domain.PlayerIDType) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.playerLocks[playerID]
	if !ok {
		l = &sync.Mutex{}
		s.playerLocks[playerID] = l
	}
	return l
}

func (s *Service) roomLockFor(roomID domain.RoomIDType) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.roomLocks[roomID] = l
	}
	return l
}

// lockRoomsCanonical acquires the movement-level locks for two rooms in
// lowest-room_id-first order (spec §4.5 step 3), returning an unlock
// function. If the two ids are equal, a single lock is acquired once.
func (s *Service) lockRoomsCanonical(a, b domain.RoomIDType) func() {
	if a == b {
		l := s.roomLockFor(a)
		l.Lock()
		return l.Unlock
	}

	first, second := a, b
	if second < first {
		first, second = second, first
	}
	lFirst := s.roomLockFor(first)
	lSecond := s.roomLockFor(second)
	lFirst.Lock()
	lSecond.Lock()
	return func() {
		lSecond.Unlock()
		lFirst.Unlock()
	}
}

// ValidateMovement checks whether a player could move to a destination
// room, without performing the move. Used by callers (e.g. a "look"
// command validating an exit) that want the error kind without mutating
// state.
func (s *Service) ValidateMovement(playerID domain.PlayerIDType, toRoomID domain.RoomIDType) error {
	if _, ok := s.directory.CurrentRoom(playerID); !ok {
		return domain.NewMovementError(domain.ErrKindPlayerNotFound, nil)
	}
	if _, ok := s.rooms.Get(toRoomID); !ok {
		return domain.NewMovementError(domain.ErrKindRoomNotFound, nil)
	}
	if s.directory.ForbidsMovement(playerID) {
		return domain.NewMovementError(domain.ErrKindStateForbidsMovement, nil)
	}
	return nil
}

// MovePlayer is the only path by which a player changes rooms. direction
// is optional; pass "" when the caller has already resolved toRoomID by
// other means (e.g. a teleport admin command) and has no direction to
// validate against the room's exit table.
func (s *Service) MovePlayer(ctx context.Context, playerID domain.PlayerIDType, fromRoomID, toRoomID domain.RoomIDType, direction domain.Direction) error {
	lock := s.lockFor(playerID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxConcurrentModificationRetries; attempt++ {
		err := s.attemptMove(ctx, playerID, fromRoomID, toRoomID, direction)
		if err == nil {
			metrics.MovementsTotal.WithLabelValues("ok").Inc()
			return nil
		}

		var mErr *domain.MovementError
		if errors.As(err, &mErr) && mErr.Kind == domain.ErrKindConcurrentModification && attempt < maxConcurrentModificationRetries {
			metrics.MovementRetriesTotal.Inc()
			lastErr = err
			continue
		}

		metrics.MovementsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return err
	}
	return lastErr
}

func outcomeLabel(err error) string {
	var mErr *domain.MovementError
	if errors.As(err, &mErr) {
		return string(mErr.Kind)
	}
	return "internal_error"
}

func (s *Service) attemptMove(ctx context.Context, playerID domain.PlayerIDType, fromRoomID, toRoomID domain.RoomIDType, direction domain.Direction) error {
	recordedFrom, ok := s.directory.CurrentRoom(playerID)
	if !ok {
		return domain.NewMovementError(domain.ErrKindPlayerNotFound, nil)
	}
	if recordedFrom != fromRoomID {
		return domain.NewMovementError(domain.ErrKindConcurrentModification, nil)
	}

	fromRoom, ok := s.rooms.Get(fromRoomID)
	if !ok {
		return domain.NewMovementError(domain.ErrKindRoomNotFound, nil)
	}
	toRoom, ok := s.rooms.Get(toRoomID)
	if !ok {
		return domain.NewMovementError(domain.ErrKindRoomNotFound, nil)
	}

	if direction != "" {
		exitTo, hasExit := fromRoom.ExitTo(direction)
		if !hasExit || exitTo != toRoomID {
			return domain.NewMovementError(domain.ErrKindInvalidExit, nil)
		}
	}

	if s.directory.ForbidsMovement(playerID) {
		return domain.NewMovementError(domain.ErrKindStateForbidsMovement, nil)
	}

	if fromRoomID == toRoomID {
		return nil
	}

	unlock := s.lockRoomsCanonical(fromRoomID, toRoomID)
	defer unlock()

	if !s.directory.CompareAndSetRoom(playerID, fromRoomID, toRoomID) {
		return domain.NewMovementError(domain.ErrKindConcurrentModification, nil)
	}

	fromRoom.PlayerLeft(ctx, playerID)
	toRoom.PlayerEntered(ctx, playerID)

	return nil
}
