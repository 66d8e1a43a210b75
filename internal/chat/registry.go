package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Member is a live handle registered in a room group.
type Member interface {
	ID() string
	// Deliver must not block: a member that cannot take the event right
	// away reports an error instead.
	Deliver(evt Event) error
	Close(ctx context.Context)
}

// Registry maps each room to the set of members currently connected to it.
// Mutations take the write lock; broadcasts only hold the read lock long
// enough to snapshot the member set, and deliver outside of it.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[RoomID]map[string]Member
	closing  bool
	inflight sync.WaitGroup
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		rooms: make(map[RoomID]map[string]Member),
		log:   log,
	}
}

// Join adds m to the room's group, creating the group on first use.
// Joining twice is a no-op.
func (r *Registry) Join(roomID RoomID, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return ErrRegistryClosed
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Member)
		r.rooms[roomID] = members
	}
	members[m.ID()] = m
	return nil
}

// Leave removes m from the room's group. Leaving a room one is not in is a
// no-op; the last member to leave reclaims the group.
func (r *Registry) Leave(roomID RoomID, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, m.ID())
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Members returns a snapshot of the room's group.
func (r *Registry) Members(roomID RoomID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[roomID])
}

// Rooms returns the number of rooms with at least one member.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Broadcast delivers evt to every member of the room except exclude, when
// given. A failing member is logged and skipped. It returns how many
// members accepted the event.
func (r *Registry) Broadcast(roomID RoomID, evt Event, exclude Member) (int, error) {
	r.mu.RLock()
	if r.closing {
		r.mu.RUnlock()
		return 0, ErrRegistryClosed
	}
	targets := lo.Filter(lo.Values(r.rooms[roomID]), func(m Member, _ int) bool {
		return exclude == nil || m.ID() != exclude.ID()
	})
	r.inflight.Add(1)
	r.mu.RUnlock()
	defer r.inflight.Done()

	delivered := 0
	for _, m := range targets {
		if err := m.Deliver(evt); err != nil {
			r.log.Warn("Delivery failed",
				"room_id", roomID, "session_id", m.ID(), "kind", evt.Kind, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Publish makes the registry usable as a single-instance Bus.
func (r *Registry) Publish(_ context.Context, roomID RoomID, evt Event) error {
	_, err := r.Broadcast(roomID, evt, nil)
	return err
}

// Drain stops accepting joins and broadcasts, then waits for in-flight
// broadcasts until ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All returns every registered member across rooms.
func (r *Registry) All() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FlatMap(lo.Values(r.rooms), func(members map[string]Member, _ int) []Member {
		return lo.Values(members)
	})
}
