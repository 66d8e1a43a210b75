package chat_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"flowchat/internal/auth"
	"flowchat/internal/chat"
	"flowchat/internal/mocks"
	"flowchat/internal/presence"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const room chat.RoomID = "6f1c2d1e-8d7b-4c52-9a7e-0c0ddc1f2a11"

var (
	alice = auth.Identity{UserID: 1, Name: "Alice Doe"}
	bob   = auth.Identity{UserID: 2, Name: "Bob Roe"}
)

type fixture struct {
	ctrl     *gomock.Controller
	verifier *mocks.MockTokenVerifier
	oracle   *mocks.MockMembershipOracle
	presence *mocks.MockStore
	registry *chat.Registry
	hub      *chat.Hub
}

func newFixture(t *testing.T, opts chat.HubOptions) *fixture {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := &fixture{
		ctrl:     ctrl,
		verifier: mocks.NewMockTokenVerifier(ctrl),
		oracle:   mocks.NewMockMembershipOracle(ctrl),
		presence: mocks.NewMockStore(ctrl),
		registry: chat.NewRegistry(log),
	}
	f.hub = chat.NewHub(log, f.registry, f.registry, f.verifier, f.oracle, f.presence, opts)
	return f
}

// admit lets token through as id, member of room.
func (f *fixture) admit(token string, id auth.Identity) {
	f.verifier.EXPECT().Verify(token).Return(id, nil)
	f.oracle.EXPECT().IsMember(gomock.Any(), id.UserID, room).Return(true, nil)
}

func (f *fixture) join(t *testing.T, token string) *chat.Session {
	t.Helper()
	s := f.hub.NewSession(room)
	require.NoError(t, s.Authorize(context.Background(), token))
	return s
}

// pending returns the frames queued for s without blocking.
func pending(s *chat.Session) []string {
	var out []string
	for {
		select {
		case b, ok := <-s.Outbound():
			if !ok {
				return out
			}
			out = append(out, string(b))
		default:
			return out
		}
	}
}

func isClosed(s *chat.Session) bool {
	for {
		select {
		case _, ok := <-s.Outbound():
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func TestSession_RejectedTokenLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "missing", err: auth.ErrMissingToken},
		{name: "invalid", err: auth.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t, chat.HubOptions{})
			// No oracle and no presence calls are expected.
			f.verifier.EXPECT().Verify(gomock.Any()).Return(auth.Identity{}, tt.err)

			s := f.hub.NewSession(room)
			err := s.Authorize(context.Background(), "whatever")
			req.ErrorIs(err, tt.err)
			req.Equal(chat.StateClosed, s.Context().State)
			req.Empty(f.registry.Members(room))
			req.True(isClosed(s))

			// A transport-level close afterwards is harmless.
			s.Close(context.Background())
		})
	}
}

func TestSession_NonMemberRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, chat.HubOptions{})
	f.verifier.EXPECT().Verify("tok").Return(alice, nil)
	f.oracle.EXPECT().IsMember(gomock.Any(), alice.UserID, room).Return(false, nil)

	s := f.hub.NewSession(room)
	req.ErrorIs(s.Authorize(context.Background(), "tok"), chat.ErrNotAMember)
	req.Equal(chat.StateClosed, s.Context().State)
	req.Empty(f.registry.Members(room))
}

func TestSession_MembershipStoreUnavailable(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, chat.HubOptions{})
	storeErr := errors.New("connection refused")
	f.verifier.EXPECT().Verify("tok").Return(alice, nil)
	f.oracle.EXPECT().IsMember(gomock.Any(), alice.UserID, room).Return(false, storeErr)

	s := f.hub.NewSession(room)
	req.ErrorIs(s.Authorize(context.Background(), "tok"), storeErr)
	req.Equal(chat.StateClosed, s.Context().State)
	req.Empty(f.registry.Members(room))
}

func TestSession_RoomScenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, chat.HubOptions{})

	f.admit("tok-a", alice)
	f.admit("tok-b", bob)
	gomock.InOrder(
		f.presence.EXPECT().MarkOnline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil),
		f.presence.EXPECT().MarkOnline(gomock.Any(), bob.UserID, gomock.Any()).Return(nil),
		f.presence.EXPECT().MarkOffline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil),
	)

	a := f.join(t, "tok-a")
	b := f.join(t, "tok-b")
	req.Len(f.registry.Members(room), 2)

	// Chat messages reach everyone, the sender included.
	a.HandleFrame(ctx, []byte(`{"type":"chat_message","message":"hi","firebase_message_id":"m1"}`))
	want := `{"type":"chat_message","message":"hi","firebase_message_id":"m1","sender_id":1,"sender_name":"Alice Doe","timestamp":null}`
	gotA, gotB := pending(a), pending(b)
	req.Len(gotA, 1)
	req.Len(gotB, 1)
	req.JSONEq(want, gotA[0])
	req.JSONEq(want, gotB[0])

	// Typing indicators are not echoed to their author.
	a.HandleFrame(ctx, []byte(`{"type":"typing","is_typing":true}`))
	req.Empty(pending(a))
	gotB = pending(b)
	req.Len(gotB, 1)
	req.JSONEq(`{"type":"typing_indicator","is_typing":true,"user_id":1,"user_name":"Alice Doe"}`, gotB[0])

	// Read receipts are echoed like chat messages.
	a.HandleFrame(ctx, []byte(`{"type":"read_receipt","firebase_message_id":"m1"}`))
	req.Len(pending(a), 1)
	req.Len(pending(b), 1)

	// Malformed input only answers the sender and keeps the session.
	a.HandleFrame(ctx, []byte(`not-json`))
	gotA = pending(a)
	req.Len(gotA, 1)
	req.JSONEq(`{"error":"Invalid JSON"}`, gotA[0])
	req.Empty(pending(b))
	req.Equal(chat.StateJoined, a.Context().State)

	// A disconnects: gone from the group, B keeps receiving.
	a.Close(ctx)
	req.True(isClosed(a))
	members := f.registry.Members(room)
	req.Len(members, 1)
	req.Equal(b.ID(), members[0].ID())

	b.HandleFrame(ctx, []byte(`{"message":"still here"}`))
	req.Len(pending(b), 1)
}

func TestSession_OnlineWritePrecedesBroadcast(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	verifier := mocks.NewMockTokenVerifier(ctrl)
	oracle := mocks.NewMockMembershipOracle(ctrl)
	store := mocks.NewMockStore(ctrl)
	bus := mocks.NewMockBus(ctrl)
	hub := chat.NewHub(log, chat.NewRegistry(log), bus, verifier, oracle, store, chat.HubOptions{})

	verifier.EXPECT().Verify("tok").Return(alice, nil)
	oracle.EXPECT().IsMember(gomock.Any(), alice.UserID, room).Return(true, nil)
	gomock.InOrder(
		store.EXPECT().MarkOnline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil).Times(1),
		bus.EXPECT().Publish(gomock.Any(), room, gomock.Any()).Return(nil).Times(2),
		store.EXPECT().MarkOffline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil).Times(1),
	)

	s := hub.NewSession(room)
	req.NoError(s.Authorize(context.Background(), "tok"))
	s.HandleFrame(context.Background(), []byte(`{"message":"one"}`))
	s.HandleFrame(context.Background(), []byte(`{"type":"typing","is_typing":false}`))
	s.Close(context.Background())
}

func TestSession_CloseRunsExactlyOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, chat.HubOptions{})
	f.admit("tok", alice)
	f.presence.EXPECT().MarkOnline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil)
	f.presence.EXPECT().MarkOffline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil).Times(1)

	s := f.join(t, "tok")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close(context.Background())
		}()
	}
	wg.Wait()

	req.Equal(chat.StateClosed, s.Context().State)
	req.Empty(f.registry.Members(room))
	req.ErrorIs(s.Deliver(chat.Event{Kind: chat.EventChatMessage}), chat.ErrSessionClosed)
}

func TestSession_PresenceFailuresDoNotBreakTheSession(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, chat.HubOptions{StoreTimeout: 50 * time.Millisecond})
	f.admit("tok", alice)
	f.presence.EXPECT().MarkOnline(gomock.Any(), alice.UserID, gomock.Any()).Return(errors.New("db down"))
	f.presence.EXPECT().MarkOffline(gomock.Any(), alice.UserID, gomock.Any()).Return(errors.New("db down"))

	s := f.join(t, "tok")
	req.Equal(chat.StateJoined, s.Context().State)

	s.HandleFrame(context.Background(), []byte(`{"message":"hi"}`))
	req.Len(pending(s), 1)

	s.Close(context.Background())
	req.Equal(chat.StateClosed, s.Context().State)
	req.Empty(f.registry.Members(room))
	req.True(isClosed(s))
}

func TestSession_SlowConsumerDoesNotBlock(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, chat.HubOptions{SendBufferSize: 1})
	f.admit("tok-a", alice)
	f.admit("tok-b", bob)
	f.presence.EXPECT().MarkOnline(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	a := f.join(t, "tok-a")
	b := f.join(t, "tok-b")

	evt := chat.Event{Kind: chat.EventChatMessage, RoomID: room, UserID: alice.UserID}
	req.NoError(b.Deliver(evt))
	req.ErrorIs(b.Deliver(evt), chat.ErrSlowConsumer)

	// A still gets its own echo although B's queue is full.
	a.HandleFrame(context.Background(), []byte(`{"message":"x"}`))
	req.Len(pending(a), 1)
	req.Len(pending(b), 1)
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, chat.HubOptions{})
	f.admit("tok-a", alice)
	f.admit("tok-b", bob)
	f.presence.EXPECT().MarkOnline(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	f.presence.EXPECT().MarkOffline(gomock.Any(), alice.UserID, gomock.Any()).Return(nil)
	f.presence.EXPECT().MarkOffline(gomock.Any(), bob.UserID, gomock.Any()).Return(nil)

	a := f.join(t, "tok-a")
	b := f.join(t, "tok-b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(f.hub.Shutdown(ctx))

	req.True(isClosed(a))
	req.True(isClosed(b))
	req.Zero(f.registry.Rooms())

	// New connections are refused once shutdown started.
	f.admit("tok-c", alice)
	late := f.hub.NewSession(room)
	req.ErrorIs(late.Authorize(context.Background(), "tok-c"), chat.ErrRegistryClosed)
	req.True(isClosed(late))
}

func TestSession_WithMemoryPresence(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	verifier := mocks.NewMockTokenVerifier(ctrl)
	oracle := mocks.NewMockMembershipOracle(ctrl)
	store := presence.NewMemoryStore()
	registry := chat.NewRegistry(log)
	hub := chat.NewHub(log, registry, registry, verifier, oracle, store, chat.HubOptions{})

	verifier.EXPECT().Verify("tok").Return(alice, nil)
	oracle.EXPECT().IsMember(gomock.Any(), alice.UserID, room).Return(true, nil)

	s := hub.NewSession(room)
	req.NoError(s.Authorize(context.Background(), "tok"))
	e, err := store.Get(context.Background(), alice.UserID)
	req.NoError(err)
	req.True(e.IsOnline)

	before := time.Now()
	s.Close(context.Background())
	e, err = store.Get(context.Background(), alice.UserID)
	req.NoError(err)
	req.False(e.IsOnline)
	req.False(e.LastSeen.Before(before))
}

// recordingStore logs the order in which presence writes complete.
type recordingStore struct {
	*presence.MemoryStore
	mu       sync.Mutex
	done     []string
	onOnline func()
}

func (r *recordingStore) MarkOnline(ctx context.Context, userID int64, at time.Time) error {
	if r.onOnline != nil {
		r.onOnline()
	}
	err := r.MemoryStore.MarkOnline(ctx, userID, at)
	r.record("online")
	return err
}

func (r *recordingStore) MarkOffline(ctx context.Context, userID int64, at time.Time) error {
	err := r.MemoryStore.MarkOffline(ctx, userID, at)
	r.record("offline")
	return err
}

func (r *recordingStore) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, s)
}

func (r *recordingStore) writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.done...)
}

func TestSession_CloseDuringOnlineWriteEndsOffline(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	verifier := mocks.NewMockTokenVerifier(ctrl)
	oracle := mocks.NewMockMembershipOracle(ctrl)
	store := &recordingStore{MemoryStore: presence.NewMemoryStore()}
	registry := chat.NewRegistry(log)
	hub := chat.NewHub(log, registry, registry, verifier, oracle, store, chat.HubOptions{})

	verifier.EXPECT().Verify("tok").Return(alice, nil)
	oracle.EXPECT().IsMember(gomock.Any(), alice.UserID, room).Return(true, nil)

	s := hub.NewSession(room)
	closed := make(chan struct{})
	store.onOnline = func() {
		// Shutdown closes the session while its online write is in flight.
		go func() {
			defer close(closed)
			s.Close(context.Background())
		}()
		require.Eventually(t, func() bool { return s.Context().State == chat.StateClosed },
			time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
	}

	req.NoError(s.Authorize(context.Background(), "tok"))
	<-closed

	req.Equal([]string{"online", "offline"}, store.writes())
	e, err := store.Get(context.Background(), alice.UserID)
	req.NoError(err)
	req.False(e.IsOnline)
	req.Empty(registry.Members(room))
}

func TestSession_ClosedWhileAuthorizingNeverJoins(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	verifier := mocks.NewMockTokenVerifier(ctrl)
	oracle := mocks.NewMockMembershipOracle(ctrl)
	store := mocks.NewMockStore(ctrl)
	registry := chat.NewRegistry(log)
	hub := chat.NewHub(log, registry, registry, verifier, oracle, store, chat.HubOptions{})

	s := hub.NewSession(room)
	verifier.EXPECT().Verify("tok").Return(alice, nil)
	// The transport drops while membership is being checked.
	oracle.EXPECT().IsMember(gomock.Any(), alice.UserID, room).DoAndReturn(
		func(context.Context, int64, chat.RoomID) (bool, error) {
			s.Close(context.Background())
			return true, nil
		})

	req.ErrorIs(s.Authorize(context.Background(), "tok"), chat.ErrInvalidTransition)
	req.Equal(chat.StateClosed, s.Context().State)
	req.Empty(registry.Members(room))
}
