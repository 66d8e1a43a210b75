package chat

import (
	"context"
	"log/slog"
	"time"

	"flowchat/internal/presence"

	"github.com/google/uuid"
)

// Hub is the process-wide service shared by every connection session. It is
// created at startup, hands out sessions, and is shut down once after the
// HTTP server stopped accepting connections.
type Hub struct {
	registry     *Registry
	bus          Bus
	verifier     TokenVerifier
	oracle       MembershipOracle
	presence     presence.Store
	log          *slog.Logger
	sendBuffer   int
	storeTimeout time.Duration
	now          func() time.Time
}

type HubOptions struct {
	SendBufferSize int
	StoreTimeout   time.Duration
}

func NewHub(
	log *slog.Logger,
	registry *Registry,
	bus Bus,
	verifier TokenVerifier,
	oracle MembershipOracle,
	presenceStore presence.Store,
	opts HubOptions,
) *Hub {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Hub{
		registry:     registry,
		bus:          bus,
		verifier:     verifier,
		oracle:       oracle,
		presence:     presenceStore,
		log:          log,
		sendBuffer:   opts.SendBufferSize,
		storeTimeout: opts.StoreTimeout,
		now:          time.Now,
	}
}

// NewSession creates a session in the Connecting state for roomID.
func (h *Hub) NewSession(roomID RoomID) *Session {
	id := uuid.NewString()
	return &Session{
		hub:  h,
		id:   id,
		sc:   SessionContext{SessionID: id, RoomID: roomID, State: StateConnecting},
		send: make(chan []byte, h.sendBuffer),
	}
}

// Shutdown stops new broadcasts, gives in-flight ones until ctx is done to
// finish, then closes every remaining session through its normal cleanup.
func (h *Hub) Shutdown(ctx context.Context) error {
	err := h.registry.Drain(ctx)
	if err != nil {
		h.log.Warn("Grace period elapsed with broadcasts in flight", "error", err)
	}

	members := h.registry.All()
	cleanupCtx := context.WithoutCancel(ctx)
	for _, m := range members {
		m.Close(cleanupCtx)
	}
	h.log.Info("Hub stopped", "sessions_closed", len(members))
	return err
}
