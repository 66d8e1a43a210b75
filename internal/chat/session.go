package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"flowchat/internal/auth"
)

// Session is one client connection. All of its state changes go through
// Transition; Session only runs the effects it returns.
type Session struct {
	hub *Hub
	id  string

	mu     sync.Mutex
	sc     SessionContext
	send   chan []byte
	closed bool

	// presenceMu orders this session's presence writes, so an offline write
	// never lands before the online write it follows.
	presenceMu sync.Mutex
}

func (s *Session) ID() string { return s.id }

// Context returns a snapshot of the session context.
func (s *Session) Context() SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sc
}

// Outbound is the queue of encoded frames for the transport. It is closed
// when the session closes.
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) step(in Input) ([]Effect, SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, effects, err := Transition(s.sc, in)
	if err != nil {
		return nil, s.sc, err
	}
	s.sc = next
	return effects, next, nil
}

// Authorize verifies the token, then the room membership. On success the
// session has joined its room group and the user is marked online; on
// failure the session is closed and nothing was registered.
func (s *Session) Authorize(ctx context.Context, token string) error {
	_, sc, err := s.step(Begin{})
	if err != nil {
		return err
	}

	id, err := s.hub.verifier.Verify(token)
	if err != nil {
		return s.reject(ctx, err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.hub.storeTimeout)
	defer cancel()
	ok, err := s.hub.oracle.IsMember(lookupCtx, id.UserID, sc.RoomID)
	if err != nil {
		return s.reject(ctx, fmt.Errorf("membership lookup: %w", err))
	}
	if !ok {
		return s.reject(ctx, ErrNotAMember)
	}

	effects, sc, err := s.step(Authorized{User: id})
	if err != nil {
		return err
	}
	if err := s.run(ctx, sc, effects); err != nil {
		// The registry refused the join because it is shutting down.
		// Nothing was registered or written, so only the transport goes.
		s.abort()
		return err
	}
	s.hub.log.Debug("Session joined", "session", sc)
	return nil
}

func (s *Session) reject(ctx context.Context, reason error) error {
	effects, sc, err := s.step(Rejected{Reason: reason})
	if err != nil {
		return errors.Join(reason, err)
	}
	_ = s.run(ctx, sc, effects)
	s.hub.log.Debug("Session rejected", "session", sc, "reason", reason)
	return reason
}

// HandleFrame processes one frame read from the client. Frames of one
// session are handled in the order they are read.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	effects, sc, err := s.step(FrameReceived{Data: data})
	if err != nil {
		s.hub.log.Debug("Frame ignored", "session", sc, "error", err)
		return
	}
	if err := s.run(ctx, sc, effects); err != nil {
		s.hub.log.Warn("Frame not relayed", "session", sc, "error", err)
	}
}

// Deliver is called by the registry for every event of the session's room.
func (s *Session) Deliver(evt Event) error {
	effects, sc, err := s.step(EventDelivered{Event: evt})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrSessionClosed
		}
		return err
	}
	return s.run(context.Background(), sc, effects)
}

// Close tears the session down. It is safe to call from any number of exit
// paths concurrently; only the first call has an effect.
func (s *Session) Close(ctx context.Context) {
	if s.Context().State == StateConnecting {
		_, _, _ = s.step(Begin{})
	}
	effects, sc, err := s.step(Disconnected{})
	if err != nil {
		s.hub.log.Error("Session close failed", "session", sc, "error", err)
		return
	}
	if len(effects) == 0 {
		return
	}
	_ = s.run(context.WithoutCancel(ctx), sc, effects)
	s.hub.log.Debug("Session closed", "session", sc)
}

func (s *Session) run(ctx context.Context, sc SessionContext, effects []Effect) error {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case JoinGroup:
			if err := s.hub.registry.Join(sc.RoomID, s); err != nil {
				return err
			}
			// A concurrent Close may already have run its LeaveGroup.
			if s.Context().State != StateJoined {
				s.hub.registry.Leave(sc.RoomID, s)
			}
		case LeaveGroup:
			s.hub.registry.Leave(sc.RoomID, s)
		case MarkOnline:
			s.writePresence(ctx, sc, true)
		case MarkOffline:
			s.writePresence(ctx, sc, false)
		case Publish:
			if err := s.hub.bus.Publish(ctx, sc.RoomID, eff.Event); err != nil {
				return err
			}
		case Send:
			if err := s.enqueue(eff.Frame); err != nil {
				return err
			}
		case CloseTransport:
			s.mu.Lock()
			if !s.closed {
				s.closed = true
				close(s.send)
			}
			s.mu.Unlock()
		default:
			panic(fmt.Sprintf("chat: unhandled effect %T", eff))
		}
	}
	return nil
}

// writePresence is best effort: a store failure is logged and the session
// carries on.
func (s *Session) writePresence(ctx context.Context, sc SessionContext, online bool) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	// Skip the online write of a session closed in the meantime.
	if online && s.Context().State != StateJoined {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.hub.storeTimeout)
	defer cancel()

	at := s.hub.now()
	var err error
	if online {
		err = s.hub.presence.MarkOnline(ctx, sc.User.UserID, at)
	} else {
		err = s.hub.presence.MarkOffline(ctx, sc.User.UserID, at)
	}
	if err != nil {
		s.hub.log.Warn("Presence write skipped", "session", sc, "online", online, "error", err)
	}
}

func (s *Session) enqueue(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sc.State = StateClosed
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Identity returns the authenticated user, zero until the session joined.
func (s *Session) Identity() auth.Identity {
	return s.Context().User
}
