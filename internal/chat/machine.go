package chat

import (
	"errors"
	"fmt"
	"log/slog"

	"flowchat/internal/auth"
)

// State of one connection session. Sessions only move forward:
// Connecting → Authorizing → Joined → Closed, or Authorizing → Closed.
type State int

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionContext is everything a transition may look at. User is set once,
// on the Authorized input.
type SessionContext struct {
	SessionID string
	RoomID    RoomID
	User      auth.Identity
	State     State
}

func (sc SessionContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session_id", sc.SessionID),
		slog.String("room_id", string(sc.RoomID)),
		slog.Int64("user_id", sc.User.UserID),
		slog.String("state", sc.State.String()),
	)
}

// Input drives a transition.
type Input interface {
	input()
}

type (
	// Begin starts authorization of a fresh connection.
	Begin struct{}
	// Authorized reports that both the token and the membership checked out.
	Authorized struct{ User auth.Identity }
	// Rejected reports a failed token, membership or store lookup.
	Rejected struct{ Reason error }
	// FrameReceived carries one raw frame read from the client.
	FrameReceived struct{ Data []byte }
	// EventDelivered carries one event fanned out to this session's group.
	EventDelivered struct{ Event Event }
	// Disconnected is raised by every exit path of the transport.
	Disconnected struct{}
)

func (Begin) input()          {}
func (Authorized) input()     {}
func (Rejected) input()       {}
func (FrameReceived) input()  {}
func (EventDelivered) input() {}
func (Disconnected) input()   {}

// Effect is a side effect the session runner must perform, in order.
type Effect interface {
	effect()
}

type (
	JoinGroup   struct{}
	LeaveGroup  struct{}
	MarkOnline  struct{}
	MarkOffline struct{}
	// Publish hands an event to the room's bus.
	Publish struct{ Event Event }
	// Send queues a frame on this session's own transport.
	Send struct{ Frame any }
	// CloseTransport releases the outbound queue, which ends the connection.
	CloseTransport struct{}
)

func (JoinGroup) effect()      {}
func (LeaveGroup) effect()     {}
func (MarkOnline) effect()     {}
func (MarkOffline) effect()    {}
func (Publish) effect()        {}
func (Send) effect()           {}
func (CloseTransport) effect() {}

// Transition is the session state machine. It performs no I/O: it returns
// the next context and the effects to run. Inputs that do not apply to the
// current state return ErrInvalidTransition and leave sc unchanged.
// Disconnected on a closed session is a no-op, which makes cleanup run
// exactly once.
func Transition(sc SessionContext, in Input) (SessionContext, []Effect, error) {
	switch in := in.(type) {
	case Begin:
		if sc.State != StateConnecting {
			return sc, nil, invalid(sc, in)
		}
		sc.State = StateAuthorizing
		return sc, nil, nil

	case Authorized:
		if sc.State != StateAuthorizing {
			return sc, nil, invalid(sc, in)
		}
		sc.User = in.User
		sc.State = StateJoined
		return sc, []Effect{JoinGroup{}, MarkOnline{}}, nil

	case Rejected:
		if sc.State != StateAuthorizing {
			return sc, nil, invalid(sc, in)
		}
		sc.State = StateClosed
		return sc, []Effect{LeaveGroup{}, CloseTransport{}}, nil

	case FrameReceived:
		if sc.State != StateJoined {
			return sc, nil, invalid(sc, in)
		}
		f, err := DecodeFrame(in.Data)
		switch {
		case errors.Is(err, ErrUnknownFrameType):
			return sc, nil, nil
		case err != nil:
			return sc, []Effect{Send{Frame: ErrorFrame{Error: invalidJSON}}}, nil
		}
		return sc, []Effect{Publish{Event: NewEvent(sc.RoomID, sc.User, f)}}, nil

	case EventDelivered:
		if sc.State != StateJoined {
			return sc, nil, invalid(sc, in)
		}
		// Typing indicators are not echoed to their author. Chat messages
		// and read receipts are.
		if in.Event.Kind == EventTyping && in.Event.UserID == sc.User.UserID {
			return sc, nil, nil
		}
		out, err := in.Event.Outbound()
		if err != nil {
			return sc, nil, err
		}
		return sc, []Effect{Send{Frame: out}}, nil

	case Disconnected:
		switch sc.State {
		case StateAuthorizing:
			sc.State = StateClosed
			return sc, []Effect{LeaveGroup{}, CloseTransport{}}, nil
		case StateJoined:
			sc.State = StateClosed
			return sc, []Effect{LeaveGroup{}, MarkOffline{}, CloseTransport{}}, nil
		case StateClosed:
			return sc, nil, nil
		}
		return sc, nil, invalid(sc, in)
	}

	return sc, nil, fmt.Errorf("%w: unknown input %T", ErrInvalidTransition, in)
}

func invalid(sc SessionContext, in Input) error {
	return fmt.Errorf("%w: %T in state %s", ErrInvalidTransition, in, sc.State)
}
