package chat

import "errors"

var (
	ErrNotAMember        = errors.New("chat: user is not a member of the room")
	ErrMalformedFrame    = errors.New("chat: malformed frame")
	ErrUnknownFrameType  = errors.New("chat: unknown frame type")
	ErrSlowConsumer      = errors.New("chat: send buffer full")
	ErrSessionClosed     = errors.New("chat: session closed")
	ErrInvalidTransition = errors.New("chat: invalid session transition")
	ErrRegistryClosed    = errors.New("chat: registry is shutting down")
	ErrInvalidRoomID     = errors.New("chat: room id is not a UUID")
	ErrDuplicateMessage  = errors.New("chat: message metadata already recorded")
)
