package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomID is the canonical, lower-case form of a chat room's UUID. Groups,
// Redis channels and queries are all keyed on it.
type RoomID string

// ParseRoomID accepts any UUID spelling and returns its canonical form.
func ParseRoomID(s string) (RoomID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, s)
	}
	return RoomID(id.String()), nil
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// MessageMetadata mirrors a message whose body lives in the external
// realtime store. Only the pointer and its bookkeeping are kept here.
type MessageMetadata struct {
	ID                string      `json:"id"`
	FirebaseMessageID string      `json:"firebase_message_id"`
	RoomID            RoomID      `json:"room"`
	SenderID          int64       `json:"sender"`
	MessageType       MessageType `json:"message_type"`
	CreatedAt         time.Time   `json:"created_at"`
}

type CreateMetadataRequest struct {
	FirebaseMessageID string      `json:"firebase_message_id"`
	MessageType       MessageType `json:"message_type"`
}

// Event is what travels through a room group: one inbound frame stamped
// with its sender and room. It is also the Redis relay payload.
type Event struct {
	Kind              EventKind       `json:"kind"`
	RoomID            RoomID          `json:"room_id"`
	UserID            int64           `json:"user_id"`
	UserName          string          `json:"user_name"`
	Message           string          `json:"message,omitempty"`
	FirebaseMessageID string          `json:"firebase_message_id,omitempty"`
	IsTyping          bool            `json:"is_typing,omitempty"`
	Timestamp         json.RawMessage `json:"timestamp,omitempty"`
}

type EventKind string

const (
	EventChatMessage EventKind = "chat_message"
	EventTyping      EventKind = "typing_indicator"
	EventReadReceipt EventKind = "read_receipt"
)
