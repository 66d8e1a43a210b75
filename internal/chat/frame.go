package chat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"flowchat/internal/auth"
)

const invalidJSON = "Invalid JSON"

// Frame is one decoded inbound client frame: ChatMessage, Typing or
// ReadReceipt. The set is closed; NewEvent switches over all of them.
type Frame interface {
	frame()
}

type ChatMessage struct {
	Message           string
	FirebaseMessageID string
	// Timestamp is the client's own value, relayed verbatim.
	Timestamp json.RawMessage
}

type Typing struct {
	IsTyping bool
}

type ReadReceipt struct {
	FirebaseMessageID string
}

func (ChatMessage) frame() {}
func (Typing) frame()      {}
func (ReadReceipt) frame() {}

type inboundFrame struct {
	Type              *string         `json:"type"`
	Message           string          `json:"message"`
	FirebaseMessageID string          `json:"firebase_message_id"`
	IsTyping          bool            `json:"is_typing"`
	Timestamp         json.RawMessage `json:"timestamp"`
}

// DecodeFrame parses a client frame. A frame without a type is a chat
// message. Anything that is not a JSON object with the expected field types
// yields ErrMalformedFrame; a well-formed frame of an unsupported type
// yields ErrUnknownFrameType.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedFrame
	}

	var in inboundFrame
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	kind := string(EventChatMessage)
	if in.Type != nil {
		kind = *in.Type
	}

	switch kind {
	case "chat_message":
		return ChatMessage{
			Message:           in.Message,
			FirebaseMessageID: in.FirebaseMessageID,
			Timestamp:         in.Timestamp,
		}, nil
	case "typing":
		return Typing{IsTyping: in.IsTyping}, nil
	case "read_receipt":
		return ReadReceipt{FirebaseMessageID: in.FirebaseMessageID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, kind)
	}
}

// NewEvent stamps a frame with its sender and room.
func NewEvent(roomID RoomID, sender auth.Identity, f Frame) Event {
	evt := Event{RoomID: roomID, UserID: sender.UserID, UserName: sender.Name}

	switch f := f.(type) {
	case ChatMessage:
		evt.Kind = EventChatMessage
		evt.Message = f.Message
		evt.FirebaseMessageID = f.FirebaseMessageID
		evt.Timestamp = f.Timestamp
	case Typing:
		evt.Kind = EventTyping
		evt.IsTyping = f.IsTyping
	case ReadReceipt:
		evt.Kind = EventReadReceipt
		evt.FirebaseMessageID = f.FirebaseMessageID
	default:
		panic(fmt.Sprintf("chat: unhandled frame %T", f))
	}
	return evt
}

type ChatMessageFrame struct {
	Type              EventKind       `json:"type"`
	Message           string          `json:"message"`
	FirebaseMessageID string          `json:"firebase_message_id"`
	SenderID          int64           `json:"sender_id"`
	SenderName        string          `json:"sender_name"`
	Timestamp         json.RawMessage `json:"timestamp"`
}

type TypingFrame struct {
	Type     EventKind `json:"type"`
	IsTyping bool      `json:"is_typing"`
	UserID   int64     `json:"user_id"`
	UserName string    `json:"user_name"`
}

type ReadReceiptFrame struct {
	Type              EventKind `json:"type"`
	FirebaseMessageID string    `json:"firebase_message_id"`
	UserID            int64     `json:"user_id"`
	UserName          string    `json:"user_name"`
}

type ErrorFrame struct {
	Error string `json:"error"`
}

// Outbound renders the frame a client receives for evt.
func (evt Event) Outbound() (any, error) {
	switch evt.Kind {
	case EventChatMessage:
		ts := evt.Timestamp
		if len(ts) == 0 {
			ts = json.RawMessage("null")
		}
		return ChatMessageFrame{
			Type:              EventChatMessage,
			Message:           evt.Message,
			FirebaseMessageID: evt.FirebaseMessageID,
			SenderID:          evt.UserID,
			SenderName:        evt.UserName,
			Timestamp:         ts,
		}, nil
	case EventTyping:
		return TypingFrame{
			Type:     EventTyping,
			IsTyping: evt.IsTyping,
			UserID:   evt.UserID,
			UserName: evt.UserName,
		}, nil
	case EventReadReceipt:
		return ReadReceiptFrame{
			Type:              EventReadReceipt,
			FirebaseMessageID: evt.FirebaseMessageID,
			UserID:            evt.UserID,
			UserName:          evt.UserName,
		}, nil
	}
	return nil, fmt.Errorf("chat: unknown event kind %q", evt.Kind)
}
