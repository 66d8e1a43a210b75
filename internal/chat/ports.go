//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_chat_ports.go -package=mocks

package chat

import (
	"context"

	"flowchat/internal/auth"
)

// TokenVerifier turns a bearer token into an identity without any I/O.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// MembershipOracle answers whether a user may join a room. A missing
// membership is (false, nil); errors mean the store could not answer.
type MembershipOracle interface {
	IsMember(ctx context.Context, userID int64, roomID RoomID) (bool, error)
}

// Bus carries events to every session of a room, possibly across
// server instances.
type Bus interface {
	Publish(ctx context.Context, roomID RoomID, evt Event) error
}
