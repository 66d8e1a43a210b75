package chat

import (
	"context"
	"database/sql"
	"time"

	"flowchat/internal/db"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// IsMember reports whether the user has a membership row for the room. A
// room id that is not a UUID cannot have members.
func (r *Repository) IsMember(ctx context.Context, userID int64, roomID RoomID) (bool, error) {
	id, err := uuid.Parse(string(roomID))
	if err != nil {
		return false, nil
	}

	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM chat_room_members WHERE room_id = $1 AND user_id = $2)"
	if err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Repository) SaveMessageMetadata(ctx context.Context, m *MessageMetadata) error {
	m.ID = uuid.NewString()
	query := `INSERT INTO message_metadata (id, firebase_message_id, room_id, sender_id, message_type)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, m.ID, m.FirebaseMessageID, string(m.RoomID), m.SenderID, string(m.MessageType)).
		Scan(&m.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	return err
}

// MarkRead moves the member's read marker. It reports false when there is
// no membership to update.
func (r *Repository) MarkRead(ctx context.Context, userID int64, roomID RoomID, at time.Time) (bool, error) {
	query := "UPDATE chat_room_members SET last_read_at = $3 WHERE room_id = $1 AND user_id = $2"
	res, err := r.db.ExecContext(ctx, query, string(roomID), userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LeaveRoom deletes the membership row. It reports false when there was
// none.
func (r *Repository) LeaveRoom(ctx context.Context, userID int64, roomID RoomID) (bool, error) {
	query := "DELETE FROM chat_room_members WHERE room_id = $1 AND user_id = $2"
	res, err := r.db.ExecContext(ctx, query, string(roomID), userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
