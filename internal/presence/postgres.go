package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore writes presence onto the users row, next to the account it
// describes.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) MarkOnline(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET is_online = TRUE, presence_updated_at = $2
		WHERE id = $1 AND presence_updated_at <= $2`
	if _, err := s.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("presence: mark online: %w", err)
	}
	return nil
}

func (s *SQLStore) MarkOffline(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET is_online = FALSE, presence_updated_at = $2,
		last_seen = GREATEST(last_seen, $2)
		WHERE id = $1 AND presence_updated_at <= $2`
	if _, err := s.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("presence: mark offline: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, userID int64) (Entry, error) {
	e := Entry{UserID: userID}
	query := "SELECT is_online, last_seen, presence_updated_at FROM users WHERE id = $1"

	err := s.db.QueryRowContext(ctx, query, userID).Scan(&e.IsOnline, &e.LastSeen, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}
