//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_presence_store.go -package=mocks

// Package presence keeps the best-effort online/last-seen flag per user.
//
// Writes are last-writer-wins by timestamp: an update carrying an older
// timestamp than the stored one is dropped. No backend coordinates writes
// beyond that.
package presence

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("presence: no entry for user")

type Entry struct {
	UserID   int64     `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
	// UpdatedAt is the timestamp of the write that produced this entry.
	UpdatedAt time.Time `json:"-"`
}

type Store interface {
	// MarkOnline flags the user online. last_seen is left untouched.
	MarkOnline(ctx context.Context, userID int64, at time.Time) error
	// MarkOffline flags the user offline and moves last_seen forward to at.
	MarkOffline(ctx context.Context, userID int64, at time.Time) error
	Get(ctx context.Context, userID int64) (Entry, error)
}

// apply folds one write into an entry. It reports false when the write is
// older than what the entry already reflects.
func apply(e Entry, online bool, at time.Time) (Entry, bool) {
	if at.Before(e.UpdatedAt) {
		return e, false
	}
	e.IsOnline = online
	e.UpdatedAt = at
	if !online && at.After(e.LastSeen) {
		e.LastSeen = at
	}
	return e, true
}
