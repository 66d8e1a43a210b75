package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// lwwScript applies a presence write only if its timestamp (unix nanos) is
// not older than the one stored. last_seen only moves on offline writes and
// never backwards.
var lwwScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')
local at = tonumber(ARGV[2])
if at < cur then
  return 0
end
redis.call('HSET', KEYS[1], 'online', ARGV[1], 'updated_at', ARGV[2])
if ARGV[1] == '0' then
  local seen = tonumber(redis.call('HGET', KEYS[1], 'last_seen') or '0')
  if at > seen then
    redis.call('HSET', KEYS[1], 'last_seen', ARGV[2])
  end
end
return 1
`)

// RedisStore shares presence between server instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "presence:"}
}

func (r *RedisStore) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

func (r *RedisStore) MarkOnline(ctx context.Context, userID int64, at time.Time) error {
	return r.write(ctx, userID, "1", at)
}

func (r *RedisStore) MarkOffline(ctx context.Context, userID int64, at time.Time) error {
	return r.write(ctx, userID, "0", at)
}

func (r *RedisStore) write(ctx context.Context, userID int64, online string, at time.Time) error {
	err := lwwScript.Run(ctx, r.client, []string{r.key(userID)}, online, at.UnixNano()).Err()
	if err != nil {
		return fmt.Errorf("presence: redis write: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (Entry, error) {
	vals, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("presence: redis read: %w", err)
	}
	if len(vals) == 0 {
		return Entry{}, ErrNotFound
	}

	e := Entry{UserID: userID, IsOnline: vals["online"] == "1"}
	if e.UpdatedAt, err = parseNanos(vals["updated_at"]); err != nil {
		return Entry{}, err
	}
	if e.LastSeen, err = parseNanos(vals["last_seen"]); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func parseNanos(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.Join(errors.New("presence: corrupt timestamp"), err)
	}
	return time.Unix(0, n).UTC(), nil
}
