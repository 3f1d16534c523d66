// Package chatlog buffers per-session conversation logs in Redis and
// archives them to the object store in compressed batches. A batch is
// flushed when the buffer crosses its size threshold or when the
// periodic sweeper finds it lingering; buffered entries are removed
// only after the archive write is acknowledged.
package chatlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anhdng/ielts-pipeline/internal/config"
)

// listStore is the session-list storage the buffer, flusher and sweeper
// run against.
type listStore interface {
	// Append pushes one encoded entry onto the session's list and
	// returns the list's new length.
	Append(ctx context.Context, session, value string) (int64, error)

	// Refresh resets the session's expiry window.
	Refresh(ctx context.Context, session string, ttl time.Duration) error

	// Entries returns every buffered entry for the session in order.
	Entries(ctx context.Context, session string) ([]string, error)

	// TrimFront drops the first n entries, keeping anything appended
	// after they were read.
	TrimFront(ctx context.Context, session string, n int64) error

	// Delete removes the session's list entirely.
	Delete(ctx context.Context, session string) error

	// Sessions returns the ids of every session with a buffer.
	Sessions(ctx context.Context) ([]string, error)

	// Length returns the session's current buffer length.
	Length(ctx context.Context, session string) (int64, error)
}

// RedisStore implements listStore over a Redis list per session.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
			DB:   cfg.DB,
		}),
		prefix: cfg.KeyPrefix,
	}
}

func (s *RedisStore) key(session string) string {
	return s.prefix + session
}

// Append pushes one entry and returns the new list length.
func (s *RedisStore) Append(ctx context.Context, session, value string) (int64, error) {
	length, err := s.client.RPush(ctx, s.key(session), value).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append chat log entry: %w", err)
	}
	return length, nil
}

// Refresh resets the session buffer's TTL.
func (s *RedisStore) Refresh(ctx context.Context, session string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(session), ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh chat log expiry: %w", err)
	}
	return nil
}

// Entries reads the whole buffered list.
func (s *RedisStore) Entries(ctx context.Context, session string) ([]string, error) {
	entries, err := s.client.LRange(ctx, s.key(session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat log entries: %w", err)
	}
	return entries, nil
}

// TrimFront drops the first n entries from the list.
func (s *RedisStore) TrimFront(ctx context.Context, session string, n int64) error {
	if err := s.client.LTrim(ctx, s.key(session), n, -1).Err(); err != nil {
		return fmt.Errorf("failed to trim chat log entries: %w", err)
	}
	return nil
}

// Delete removes the session's buffer.
func (s *RedisStore) Delete(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, s.key(session)).Err(); err != nil {
		return fmt.Errorf("failed to delete chat log buffer: %w", err)
	}
	return nil
}

// Sessions scans for every buffered session id.
func (s *RedisStore) Sessions(ctx context.Context) ([]string, error) {
	var sessions []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		sessions = append(sessions, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan chat log sessions: %w", err)
	}
	return sessions, nil
}

// Length returns the session buffer's length.
func (s *RedisStore) Length(ctx context.Context, session string) (int64, error) {
	length, err := s.client.LLen(ctx, s.key(session)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read chat log length: %w", err)
	}
	return length, nil
}

// Close tears down the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
