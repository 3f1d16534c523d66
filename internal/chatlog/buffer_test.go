package chatlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

func entry(msg string) domain.ChatLogEntry {
	return domain.ChatLogEntry{
		Timestamp: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		Actor:     "user",
		Message:   msg,
	}
}

func TestAppend_DispatchesExactlyOnceAtThreshold(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	pub := &fakePublisher{}
	buf := NewBuffer(store, pub, 3, time.Hour)

	for i := 0; i < 2; i++ {
		require.NoError(t, buf.Append(context.Background(), "s1", entry("m")))
	}
	assert.Zero(t, pub.count(task.QueueLogging), "below threshold must not dispatch")

	require.NoError(t, buf.Append(context.Background(), "s1", entry("m")))
	assert.Equal(t, 1, pub.count(task.QueueLogging), "crossing the threshold dispatches once")

	// A buffer already above the threshold (flush still in flight) must
	// not dispatch again on every append.
	require.NoError(t, buf.Append(context.Background(), "s1", entry("m")))
	require.NoError(t, buf.Append(context.Background(), "s1", entry("m")))
	assert.Equal(t, 1, pub.count(task.QueueLogging))
}

func TestAppend_RefreshesTTLOnEveryAppend(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	buf := NewBuffer(store, &fakePublisher{}, 100, 30*time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Append(context.Background(), "s1", entry("m")))
	}

	assert.Equal(t, 5, store.refresh["s1"])
	assert.Equal(t, 30*time.Minute, store.ttls["s1"])
}

func TestAppend_StoreFailureSurfaces(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.appendErr = errBoom
	buf := NewBuffer(store, &fakePublisher{}, 3, time.Hour)

	assert.ErrorIs(t, buf.Append(context.Background(), "s1", entry("m")), errBoom)
}

func TestAppend_DispatchFailureKeepsEntryBuffered(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	buf := NewBuffer(store, &fakePublisher{err: errBoom}, 1, time.Hour)

	// The sweeper will retry the flush later; the append itself succeeds.
	require.NoError(t, buf.Append(context.Background(), "s1", entry("m")))

	length, err := store.Length(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}
