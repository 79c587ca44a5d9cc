package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts RedisOptions) (*RedisCheckpointStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts.Addr = mr.Addr()
	return NewRedisCheckpointStore(opts), mr
}

func TestRedisCheckpointStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Log {
		s, _ := newTestStore(t, RedisOptions{})
		return s
	})
}

func TestRedisCheckpointStoreKeyPrefix(t *testing.T) {
	s, mr := newTestStore(t, RedisOptions{Prefix: "app:"})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1)))

	assert.True(t, mr.Exists("app:checkpoint:t1:u1:c1"))
	assert.True(t, mr.Exists("app:thread:t1:u1:checkpoints"))
	assert.True(t, mr.Exists("app:log"))
	assert.False(t, mr.Exists("checkpointer:log"))
}

func TestRedisCheckpointStoreEscapesKeyParts(t *testing.T) {
	s, mr := newTestStore(t, RedisOptions{})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("a:b", "c@x", "c1", 1)))

	assert.True(t, mr.Exists("checkpointer:checkpoint:a%3Ab:c%40x:c1"))
	assert.True(t, mr.Exists("checkpointer:thread:a%3Ab:c%40x:checkpoints"))
	assert.False(t, mr.Exists("checkpointer:thread:a:b:c@x:checkpoints"))

	_, err := s.Latest(ctx, "a", "b:c@x", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisCheckpointStoreTTL(t *testing.T) {
	s, mr := newTestStore(t, RedisOptions{TTL: time.Minute})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1)))
	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c2", 2)))

	mr.FastForward(2 * time.Minute)

	_, err := s.Latest(ctx, "t1", "u1", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, storetest.Collect(t, s.Scan(ctx)))
}

func TestRedisCheckpointStoreScanPages(t *testing.T) {
	s, _ := newTestStore(t, RedisOptions{})
	defer s.Close()
	ctx := context.Background()

	total := pageSize*2 + 7
	for i := range total {
		cp := storetest.NewCheckpoint("t1", "u1", store.NewCheckpointID(), i)
		require.NoError(t, s.PutCheckpoint(ctx, cp))
	}

	got := storetest.Collect(t, s.Scan(ctx))
	require.Len(t, got, total)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp))
	}
	assert.Len(t, storetest.Collect(t, s.History(ctx, "t1", "u1")), total)
}

func TestRedisCheckpointStoreCorruptRecord(t *testing.T) {
	s, mr := newTestStore(t, RedisOptions{})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1)))
	require.NoError(t, mr.Set("checkpointer:checkpoint:t1:u1:c1", "{not json"))

	_, err := s.Latest(ctx, "t1", "u1", "")
	assert.ErrorIs(t, err, store.ErrStorage)

	var scanErr error
	for _, err := range s.Scan(ctx) {
		scanErr = err
	}
	assert.ErrorIs(t, scanErr, store.ErrStorage)
}

func TestRedisCheckpointStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t, RedisOptions{})
	defer s.Close()
	mr.Close()

	_, err := s.Latest(context.Background(), "t1", "u1", "")
	assert.True(t, store.IsFault(err))

	_, err = s.DeleteCheckpoints(context.Background(), "t1", "")
	assert.True(t, store.IsFault(err))
}
