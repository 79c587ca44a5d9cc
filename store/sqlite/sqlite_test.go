package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteCheckpointStore {
	s, err := NewSqliteCheckpointStore(SqliteOptions{
		Path: filepath.Join(t.TempDir(), "checkpoints.db"),
	})
	require.NoError(t, err)
	return s
}

func TestSqliteCheckpointStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Log {
		return newTestStore(t)
	})
}

func TestSqliteCheckpointStore_CustomTables(t *testing.T) {
	s, err := NewSqliteCheckpointStore(SqliteOptions{
		Path:             filepath.Join(t.TempDir(), "custom.db"),
		CheckpointsTable: "checkpoints_aio",
		WritesTable:      "checkpoint_writes_aio",
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1)))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM checkpoints_aio").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSqliteCheckpointStore_ScanToleratesNullColumns(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO checkpoints (thread_id, user_email, checkpoint_id, ts) VALUES ('legacy', NULL, 'c1', NULL)")
	require.NoError(t, err)
	require.NoError(t, s.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1)))

	got := storetest.Collect(t, s.Scan(ctx))
	require.Len(t, got, 2)
	assert.Equal(t, "legacy", got[0].ThreadID)
	assert.Empty(t, got[0].UserEmail)
	assert.True(t, got[0].Timestamp.IsZero())
	assert.Nil(t, got[0].Payload)
	assert.Equal(t, "t1", got[1].ThreadID)
}

func TestSqliteCheckpointStore_BadMetadataIsFault(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO checkpoints (thread_id, user_email, checkpoint_id, metadata) VALUES ('t1', 'u1', 'c1', '{broken')")
	require.NoError(t, err)

	_, err = s.Latest(ctx, "t1", "u1", "")
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.True(t, store.IsFault(err))
}
