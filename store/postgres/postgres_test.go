package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var checkpointColumns = []string{"thread_id", "user_email", "checkpoint_id", "parent_checkpoint_id", "ts", "payload", "metadata"}

func strPtr(s string) *string { return &s }

func TestPostgresCheckpointStore_PutCheckpoint(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	cp := &store.Checkpoint{
		ThreadID:  "t1",
		UserEmail: "alice@example.com",
		ID:        "c2",
		ParentID:  "c1",
		Timestamp: time.Now(),
		Payload:   json.RawMessage(`{"messages":["hi"]}`),
		Metadata:  map[string]any{"source": "loop"},
	}
	metadataJSON, _ := json.Marshal(cp.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs("t1", "alice@example.com", "c2", "c1", cp.Timestamp, []byte(cp.Payload), metadataJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.PutCheckpoint(context.Background(), cp)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_PutCheckpoint_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WillReturnError(errors.New("connection reset"))

	err = s.PutCheckpoint(context.Background(), &store.Checkpoint{ThreadID: "t1", UserEmail: "u1", ID: "c1"})
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Contains(t, err.Error(), "failed to save checkpoint")
}

func TestPostgresCheckpointStore_PutWrites(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	writes := []store.PendingWrite{
		{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "task-a", Index: 0, Channel: "messages", Value: json.RawMessage(`"hello"`)},
		{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "task-a", Index: 1, Channel: "route"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoint_writes")).
		WithArgs("t1", "u1", "c1", "task-a", 0, "messages", []byte(`"hello"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoint_writes")).
		WithArgs("t1", "u1", "c1", "task-a", 1, "route", nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = s.PutWrites(context.Background(), writes)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Latest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	ts := time.Now()
	rows := pgxmock.NewRows(checkpointColumns).
		AddRow("t1", strPtr("u1"), "c1", strPtr(""), &ts, []byte(`{"step":1}`), []byte(`{"source":"input"}`))

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints WHERE thread_id = $1 AND user_email = $2 AND ($3 = '' OR checkpoint_id <= $3) ORDER BY checkpoint_id DESC LIMIT 1")).
		WithArgs("t1", "u1", "c2").
		WillReturnRows(rows)

	cp, err := s.Latest(context.Background(), "t1", "u1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "c1", cp.ID)
	assert.Equal(t, "u1", cp.UserEmail)
	assert.Empty(t, cp.ParentID)
	assert.True(t, ts.Equal(cp.Timestamp))
	assert.JSONEq(t, `{"step":1}`, string(cp.Payload))
	assert.Equal(t, "input", cp.Metadata["source"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Latest_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1", "u1", "").
		WillReturnError(pgx.ErrNoRows)

	cp, err := s.Latest(context.Background(), "t1", "u1", "")
	assert.Nil(t, cp)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, store.IsFault(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Latest_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1", "u1", "").
		WillReturnError(errors.New("database connection failed"))

	cp, err := s.Latest(context.Background(), "t1", "u1", "")
	assert.Nil(t, cp)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Contains(t, err.Error(), "failed to load checkpoint")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Latest_InvalidMetadataJSON(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	ts := time.Now()
	rows := pgxmock.NewRows(checkpointColumns).
		AddRow("t1", strPtr("u1"), "c1", strPtr(""), &ts, []byte(`{}`), []byte("{invalid metadata json"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1", "u1", "").
		WillReturnRows(rows)

	_, err = s.Latest(context.Background(), "t1", "u1", "")
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Contains(t, err.Error(), "failed to unmarshal metadata")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_History(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	ts := time.Now()
	rows := pgxmock.NewRows(checkpointColumns)
	for _, id := range []string{"c3", "c2", "c1"} {
		rows.AddRow("t1", strPtr("u1"), id, strPtr(""), &ts, []byte(`{}`), nil)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints WHERE thread_id = $1 AND user_email = $2 ORDER BY checkpoint_id DESC")).
		WithArgs("t1", "u1").
		WillReturnRows(rows)

	var got []string
	for cp, err := range s.History(context.Background(), "t1", "u1") {
		require.NoError(t, err)
		got = append(got, cp.ID)
	}
	assert.Equal(t, []string{"c3", "c2", "c1"}, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Scan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints_aio", "checkpoint_writes_aio")

	ts := time.Now()
	rows := pgxmock.NewRows(checkpointColumns).
		AddRow("t1", strPtr("u1"), "c1", strPtr(""), &ts, []byte(`{}`), nil).
		AddRow("t2", strPtr("u2"), "c1", strPtr(""), &ts, []byte(`{}`), nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints_aio ORDER BY seq ASC")).
		WillReturnRows(rows)

	got := storetest.Collect(t, s.Scan(context.Background()))
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ThreadID)
	assert.Equal(t, "t2", got[1].ThreadID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Scan_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints ORDER BY seq ASC")).
		WillReturnError(errors.New("relation does not exist"))

	var lastErr error
	for _, err := range s.Scan(context.Background()) {
		lastErr = err
	}
	assert.ErrorIs(t, lastErr, store.ErrStorage)
	assert.Contains(t, lastErr.Error(), "failed to scan checkpoints")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Writes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	rows := pgxmock.NewRows([]string{"task_id", "idx", "channel", "value"}).
		AddRow("task-a", 0, "messages", []byte(`"hello"`)).
		AddRow("task-a", 1, "route", nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoint_writes WHERE thread_id = $1 AND user_email = $2 AND checkpoint_id = $3")).
		WithArgs("t1", "u1", "c1").
		WillReturnRows(rows)

	writes, err := s.Writes(context.Background(), "t1", "u1", "c1")
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, "messages", writes[0].Channel)
	assert.JSONEq(t, `"hello"`, string(writes[0].Value))
	assert.Equal(t, 1, writes[1].Index)
	assert.Nil(t, writes[1].Value)
	assert.Equal(t, "c1", writes[1].CheckpointID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1", "").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoint_writes WHERE thread_id = $1")).
		WithArgs("t1", "u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := s.DeleteCheckpoints(context.Background(), "t1", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.DeleteWrites(context.Background(), "t1", "u1")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "", "")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	assert.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresCheckpointStore_Live runs the conformance suite against a real server
func TestPostgresCheckpointStore_Live(t *testing.T) {
	url := os.Getenv("CHECKPOINTER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CHECKPOINTER_TEST_POSTGRES_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Log {
		ctx := context.Background()
		s, err := NewPostgresCheckpointStore(ctx, PostgresOptions{
			ConnString:       url,
			CheckpointsTable: "conformance_checkpoints",
			WritesTable:      "conformance_checkpoint_writes",
		})
		require.NoError(t, err)
		require.NoError(t, s.InitSchema(ctx))
		_, err = s.pool.Exec(ctx, "TRUNCATE conformance_checkpoints, conformance_checkpoint_writes")
		require.NoError(t, err)
		return s
	})
}
