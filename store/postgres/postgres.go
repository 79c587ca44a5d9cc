package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smallnest/checkpointer/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresCheckpointStore implements store.Log using PostgreSQL
type PostgresCheckpointStore struct {
	pool             DBPool
	checkpointsTable string
	writesTable      string
}

var _ store.Log = (*PostgresCheckpointStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString       string
	CheckpointsTable string // Default "checkpoints"
	WritesTable      string // Default "checkpoint_writes"
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresCheckpointStoreWithPool(pool, opts.CheckpointsTable, opts.WritesTable), nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
// Useful for testing with mocks
func NewPostgresCheckpointStoreWithPool(pool DBPool, checkpointsTable, writesTable string) *PostgresCheckpointStore {
	if checkpointsTable == "" {
		checkpointsTable = store.DefaultCheckpointsCollection
	}
	if writesTable == "" {
		writesTable = store.DefaultWritesCollection
	}
	return &PostgresCheckpointStore{
		pool:             pool,
		checkpointsTable: checkpointsTable,
		writesTable:      writesTable,
	}
}

// InitSchema creates the necessary tables if they don't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq BIGSERIAL,
			thread_id TEXT NOT NULL,
			user_email TEXT,
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			ts TIMESTAMPTZ,
			payload JSONB,
			metadata JSONB,
			PRIMARY KEY (thread_id, user_email, checkpoint_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_seq ON %[1]s (seq);
		CREATE TABLE IF NOT EXISTS %[2]s (
			thread_id TEXT NOT NULL,
			user_email TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value JSONB,
			PRIMARY KEY (thread_id, user_email, checkpoint_id, task_id, idx)
		);
	`, s.checkpointsTable, s.writesTable)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() error {
	s.pool.Close()
	return nil
}

// jsonb maps an empty raw message to SQL NULL
func jsonb(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// PutCheckpoint stores a checkpoint
func (s *PostgresCheckpointStore) PutCheckpoint(ctx context.Context, cp *store.Checkpoint) error {
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, user_email, checkpoint_id, parent_checkpoint_id, ts, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id, user_email, checkpoint_id) DO UPDATE SET
			parent_checkpoint_id = EXCLUDED.parent_checkpoint_id,
			ts = EXCLUDED.ts,
			payload = EXCLUDED.payload,
			metadata = EXCLUDED.metadata
	`, s.checkpointsTable)

	_, err = s.pool.Exec(ctx, query,
		cp.ThreadID,
		cp.UserEmail,
		cp.ID,
		cp.ParentID,
		cp.Timestamp,
		jsonb(cp.Payload),
		metadataJSON,
	)
	return store.Fault("save checkpoint", err)
}

// PutWrites stores pending writes in a single transaction
func (s *PostgresCheckpointStore) PutWrites(ctx context.Context, writes []store.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Fault("begin checkpoint writes", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, user_email, checkpoint_id, task_id, idx, channel, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id, user_email, checkpoint_id, task_id, idx) DO UPDATE SET
			channel = EXCLUDED.channel,
			value = EXCLUDED.value
	`, s.writesTable)

	for _, w := range writes {
		if _, err := tx.Exec(ctx, query,
			w.ThreadID, w.UserEmail, w.CheckpointID, w.TaskID, w.Index, w.Channel, jsonb(w.Value),
		); err != nil {
			return store.Fault("save checkpoint writes", err)
		}
	}
	return store.Fault("commit checkpoint writes", tx.Commit(ctx))
}

const selectColumns = "thread_id, user_email, checkpoint_id, parent_checkpoint_id, ts, payload, metadata"

// scanCheckpoint tolerates NULL columns left by older producers
func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var (
		cp                  store.Checkpoint
		userEmail, parentID *string
		ts                  *time.Time
		payload, metadata   []byte
	)
	if err := row.Scan(&cp.ThreadID, &userEmail, &cp.ID, &parentID, &ts, &payload, &metadata); err != nil {
		return nil, err
	}

	if userEmail != nil {
		cp.UserEmail = *userEmail
	}
	if parentID != nil {
		cp.ParentID = *parentID
	}
	if ts != nil {
		cp.Timestamp = *ts
	}
	if len(payload) > 0 {
		cp.Payload = json.RawMessage(payload)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// Latest returns the newest checkpoint of a thread, optionally at or before a given id
func (s *PostgresCheckpointStore) Latest(ctx context.Context, threadID, userEmail, atOrBefore string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE thread_id = $1 AND user_email = $2 AND ($3 = '' OR checkpoint_id <= $3)
		ORDER BY checkpoint_id DESC
		LIMIT 1
	`, selectColumns, s.checkpointsTable)

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, threadID, userEmail, atOrBefore))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Fault("load checkpoint", err)
	}
	return cp, nil
}

func (s *PostgresCheckpointStore) query(ctx context.Context, op, query string, args ...any) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			yield(nil, store.Fault(op, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if err := store.ContextErr(ctx); err != nil {
				yield(nil, err)
				return
			}
			cp, err := scanCheckpoint(rows)
			if err != nil {
				yield(nil, store.Fault(op, err))
				return
			}
			if !yield(cp, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, store.Fault(op, err))
		}
	}
}

// History yields the checkpoints of a thread, newest first
func (s *PostgresCheckpointStore) History(ctx context.Context, threadID, userEmail string) iter.Seq2[*store.Checkpoint, error] {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = $1 AND user_email = $2
		ORDER BY checkpoint_id DESC
	`, selectColumns, s.checkpointsTable)
	return s.query(ctx, "list checkpoints", query, threadID, userEmail)
}

// Scan yields every checkpoint in insertion order
func (s *PostgresCheckpointStore) Scan(ctx context.Context) iter.Seq2[*store.Checkpoint, error] {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY seq ASC", selectColumns, s.checkpointsTable)
	return s.query(ctx, "scan checkpoints", query)
}

// Writes returns the pending writes of one checkpoint
func (s *PostgresCheckpointStore) Writes(ctx context.Context, threadID, userEmail, checkpointID string) ([]store.PendingWrite, error) {
	query := fmt.Sprintf(`
		SELECT task_id, idx, channel, value
		FROM %s
		WHERE thread_id = $1 AND user_email = $2 AND checkpoint_id = $3
		ORDER BY task_id ASC, idx ASC
	`, s.writesTable)

	rows, err := s.pool.Query(ctx, query, threadID, userEmail, checkpointID)
	if err != nil {
		return nil, store.Fault("list checkpoint writes", err)
	}
	defer rows.Close()

	writes := []store.PendingWrite{}
	for rows.Next() {
		w := store.PendingWrite{ThreadID: threadID, UserEmail: userEmail, CheckpointID: checkpointID}
		var value []byte
		if err := rows.Scan(&w.TaskID, &w.Index, &w.Channel, &value); err != nil {
			return nil, store.Fault("scan checkpoint write row", err)
		}
		if len(value) > 0 {
			w.Value = json.RawMessage(value)
		}
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Fault("iterate checkpoint write rows", err)
	}
	return writes, nil
}

func (s *PostgresCheckpointStore) deleteThread(ctx context.Context, table, op, threadID, userEmail string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1 AND ($2 = '' OR user_email = $2)", table)
	tag, err := s.pool.Exec(ctx, query, threadID, userEmail)
	if err != nil {
		return 0, store.Fault(op, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCheckpoints removes the checkpoints of a thread
func (s *PostgresCheckpointStore) DeleteCheckpoints(ctx context.Context, threadID, userEmail string) (int64, error) {
	return s.deleteThread(ctx, s.checkpointsTable, "delete checkpoints", threadID, userEmail)
}

// DeleteWrites removes the pending writes of a thread
func (s *PostgresCheckpointStore) DeleteWrites(ctx context.Context, threadID, userEmail string) (int64, error) {
	return s.deleteThread(ctx, s.writesTable, "delete checkpoint writes", threadID, userEmail)
}
