package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	_ "github.com/mattn/go-sqlite3"
	"github.com/smallnest/checkpointer/store"
)

// SqliteCheckpointStore implements store.Log using SQLite
type SqliteCheckpointStore struct {
	db               *sql.DB
	checkpointsTable string
	writesTable      string
}

var _ store.Log = (*SqliteCheckpointStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path             string
	CheckpointsTable string // Default "checkpoints"
	WritesTable      string // Default "checkpoint_writes"
}

// NewSqliteCheckpointStore creates a new SQLite checkpoint store
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := NewSqliteCheckpointStoreWithDB(db, opts.CheckpointsTable, opts.WritesTable)
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSqliteCheckpointStoreWithDB creates a store over an existing database handle.
// The caller is responsible for calling InitSchema.
func NewSqliteCheckpointStoreWithDB(db *sql.DB, checkpointsTable, writesTable string) *SqliteCheckpointStore {
	if checkpointsTable == "" {
		checkpointsTable = store.DefaultCheckpointsCollection
	}
	if writesTable == "" {
		writesTable = store.DefaultWritesCollection
	}
	return &SqliteCheckpointStore{
		db:               db,
		checkpointsTable: checkpointsTable,
		writesTable:      writesTable,
	}
}

// InitSchema creates the necessary tables if they don't exist.
// seq records insertion order for Scan.
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			user_email TEXT,
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			ts DATETIME,
			payload TEXT,
			metadata TEXT,
			UNIQUE (thread_id, user_email, checkpoint_id)
		);
		CREATE TABLE IF NOT EXISTS %[2]s (
			thread_id TEXT NOT NULL,
			user_email TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value TEXT,
			PRIMARY KEY (thread_id, user_email, checkpoint_id, task_id, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_thread_id ON %[2]s (thread_id);
	`, s.checkpointsTable, s.writesTable)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

// PutCheckpoint stores a checkpoint
func (s *SqliteCheckpointStore) PutCheckpoint(ctx context.Context, cp *store.Checkpoint) error {
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, user_email, checkpoint_id, parent_checkpoint_id, ts, payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, user_email, checkpoint_id) DO UPDATE SET
			parent_checkpoint_id = excluded.parent_checkpoint_id,
			ts = excluded.ts,
			payload = excluded.payload,
			metadata = excluded.metadata
	`, s.checkpointsTable)

	_, err = s.db.ExecContext(ctx, query,
		cp.ThreadID,
		cp.UserEmail,
		cp.ID,
		cp.ParentID,
		cp.Timestamp,
		string(cp.Payload),
		string(metadataJSON),
	)
	return store.Fault("save checkpoint", err)
}

// PutWrites stores pending writes in a single transaction
func (s *SqliteCheckpointStore) PutWrites(ctx context.Context, writes []store.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Fault("begin checkpoint writes", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, user_email, checkpoint_id, task_id, idx, channel, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, user_email, checkpoint_id, task_id, idx) DO UPDATE SET
			channel = excluded.channel,
			value = excluded.value
	`, s.writesTable)

	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, query,
			w.ThreadID, w.UserEmail, w.CheckpointID, w.TaskID, w.Index, w.Channel, string(w.Value),
		); err != nil {
			return store.Fault("save checkpoint writes", err)
		}
	}
	return store.Fault("commit checkpoint writes", tx.Commit())
}

const selectColumns = "thread_id, user_email, checkpoint_id, parent_checkpoint_id, ts, payload, metadata"

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCheckpoint tolerates NULL columns left by older producers
func scanCheckpoint(row rowScanner) (*store.Checkpoint, error) {
	var (
		cp                                     store.Checkpoint
		userEmail, parentID, payload, metadata sql.NullString
		ts                                     sql.NullTime
	)
	if err := row.Scan(&cp.ThreadID, &userEmail, &cp.ID, &parentID, &ts, &payload, &metadata); err != nil {
		return nil, err
	}

	cp.UserEmail = userEmail.String
	cp.ParentID = parentID.String
	cp.Timestamp = ts.Time
	if payload.String != "" {
		cp.Payload = json.RawMessage(payload.String)
	}
	if metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// Latest returns the newest checkpoint of a thread, optionally at or before a given id
func (s *SqliteCheckpointStore) Latest(ctx context.Context, threadID, userEmail, atOrBefore string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE thread_id = ? AND user_email = ? AND (? = '' OR checkpoint_id <= ?)
		ORDER BY checkpoint_id DESC
		LIMIT 1
	`, selectColumns, s.checkpointsTable)

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, threadID, userEmail, atOrBefore, atOrBefore))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Fault("load checkpoint", err)
	}
	return cp, nil
}

func (s *SqliteCheckpointStore) query(ctx context.Context, op, query string, args ...any) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SqliteCheckpointStore) History(ctx context.Context, threadID, userEmail string) iter.Seq2[*store.Checkpoint, error] {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = ? AND user_email = ?
		ORDER BY checkpoint_id DESC
	`, selectColumns, s.checkpointsTable)
	return s.query(ctx, "list checkpoints", query, threadID, userEmail)
}

// Scan yields every checkpoint in insertion order
func (s *SqliteCheckpointStore) Scan(ctx context.Context) iter.Seq2[*store.Checkpoint, error] {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY seq ASC", selectColumns, s.checkpointsTable)
	return s.query(ctx, "scan checkpoints", query)
}

// Writes returns the pending writes of one checkpoint
func (s *SqliteCheckpointStore) Writes(ctx context.Context, threadID, userEmail, checkpointID string) ([]store.PendingWrite, error) {
	query := fmt.Sprintf(`
		SELECT task_id, idx, channel, value
		FROM %s
		WHERE thread_id = ? AND user_email = ? AND checkpoint_id = ?
		ORDER BY task_id ASC, idx ASC
	`, s.writesTable)

	rows, err := s.db.QueryContext(ctx, query, threadID, userEmail, checkpointID)
	if err != nil {
		return nil, store.Fault("list checkpoint writes", err)
	}
	defer rows.Close()

	writes := []store.PendingWrite{}
	for rows.Next() {
		w := store.PendingWrite{ThreadID: threadID, UserEmail: userEmail, CheckpointID: checkpointID}
		var value sql.NullString
		if err := rows.Scan(&w.TaskID, &w.Index, &w.Channel, &value); err != nil {
			return nil, store.Fault("scan checkpoint write row", err)
		}
		if value.String != "" {
			w.Value = json.RawMessage(value.String)
		}
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Fault("iterate checkpoint write rows", err)
	}
	return writes, nil
}

func (s *SqliteCheckpointStore) deleteThread(ctx context.Context, table, op, threadID, userEmail string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = ? AND (? = '' OR user_email = ?)", table)
	res, err := s.db.ExecContext(ctx, query, threadID, userEmail, userEmail)
	if err != nil {
		return 0, store.Fault(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Fault(op, err)
	}
	return n, nil
}

// DeleteCheckpoints removes the checkpoints of a thread
func (s *SqliteCheckpointStore) DeleteCheckpoints(ctx context.Context, threadID, userEmail string) (int64, error) {
	return s.deleteThread(ctx, s.checkpointsTable, "delete checkpoints", threadID, userEmail)
}

// DeleteWrites removes the pending writes of a thread
func (s *SqliteCheckpointStore) DeleteWrites(ctx context.Context, threadID, userEmail string) (int64, error) {
	return s.deleteThread(ctx, s.writesTable, "delete checkpoint writes", threadID, userEmail)
}
