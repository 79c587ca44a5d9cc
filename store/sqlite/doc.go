// Package sqlite provides SQLite-backed checkpoint storage.
//
// Checkpoints and pending writes live in two tables, "checkpoints" and
// "checkpoint_writes" by default. An AUTOINCREMENT sequence column records
// insertion order so Scan returns records in the order they were first stored;
// overwriting a checkpoint keeps its position.
//
// # Basic Usage
//
//	s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path: "./checkpoints.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
// Use ":memory:" as the path for a throwaway database. When sharing an existing
// *sql.DB, call NewSqliteCheckpointStoreWithDB followed by InitSchema.
//
// Rows written by older producers may carry NULL owner, parent, timestamp or
// payload columns; they are read back as zero values so callers can decide
// whether to skip them.
package sqlite
