// Package store defines the checkpoint log shared by every backend.
//
// A checkpoint is one persisted snapshot of a conversation thread's execution
// state. Checkpoints are keyed by thread id, owner email and checkpoint id;
// checkpoint ids are UUIDv7 strings, so lexicographic order is chronological
// order within a thread. Pending writes are the per-task channel values
// recorded against a checkpoint that have not yet been folded into a newer one.
//
// # Interfaces
//
// Backends implement [Log], which is the union of four narrower interfaces:
//
//   - [Reader] loads the newest checkpoint of a thread, a thread's history and
//     the pending writes of a checkpoint
//   - [Scanner] walks every stored checkpoint in insertion order
//   - [Writer] upserts checkpoints and pending writes
//   - [Deleter] removes a thread's checkpoints or pending writes
//
// Consumers depend on the narrowest interface they need; the recency indexer
// only needs a [Scanner] and the retention manager only needs a [Deleter].
//
// # Errors
//
// An empty result is reported as [ErrNotFound]. Anything the backend could not
// do is a [StorageError], which matches [ErrStorage] with errors.Is:
//
//	cp, err := log.Latest(ctx, "thread-1", "user@example.com", "")
//	switch {
//	case store.IsNotFound(err):
//		// nothing saved yet
//	case err != nil:
//		return err
//	}
//
// # Backends
//
// Implementations live in sub-packages:
//
//   - store/memory: in-process, for tests and short-lived tools
//   - store/file: JSON-lines files in a directory
//   - store/sqlite: SQLite via mattn/go-sqlite3
//   - store/postgres: PostgreSQL via pgx
//   - store/redis: Redis via go-redis
//   - store/mongo: MongoDB via the official v2 driver
//
// store/storetest holds the conformance suite every backend runs in its tests.
package store
