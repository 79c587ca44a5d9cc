// Checkpointer - durable checkpoint storage for conversational agent threads.
//
// Checkpointer persists snapshots ("checkpoints") of conversation state keyed by
// thread, user and checkpoint id, together with the pending writes recorded
// against each checkpoint. It answers three kinds of questions: what is the
// state of a thread now or at a given point, which threads were touched most
// recently, and how to remove everything a thread left behind.
//
// # Quick Start
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/checkpointer/saver"
//		"github.com/smallnest/checkpointer/store"
//		"github.com/smallnest/checkpointer/store/memory"
//	)
//
//	func main() {
//		ctx := context.Background()
//		s := saver.New(memory.NewMemoryCheckpointStore())
//
//		scope, err := s.Put(ctx, &store.Checkpoint{
//			ThreadID:  "thread-1",
//			UserEmail: "ada@example.com",
//			Payload:   []byte(`{"messages":["hello"]}`),
//		})
//		if err != nil {
//			panic(err)
//		}
//
//		cp, err := s.GetLatest(ctx, scope.Thread())
//		if err != nil {
//			panic(err)
//		}
//		fmt.Println(cp.ID, string(cp.Payload))
//	}
//
// # Package Structure
//
// ### store/
// Record types, scopes, sentinel errors and the store.Log interface every
// backend satisfies. Backends live in subpackages:
//   - store/memory: in-process maps, used in tests and as the file index
//   - store/file: append-only JSON-lines files in a directory
//   - store/sqlite: SQLite via mattn/go-sqlite3
//   - store/postgres: PostgreSQL via pgx connection pools
//   - store/redis: Redis keys, sorted sets and an insertion log
//   - store/mongo: MongoDB collections
//
// ### saver/
// Checkpoint lookups: latest, exact-or-nearest-ancestor tuples, newest-first
// history and oldest-first filtered message history.
//
// ### recency/
// Builds the "recently active threads" report with a two-entry window per thread.
//
// ### retention/
// Deletes every checkpoint and pending write of a thread and reports the counts.
//
// ### backend/, config/
// Configuration loading (YAML, .env files and CHECKPOINTER_* variables) and
// opening the configured backend.
//
// ### log/, telemetry/
// Leveled logging and OpenTelemetry spans and counters.
//
// # Command Line
//
// cmd/checkpointer exposes the same operations:
//
//	checkpointer latest --thread thread-1 --user ada@example.com
//	checkpointer tuple --thread thread-1 --user ada@example.com --checkpoint <id>
//	checkpointer history --thread thread-1 --user ada@example.com
//	checkpointer messages --thread thread-1 --user ada@example.com
//	checkpointer recent
//	checkpointer delete --thread thread-1
//
// Exit status is 2 when nothing was found, 3 for invalid flags or input and 1
// for storage failures.
package checkpointer // import "github.com/smallnest/checkpointer"
