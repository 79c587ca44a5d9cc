package store

import (
	"context"
	"iter"
)

// Reader resolves checkpoints of a single thread
type Reader interface {
	// Latest returns the checkpoint with the greatest id for the thread and owner.
	// When atOrBefore is set, only ids <= atOrBefore are considered.
	// Returns ErrNotFound if nothing matches.
	Latest(ctx context.Context, threadID, userEmail, atOrBefore string) (*Checkpoint, error)

	// History yields the checkpoints of a thread in descending id order
	History(ctx context.Context, threadID, userEmail string) iter.Seq2[*Checkpoint, error]

	// Writes returns the pending writes of a checkpoint ordered by task id and index
	Writes(ctx context.Context, threadID, userEmail, checkpointID string) ([]PendingWrite, error)
}

// Scanner iterates the whole log.
//
// Scan must yield checkpoints of every thread in non-decreasing insertion order.
// Records written by older producers may have empty fields; they are yielded as is.
type Scanner interface {
	Scan(ctx context.Context) iter.Seq2[*Checkpoint, error]
}

// Writer appends to the log. Both methods upsert by key; rewriting an existing
// checkpoint keeps its original position in the scan order.
type Writer interface {
	PutCheckpoint(ctx context.Context, cp *Checkpoint) error
	PutWrites(ctx context.Context, writes []PendingWrite) error
}

// Deleter removes the records of a thread. An empty userEmail matches every owner.
type Deleter interface {
	DeleteCheckpoints(ctx context.Context, threadID, userEmail string) (int64, error)
	DeleteWrites(ctx context.Context, threadID, userEmail string) (int64, error)
}

// Log is the checkpoint log: a checkpoints collection and a checkpoint-writes collection
type Log interface {
	Reader
	Scanner
	Writer
	Deleter
	Close() error
}

// Collection names used by backends that store records in named tables or collections
const (
	DefaultCheckpointsCollection = "checkpoints"
	DefaultWritesCollection      = "checkpoint_writes"
)

// ContextErr returns a storage failure if ctx is done
func ContextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Fault("iterate checkpoints", err)
	}
	return nil
}

// SliceSeq yields a snapshot of checkpoints, stopping with an error once ctx is done
func SliceSeq(ctx context.Context, cps []*Checkpoint) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		for _, cp := range cps {
			if err := ContextErr(ctx); err != nil {
				yield(nil, err)
				return
			}
			if !yield(cp, nil) {
				return
			}
		}
	}
}

// ErrSeq yields a single error
func ErrSeq(err error) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		yield(nil, err)
	}
}
