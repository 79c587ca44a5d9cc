package memory

import (
	"context"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/smallnest/checkpointer/store"
)

// MemoryCheckpointStore implements store.Log in process memory.
// Records are kept in insertion order; data is lost when the process exits.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints []*store.Checkpoint
	writes      []store.PendingWrite
}

var _ store.Log = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates a new in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{}
}

func sameCheckpoint(a, b *store.Checkpoint) bool {
	return a.ThreadID == b.ThreadID && a.UserEmail == b.UserEmail && a.ID == b.ID
}

func sameWrite(a, b store.PendingWrite) bool {
	return a.ThreadID == b.ThreadID && a.UserEmail == b.UserEmail && a.CheckpointID == b.CheckpointID &&
		a.TaskID == b.TaskID && a.Index == b.Index
}

func ownedBy(threadID, userEmail, gotThread, gotUser string) bool {
	return gotThread == threadID && (userEmail == "" || gotUser == userEmail)
}

func clone(cp *store.Checkpoint) *store.Checkpoint {
	c := *cp
	c.Payload = slices.Clone(cp.Payload)
	c.Metadata = maps.Clone(cp.Metadata)
	return &c
}

// PutCheckpoint stores a checkpoint, replacing one with the same key in place
func (s *MemoryCheckpointStore) PutCheckpoint(_ context.Context, cp *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.checkpoints {
		if sameCheckpoint(existing, cp) {
			s.checkpoints[i] = clone(cp)
			return nil
		}
	}
	s.checkpoints = append(s.checkpoints, clone(cp))
	return nil
}

// PutWrites stores pending writes, replacing those with the same key in place
func (s *MemoryCheckpointStore) PutWrites(_ context.Context, writes []store.PendingWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

next:
	for _, w := range writes {
		for i, existing := range s.writes {
			if sameWrite(existing, w) {
				s.writes[i] = w
				continue next
			}
		}
		s.writes = append(s.writes, w)
	}
	return nil
}

// Latest returns the newest checkpoint of a thread, optionally at or before a given id
func (s *MemoryCheckpointStore) Latest(_ context.Context, threadID, userEmail, atOrBefore string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *store.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.ThreadID != threadID || cp.UserEmail != userEmail {
			continue
		}
		if atOrBefore != "" && cp.ID > atOrBefore {
			continue
		}
		if latest == nil || cp.ID > latest.ID {
			latest = cp
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return clone(latest), nil
}

// History yields the checkpoints of a thread, newest first
func (s *MemoryCheckpointStore) History(ctx context.Context, threadID, userEmail string) iter.Seq2[*store.Checkpoint, error] {
	s.mu.RLock()
	var matched []*store.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.ThreadID == threadID && cp.UserEmail == userEmail {
			matched = append(matched, clone(cp))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *store.Checkpoint) int {
		return strings.Compare(b.ID, a.ID)
	})
	return store.SliceSeq(ctx, matched)
}

// Writes returns the pending writes of one checkpoint
func (s *MemoryCheckpointStore) Writes(_ context.Context, threadID, userEmail, checkpointID string) ([]store.PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	writes := []store.PendingWrite{}
	for _, w := range s.writes {
		if w.ThreadID == threadID && w.UserEmail == userEmail && w.CheckpointID == checkpointID {
			writes = append(writes, w)
		}
	}
	store.SortWrites(writes)
	return writes, nil
}

// Scan yields every checkpoint in insertion order
func (s *MemoryCheckpointStore) Scan(ctx context.Context) iter.Seq2[*store.Checkpoint, error] {
	s.mu.RLock()
	snapshot := make([]*store.Checkpoint, len(s.checkpoints))
	for i, cp := range s.checkpoints {
		snapshot[i] = clone(cp)
	}
	s.mu.RUnlock()

	return store.SliceSeq(ctx, snapshot)
}

// DeleteCheckpoints removes the checkpoints of a thread
func (s *MemoryCheckpointStore) DeleteCheckpoints(_ context.Context, threadID, userEmail string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.checkpoints)
	s.checkpoints = slices.DeleteFunc(s.checkpoints, func(cp *store.Checkpoint) bool {
		return ownedBy(threadID, userEmail, cp.ThreadID, cp.UserEmail)
	})
	return int64(before - len(s.checkpoints)), nil
}

// DeleteWrites removes the pending writes of a thread
func (s *MemoryCheckpointStore) DeleteWrites(_ context.Context, threadID, userEmail string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.writes)
	s.writes = slices.DeleteFunc(s.writes, func(w store.PendingWrite) bool {
		return ownedBy(threadID, userEmail, w.ThreadID, w.UserEmail)
	})
	return int64(before - len(s.writes)), nil
}

// Close is a no-op
func (s *MemoryCheckpointStore) Close() error { return nil }

// Snapshot returns copies of all records in insertion order
func (s *MemoryCheckpointStore) Snapshot() ([]*store.Checkpoint, []store.PendingWrite) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := make([]*store.Checkpoint, len(s.checkpoints))
	for i, cp := range s.checkpoints {
		cps[i] = clone(cp)
	}
	return cps, slices.Clone(s.writes)
}
