package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/store/memory"
)

const (
	checkpointsFile = store.DefaultCheckpointsCollection + ".jsonl"
	writesFile      = store.DefaultWritesCollection + ".jsonl"
)

// FileCheckpointStore implements store.Log as two append-only JSON-lines files
// in a directory. Reads are served from an in-memory index rebuilt on open.
// Only one process may open a directory at a time.
type FileCheckpointStore struct {
	mu    sync.Mutex
	dir   string
	index *memory.MemoryCheckpointStore
}

var _ store.Log = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore opens the checkpoint log stored under path, creating the directory if missing
func NewFileCheckpointStore(path string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, store.Fault("create checkpoint directory", err)
	}

	s := &FileCheckpointStore{
		dir:   path,
		index: memory.NewMemoryCheckpointStore(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileCheckpointStore) load() error {
	ctx := context.Background()

	err := readLines(filepath.Join(s.dir, checkpointsFile), func(line []byte) error {
		var cp store.Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			return err
		}
		return s.index.PutCheckpoint(ctx, &cp)
	})
	if err != nil {
		return store.Fault("load checkpoints", err)
	}

	err = readLines(filepath.Join(s.dir, writesFile), func(line []byte) error {
		var w store.PendingWrite
		if err := json.Unmarshal(line, &w); err != nil {
			return err
		}
		return s.index.PutWrites(ctx, []store.PendingWrite{w})
	})
	if err != nil {
		return store.Fault("load checkpoint writes", err)
	}
	return nil
}

func readLines(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), lineNo, err)
		}
	}
	return scanner.Err()
}

func appendLines[T any](path string, records []T) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rewrite atomically replaces path with records
func rewrite[T any](path string, records []T) error {
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := appendLines(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// PutCheckpoint appends a checkpoint to the log
func (s *FileCheckpointStore) PutCheckpoint(ctx context.Context, cp *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendLines(filepath.Join(s.dir, checkpointsFile), []*store.Checkpoint{cp}); err != nil {
		return store.Fault("save checkpoint", err)
	}
	return s.index.PutCheckpoint(ctx, cp)
}

// PutWrites appends pending writes to the log
func (s *FileCheckpointStore) PutWrites(ctx context.Context, writes []store.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendLines(filepath.Join(s.dir, writesFile), writes); err != nil {
		return store.Fault("save checkpoint writes", err)
	}
	return s.index.PutWrites(ctx, writes)
}

// Latest returns the newest checkpoint of a thread, optionally at or before a given id
func (s *FileCheckpointStore) Latest(ctx context.Context, threadID, userEmail, atOrBefore string) (*store.Checkpoint, error) {
	return s.index.Latest(ctx, threadID, userEmail, atOrBefore)
}

// History yields the checkpoints of a thread, newest first
func (s *FileCheckpointStore) History(ctx context.Context, threadID, userEmail string) iter.Seq2[*store.Checkpoint, error] {
	return s.index.History(ctx, threadID, userEmail)
}

// Writes returns the pending writes of one checkpoint
func (s *FileCheckpointStore) Writes(ctx context.Context, threadID, userEmail, checkpointID string) ([]store.PendingWrite, error) {
	return s.index.Writes(ctx, threadID, userEmail, checkpointID)
}

// Scan yields every checkpoint in file order
func (s *FileCheckpointStore) Scan(ctx context.Context) iter.Seq2[*store.Checkpoint, error] {
	return s.index.Scan(ctx)
}

func owned(threadID, userEmail, gotThread, gotUser string) bool {
	return gotThread == threadID && (userEmail == "" || gotUser == userEmail)
}

// DeleteCheckpoints removes the checkpoints of a thread and compacts the checkpoints file.
// The index is only updated once the compacted file is in place.
func (s *FileCheckpointStore) DeleteCheckpoints(ctx context.Context, threadID, userEmail string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps, _ := s.index.Snapshot()
	before := len(cps)
	cps = slices.DeleteFunc(cps, func(cp *store.Checkpoint) bool {
		return owned(threadID, userEmail, cp.ThreadID, cp.UserEmail)
	})
	if len(cps) == before {
		return 0, nil
	}
	if err := rewrite(filepath.Join(s.dir, checkpointsFile), cps); err != nil {
		return 0, store.Fault("delete checkpoints", err)
	}
	return s.index.DeleteCheckpoints(ctx, threadID, userEmail)
}

// DeleteWrites removes the pending writes of a thread and compacts the writes file.
// The index is only updated once the compacted file is in place.
func (s *FileCheckpointStore) DeleteWrites(ctx context.Context, threadID, userEmail string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, writes := s.index.Snapshot()
	before := len(writes)
	writes = slices.DeleteFunc(writes, func(w store.PendingWrite) bool {
		return owned(threadID, userEmail, w.ThreadID, w.UserEmail)
	})
	if len(writes) == before {
		return 0, nil
	}
	if err := rewrite(filepath.Join(s.dir, writesFile), writes); err != nil {
		return 0, store.Fault("delete checkpoint writes", err)
	}
	return s.index.DeleteWrites(ctx, threadID, userEmail)
}

// Close releases the in-memory index
func (s *FileCheckpointStore) Close() error {
	return s.index.Close()
}
