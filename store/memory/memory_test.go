package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/store/storetest"
)

func TestMemoryCheckpointStore_Conformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Log {
		return NewMemoryCheckpointStore()
	})
}

func TestMemoryCheckpointStore_Isolation(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()
	ctx := context.Background()

	cp := storetest.NewCheckpoint("t1", "u1", "c1", 1)
	if err := ms.PutCheckpoint(ctx, cp); err != nil {
		t.Fatalf("Failed to put checkpoint: %v", err)
	}

	// Mutating the caller's copy must not leak into the store
	cp.Payload[2] = 'X'
	cp.ParentID = "changed"
	cp.Metadata["source"] = "caller"

	loaded, err := ms.Latest(ctx, "t1", "u1", "")
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	if string(loaded.Payload) != `{"step":1}` {
		t.Errorf("Expected stored payload to be unchanged, got %s", loaded.Payload)
	}
	if loaded.ParentID != "" {
		t.Errorf("Expected empty parent, got %q", loaded.ParentID)
	}

	if loaded.Metadata["source"] != "loop" {
		t.Errorf("Expected stored metadata to be unchanged, got %v", loaded.Metadata)
	}

	loaded.Payload = json.RawMessage(`{}`)
	loaded.Metadata["source"] = "reader"
	again, _ := ms.Latest(ctx, "t1", "u1", "")
	if string(again.Payload) != `{"step":1}` {
		t.Errorf("Expected returned checkpoint to be a copy, got %s", again.Payload)
	}
	if again.Metadata["source"] != "loop" {
		t.Errorf("Expected returned metadata to be a copy, got %v", again.Metadata)
	}
}

func TestMemoryCheckpointStore_MalformedRecords(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()
	ctx := context.Background()

	if err := ms.PutCheckpoint(ctx, &store.Checkpoint{ID: "orphan"}); err != nil {
		t.Fatalf("Failed to put checkpoint: %v", err)
	}
	if err := ms.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1)); err != nil {
		t.Fatalf("Failed to put checkpoint: %v", err)
	}

	got := storetest.Collect(t, ms.Scan(ctx))
	if len(got) != 2 {
		t.Fatalf("Expected scan to return every stored record, got %d", len(got))
	}
	if got[0].ThreadID != "" || got[1].ThreadID != "t1" {
		t.Errorf("Unexpected scan order: %q, %q", got[0].ThreadID, got[1].ThreadID)
	}
}

func TestMemoryCheckpointStore_Snapshot(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()
	ctx := context.Background()

	_ = ms.PutCheckpoint(ctx, storetest.NewCheckpoint("t1", "u1", "c1", 1))
	_ = ms.PutWrites(ctx, []store.PendingWrite{{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "a"}})

	cps, writes := ms.Snapshot()
	if len(cps) != 1 || len(writes) != 1 {
		t.Fatalf("Expected 1 checkpoint and 1 write, got %d and %d", len(cps), len(writes))
	}

	writes[0].TaskID = "changed"
	_, again := ms.Snapshot()
	if again[0].TaskID != "a" {
		t.Errorf("Expected snapshot to be a copy, got task %q", again[0].TaskID)
	}
}
