// Package storetest provides a conformance suite for store.Log implementations.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/smallnest/checkpointer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty log. The suite closes it.
type Factory func(t *testing.T) store.Log

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewCheckpoint builds a checkpoint whose timestamp is derived from n
func NewCheckpoint(threadID, userEmail, id string, n int) *store.Checkpoint {
	return &store.Checkpoint{
		ThreadID:  threadID,
		UserEmail: userEmail,
		ID:        id,
		Timestamp: base.Add(time.Duration(n) * time.Second),
		Payload:   json.RawMessage(fmt.Sprintf(`{"step":%d}`, n)),
		Metadata:  map[string]any{"source": "loop"},
	}
}

// Collect drains a sequence
func Collect(t *testing.T, seq func(func(*store.Checkpoint, error) bool)) []*store.Checkpoint {
	t.Helper()
	var out []*store.Checkpoint
	for cp, err := range seq {
		require.NoError(t, err)
		out = append(out, cp)
	}
	return out
}

func ids(cps []*store.Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.ID
	}
	return out
}

// Run exercises the Log contract against logs created by newLog
func Run(t *testing.T, newLog Factory) {
	open := func(t *testing.T) store.Log {
		l := newLog(t)
		t.Cleanup(func() { l.Close() })
		return l
	}
	ctx := context.Background()

	t.Run("latest and nearest ancestor", func(t *testing.T) {
		l := open(t)
		for i, id := range []string{"c1", "c3", "c4"} {
			require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", id, i)))
		}
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u2", "c9", 9)))

		latest, err := l.Latest(ctx, "t1", "u1", "")
		require.NoError(t, err)
		assert.Equal(t, "c4", latest.ID)
		assert.Equal(t, "u1", latest.UserEmail)
		assert.JSONEq(t, `{"step":2}`, string(latest.Payload))
		assert.True(t, base.Add(2*time.Second).Equal(latest.Timestamp))

		exact, err := l.Latest(ctx, "t1", "u1", "c3")
		require.NoError(t, err)
		assert.Equal(t, "c3", exact.ID)

		ancestor, err := l.Latest(ctx, "t1", "u1", "c2")
		require.NoError(t, err)
		assert.Equal(t, "c1", ancestor.ID)

		_, err = l.Latest(ctx, "t1", "u1", "c0")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = l.Latest(ctx, "missing", "u1", "")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.False(t, store.IsFault(err))
	})

	t.Run("history is newest first", func(t *testing.T) {
		l := open(t)
		for i, id := range []string{"c1", "c2", "c3"} {
			require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", id, i)))
		}
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t2", "u1", "c5", 5)))

		got := Collect(t, l.History(ctx, "t1", "u1"))
		assert.Equal(t, []string{"c3", "c2", "c1"}, ids(got))

		assert.Empty(t, Collect(t, l.History(ctx, "t1", "someone-else")))
	})

	t.Run("put overwrites in place", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", "c1", 1)))
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t2", "u1", "c1", 2)))

		updated := NewCheckpoint("t1", "u1", "c1", 3)
		updated.ParentID = "c0"
		require.NoError(t, l.PutCheckpoint(ctx, updated))

		got := Collect(t, l.Scan(ctx))
		require.Len(t, got, 2)
		assert.Equal(t, "t1", got[0].ThreadID)
		assert.Equal(t, "c0", got[0].ParentID)
		assert.JSONEq(t, `{"step":3}`, string(got[0].Payload))
		assert.Equal(t, "t2", got[1].ThreadID)
	})

	t.Run("scan follows insertion order", func(t *testing.T) {
		l := open(t)
		order := []struct{ thread, id string }{
			{"t1", "c1"}, {"t2", "c1"}, {"t1", "c2"}, {"t3", "c1"}, {"t1", "c3"},
		}
		for i, rec := range order {
			require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint(rec.thread, "u1", rec.id, i)))
		}

		got := Collect(t, l.Scan(ctx))
		require.Len(t, got, len(order))
		for i, rec := range order {
			assert.Equal(t, rec.thread, got[i].ThreadID)
			assert.Equal(t, rec.id, got[i].ID)
		}
	})

	t.Run("scan stops when context is cancelled", func(t *testing.T) {
		l := open(t)
		for i := range 3 {
			require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", fmt.Sprintf("c%d", i), i)))
		}

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		seen := 0
		var lastErr error
		for _, err := range l.Scan(cctx) {
			if err != nil {
				lastErr = err
				break
			}
			seen++
			cancel()
		}
		assert.Equal(t, 1, seen)
		assert.ErrorIs(t, lastErr, context.Canceled)
	})

	t.Run("pending writes", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", "c1", 1)))
		writes := []store.PendingWrite{
			{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "task-b", Index: 0, Channel: "messages", Value: json.RawMessage(`"b0"`)},
			{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "task-a", Index: 1, Channel: "messages", Value: json.RawMessage(`"a1"`)},
			{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "task-a", Index: 0, Channel: "route", Value: json.RawMessage(`"a0"`)},
			{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c2", TaskID: "task-a", Index: 0, Channel: "route", Value: json.RawMessage(`"other"`)},
		}
		require.NoError(t, l.PutWrites(ctx, writes))
		require.NoError(t, l.PutWrites(ctx, []store.PendingWrite{
			{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "task-b", Index: 0, Channel: "messages", Value: json.RawMessage(`"b0-v2"`)},
		}))

		got, err := l.Writes(ctx, "t1", "u1", "c1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "task-a", got[0].TaskID)
		assert.Equal(t, 0, got[0].Index)
		assert.Equal(t, "route", got[0].Channel)
		assert.Equal(t, "task-a", got[1].TaskID)
		assert.Equal(t, 1, got[1].Index)
		assert.Equal(t, "task-b", got[2].TaskID)
		assert.JSONEq(t, `"b0-v2"`, string(got[2].Value))

		none, err := l.Writes(ctx, "t1", "u1", "c9")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete by thread", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", "c1", 1)))
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u1", "c2", 2)))
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t1", "u2", "c1", 3)))
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("t2", "u1", "c1", 4)))
		require.NoError(t, l.PutWrites(ctx, []store.PendingWrite{
			{ThreadID: "t1", UserEmail: "u1", CheckpointID: "c1", TaskID: "a", Channel: "x"},
			{ThreadID: "t1", UserEmail: "u2", CheckpointID: "c1", TaskID: "a", Channel: "x"},
			{ThreadID: "t2", UserEmail: "u1", CheckpointID: "c1", TaskID: "a", Channel: "x"},
		}))

		n, err := l.DeleteCheckpoints(ctx, "t1", "u2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = l.DeleteWrites(ctx, "t1", "u2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = l.DeleteCheckpoints(ctx, "t1", "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = l.DeleteWrites(ctx, "t1", "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = l.DeleteCheckpoints(ctx, "t1", "")
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = l.DeleteWrites(ctx, "ghost", "")
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = l.Latest(ctx, "t1", "u1", "")
		assert.ErrorIs(t, err, store.ErrNotFound)

		rest := Collect(t, l.Scan(ctx))
		require.Len(t, rest, 1)
		assert.Equal(t, "t2", rest[0].ThreadID)
		w, err := l.Writes(ctx, "t2", "u1", "c1")
		require.NoError(t, err)
		assert.Len(t, w, 1)
	})

	t.Run("separators in ids do not mix owners", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.PutCheckpoint(ctx, NewCheckpoint("a:b", "c@x", "c1", 1)))
		require.NoError(t, l.PutWrites(ctx, []store.PendingWrite{
			{ThreadID: "a:b", UserEmail: "c@x", CheckpointID: "c1", TaskID: "t", Channel: "x"},
		}))

		_, err := l.Latest(ctx, "a", "b:c@x", "")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Empty(t, Collect(t, l.History(ctx, "a", "b:c@x")))
		w, err := l.Writes(ctx, "a", "b:c@x", "c1")
		require.NoError(t, err)
		assert.Empty(t, w)

		n, err := l.DeleteCheckpoints(ctx, "a", "b:c@x")
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = l.DeleteWrites(ctx, "a", "")
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := l.Latest(ctx, "a:b", "c@x", "")
		require.NoError(t, err)
		assert.Equal(t, "a:b", got.ThreadID)
		assert.Equal(t, "c@x", got.UserEmail)
	})
}
