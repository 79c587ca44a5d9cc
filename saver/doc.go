// Package saver implements thread-level checkpoint queries on top of a
// store.Log: the latest checkpoint, a specific checkpoint tuple with
// nearest-ancestor fallback, the full history newest first, and the
// chronological payload history.
//
//	s := saver.New(log)
//	tuple, err := s.GetTuple(ctx, store.Scope{
//		ThreadID:     "thread-1",
//		UserEmail:    "user@example.com",
//		CheckpointID: id,
//	})
//	if store.IsNotFound(err) {
//		// the thread has no checkpoint at or before id
//	}
//
// Put and PutWrites are used by the producing engine; they generate ids and
// timestamps and reject checkpoints whose parent is not stored.
package saver
