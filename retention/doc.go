// Package retention removes whole threads from the checkpoint log.
//
// Checkpoints are deleted before pending writes. The two deletions are not
// atomic; when the second fails after the first removed records, the error is
// a *PartialDeleteError carrying the completed counts. Deleting a thread that
// has no records returns store.ErrNotFound, so a repeated deletion reports
// NotFound rather than success.
package retention
