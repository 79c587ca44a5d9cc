package retention

import (
	"context"
	"fmt"

	"github.com/smallnest/checkpointer/log"
	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Result reports how many records a thread deletion removed per collection
type Result struct {
	Checkpoints int64 `json:"checkpoints"`
	Writes      int64 `json:"checkpoint_writes"`
}

// Total returns the number of records removed across both collections
func (r Result) Total() int64 {
	return r.Checkpoints + r.Writes
}

// Message describes the deletion for display
func (r Result) Message(threadID string) string {
	return fmt.Sprintf("%d document(s) with thread_id '%s' have been deleted.", r.Total(), threadID)
}

// PartialDeleteError reports a deletion that stopped after removing some records.
// It is a storage failure; repeating the deletion is safe.
type PartialDeleteError struct {
	ThreadID  string
	Completed Result
	Err       error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("failed to delete thread %s after removing %d checkpoint(s) and %d write(s): %v",
		e.ThreadID, e.Completed.Checkpoints, e.Completed.Writes, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

// Is reports PartialDeleteError as store.ErrStorage
func (e *PartialDeleteError) Is(target error) bool { return target == store.ErrStorage }

// Manager deletes whole threads from a checkpoint log
type Manager struct {
	deleter  store.Deleter
	logger   log.Logger
	recorder telemetry.Recorder
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r telemetry.Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// New creates a Manager over deleter
func New(deleter store.Deleter, opts ...Option) *Manager {
	m := &Manager{
		deleter:  deleter,
		logger:   log.GetDefaultLogger(),
		recorder: telemetry.NewRecorder(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeleteByThread removes every checkpoint and pending write of threadID,
// whoever owns them. Returns store.ErrNotFound if nothing matched.
func (m *Manager) DeleteByThread(ctx context.Context, threadID string) (Result, error) {
	return m.delete(ctx, threadID, "")
}

// DeleteOwnedThread removes the checkpoints and pending writes of threadID
// owned by userEmail, leaving other owners' records in place.
func (m *Manager) DeleteOwnedThread(ctx context.Context, threadID, userEmail string) (Result, error) {
	if err := (store.Scope{ThreadID: threadID, UserEmail: userEmail}).Validate(); err != nil {
		return Result{}, err
	}
	return m.delete(ctx, threadID, userEmail)
}

func (m *Manager) delete(ctx context.Context, threadID, userEmail string) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "delete_thread", threadID,
		attribute.Bool("delete.owner_scoped", userEmail != ""))
	defer func() {
		span.SetAttributes(
			attribute.Int64("delete.checkpoints", res.Checkpoints),
			attribute.Int64("delete.checkpoint_writes", res.Writes),
		)
		telemetry.EndSpan(span, err)
	}()

	if threadID == "" {
		return Result{}, fmt.Errorf("%w: thread_id is required", store.ErrInvalidScope)
	}

	res.Checkpoints, err = m.deleter.DeleteCheckpoints(ctx, threadID, userEmail)
	m.recorder.RecordDeleted(ctx, store.DefaultCheckpointsCollection, res.Checkpoints)
	if err != nil {
		return m.fail(threadID, res, err)
	}

	res.Writes, err = m.deleter.DeleteWrites(ctx, threadID, userEmail)
	m.recorder.RecordDeleted(ctx, store.DefaultWritesCollection, res.Writes)
	if err != nil {
		return m.fail(threadID, res, err)
	}

	if res.Total() == 0 {
		m.logger.Debug("delete thread %s: no records matched", threadID)
		return res, store.ErrNotFound
	}
	m.logger.Info("deleted thread %s: %d checkpoint(s), %d write(s)", threadID, res.Checkpoints, res.Writes)
	return res, nil
}

func (m *Manager) fail(threadID string, completed Result, err error) (Result, error) {
	if completed.Total() > 0 {
		err = &PartialDeleteError{ThreadID: threadID, Completed: completed, Err: err}
	}
	m.logger.Warn("delete thread %s failed: %v", threadID, err)
	return completed, err
}
