package saver

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/smallnest/checkpointer/log"
	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Saver resolves and records checkpoints of individual threads over a store.Log.
// It holds no state of its own and is safe for concurrent use if the log is.
type Saver struct {
	log    store.Log
	logger log.Logger
	now    func() time.Time
}

// Option configures a Saver
type Option func(*Saver)

// WithLogger sets the logger used for reporting lookups and failures
func WithLogger(logger log.Logger) Option {
	return func(s *Saver) {
		s.logger = logger
	}
}

// WithClock overrides the clock used to stamp new checkpoints
func WithClock(now func() time.Time) Option {
	return func(s *Saver) {
		s.now = now
	}
}

// New creates a Saver over l
func New(l store.Log, opts ...Option) *Saver {
	s := &Saver{
		log:    l,
		logger: log.GetDefaultLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FilteredHistory is the chronological payload history of a thread
type FilteredHistory struct {
	ThreadID    string              `json:"thread_id"`
	Checkpoints []*store.Checkpoint `json:"checkpoint_data"`
}

// Write is one channel value produced by a task
type Write struct {
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value,omitempty"`
}

func (s *Saver) report(op string, scope store.Scope, err error) {
	switch {
	case err == nil:
	case store.IsNotFound(err):
		s.logger.Debug("%s: no checkpoint for thread %s", op, scope.ThreadID)
	case store.IsFault(err):
		s.logger.Warn("%s failed for thread %s: %v", op, scope.ThreadID, err)
	}
}

// GetLatest returns the newest checkpoint of the thread
func (s *Saver) GetLatest(ctx context.Context, scope store.Scope) (cp *store.Checkpoint, err error) {
	ctx, span := telemetry.StartSpan(ctx, "get_latest", scope.ThreadID)
	defer func() {
		s.report("get latest checkpoint", scope, err)
		telemetry.EndSpan(span, err)
	}()

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.log.Latest(ctx, scope.ThreadID, scope.UserEmail, "")
}

// GetLatestTuple returns the newest checkpoint of the thread with its pending writes
func (s *Saver) GetLatestTuple(ctx context.Context, scope store.Scope) (tuple *store.CheckpointTuple, err error) {
	ctx, span := telemetry.StartSpan(ctx, "get_latest_tuple", scope.ThreadID)
	defer func() {
		s.report("get latest checkpoint tuple", scope, err)
		telemetry.EndSpan(span, err)
	}()

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.tuple(ctx, scope.ThreadID, scope.UserEmail, "")
}

// GetTuple returns the checkpoint named by scope.CheckpointID. If that id is not
// stored, the nearest checkpoint before it is returned instead.
func (s *Saver) GetTuple(ctx context.Context, scope store.Scope) (tuple *store.CheckpointTuple, err error) {
	ctx, span := telemetry.StartSpan(ctx, "get_tuple", scope.ThreadID,
		attribute.String("checkpoint.id", scope.CheckpointID))
	defer func() {
		s.report("get checkpoint tuple", scope, err)
		telemetry.EndSpan(span, err)
	}()

	if err := scope.ValidateCheckpoint(); err != nil {
		return nil, err
	}
	return s.tuple(ctx, scope.ThreadID, scope.UserEmail, scope.CheckpointID)
}

func (s *Saver) tuple(ctx context.Context, threadID, userEmail, atOrBefore string) (*store.CheckpointTuple, error) {
	cp, err := s.log.Latest(ctx, threadID, userEmail, atOrBefore)
	if err != nil {
		return nil, err
	}
	if atOrBefore != "" && cp.ID != atOrBefore {
		s.logger.Debug("checkpoint %s not found in thread %s, resolved ancestor %s", atOrBefore, threadID, cp.ID)
	}

	writes, err := s.log.Writes(ctx, threadID, userEmail, cp.ID)
	if err != nil {
		return nil, err
	}
	return store.NewTuple(cp, writes), nil
}

// ListHistory yields the tuples of a thread, newest first. The sequence is
// single pass; call ListHistory again to restart it.
func (s *Saver) ListHistory(ctx context.Context, scope store.Scope) iter.Seq2[*store.CheckpointTuple, error] {
	return func(yield func(*store.CheckpointTuple, error) bool) {
		if err := scope.Validate(); err != nil {
			yield(nil, err)
			return
		}

		for cp, err := range s.log.History(ctx, scope.ThreadID, scope.UserEmail) {
			if err != nil {
				s.report("list checkpoints", scope, err)
				yield(nil, err)
				return
			}
			writes, err := s.log.Writes(ctx, cp.ThreadID, cp.UserEmail, cp.ID)
			if err != nil {
				s.report("list checkpoints", scope, err)
				yield(nil, err)
				return
			}
			if !yield(store.NewTuple(cp, writes), nil) {
				return
			}
		}
	}
}

// History collects the tuples of a thread, newest first.
// Returns store.ErrNotFound if the thread has no checkpoints.
func (s *Saver) History(ctx context.Context, scope store.Scope) (tuples []*store.CheckpointTuple, err error) {
	ctx, span := telemetry.StartSpan(ctx, "history", scope.ThreadID)
	defer func() {
		telemetry.EndSpan(span, err)
	}()

	for tuple, err := range s.ListHistory(ctx, scope) {
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, tuple)
	}
	if len(tuples) == 0 {
		s.report("list checkpoints", scope, store.ErrNotFound)
		return nil, store.ErrNotFound
	}
	return tuples, nil
}

// FilteredMessages returns the checkpoints of a thread oldest first.
// An empty history is a valid result.
func (s *Saver) FilteredMessages(ctx context.Context, scope store.Scope) (result *FilteredHistory, err error) {
	ctx, span := telemetry.StartSpan(ctx, "filtered_messages", scope.ThreadID)
	defer func() {
		telemetry.EndSpan(span, err)
	}()

	result = &FilteredHistory{ThreadID: scope.ThreadID, Checkpoints: []*store.Checkpoint{}}
	for tuple, err := range s.ListHistory(ctx, scope) {
		if err != nil {
			return nil, err
		}
		result.Checkpoints = append(result.Checkpoints, tuple.Checkpoint)
	}
	slices.Reverse(result.Checkpoints)
	return result, nil
}

// Put records a new checkpoint for the thread. An empty id is replaced with a
// generated UUIDv7 and a zero timestamp with the current time. A parent id must
// name a checkpoint already stored in the same thread.
func (s *Saver) Put(ctx context.Context, cp *store.Checkpoint) (scope store.Scope, err error) {
	ctx, span := telemetry.StartSpan(ctx, "put", cp.ThreadID)
	defer func() {
		s.report("put checkpoint", cp.Config(), err)
		telemetry.EndSpan(span, err)
	}()

	if err := cp.Config().Validate(); err != nil {
		return store.Scope{}, err
	}

	c := *cp
	if c.ID == "" {
		c.ID = store.NewCheckpointID()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now().UTC()
	}

	if c.ParentID != "" {
		parent, err := s.log.Latest(ctx, c.ThreadID, c.UserEmail, c.ParentID)
		if store.IsNotFound(err) || (err == nil && parent.ID != c.ParentID) {
			return store.Scope{}, fmt.Errorf("%w: %s in thread %s", store.ErrParentNotFound, c.ParentID, c.ThreadID)
		}
		if err != nil {
			return store.Scope{}, err
		}
	}

	if err := s.log.PutCheckpoint(ctx, &c); err != nil {
		return store.Scope{}, err
	}
	return c.Config(), nil
}

// PutWrites records the writes a task produced against the checkpoint named by scope.
// Writes are indexed in the order given.
func (s *Saver) PutWrites(ctx context.Context, scope store.Scope, taskID string, writes []Write) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "put_writes", scope.ThreadID,
		attribute.String("checkpoint.id", scope.CheckpointID))
	defer func() {
		s.report("put checkpoint writes", scope, err)
		telemetry.EndSpan(span, err)
	}()

	if err := scope.ValidateCheckpoint(); err != nil {
		return err
	}
	if taskID == "" {
		return fmt.Errorf("%w: task_id is required", store.ErrInvalidScope)
	}

	pending := make([]store.PendingWrite, len(writes))
	for i, w := range writes {
		pending[i] = store.PendingWrite{
			ThreadID:     scope.ThreadID,
			UserEmail:    scope.UserEmail,
			CheckpointID: scope.CheckpointID,
			TaskID:       taskID,
			Index:        i,
			Channel:      w.Channel,
			Value:        w.Value,
		}
	}
	return s.log.PutWrites(ctx, pending)
}
