package store

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Checkpoint represents a saved state of a thread at a specific point in execution
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	UserEmail string          `json:"user_email"`
	ID        string          `json:"checkpoint_id"`
	ParentID  string          `json:"parent_checkpoint_id,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Config returns the scope addressing this checkpoint
func (c *Checkpoint) Config() Scope {
	return Scope{ThreadID: c.ThreadID, UserEmail: c.UserEmail, CheckpointID: c.ID}
}

// ParentConfig returns the scope of the parent checkpoint, or nil for the first checkpoint of a thread
func (c *Checkpoint) ParentConfig() *Scope {
	if c.ParentID == "" {
		return nil
	}
	return &Scope{ThreadID: c.ThreadID, UserEmail: c.UserEmail, CheckpointID: c.ParentID}
}

// PendingWrite is a provisional state delta recorded against a checkpoint by a task.
// It does not advance the checkpoint chain.
type PendingWrite struct {
	ThreadID     string          `json:"thread_id"`
	UserEmail    string          `json:"user_email"`
	CheckpointID string          `json:"checkpoint_id"`
	TaskID       string          `json:"task_id"`
	Index        int             `json:"idx"`
	Channel      string          `json:"channel"`
	Value        json.RawMessage `json:"value,omitempty"`
}

// Metadata is the read-time metadata section of a tuple
type Metadata struct {
	Timestamp time.Time      `json:"ts"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// CheckpointTuple is the full read-time composite of a checkpoint. It is never stored.
type CheckpointTuple struct {
	Config        Scope          `json:"config"`
	Checkpoint    *Checkpoint    `json:"checkpoint"`
	Metadata      Metadata       `json:"metadata"`
	ParentConfig  *Scope         `json:"parent_config,omitempty"`
	PendingWrites []PendingWrite `json:"pending_writes"`
}

// NewTuple assembles a tuple from a checkpoint and the writes recorded against it
func NewTuple(cp *Checkpoint, writes []PendingWrite) *CheckpointTuple {
	if writes == nil {
		writes = []PendingWrite{}
	}
	return &CheckpointTuple{
		Config:        cp.Config(),
		Checkpoint:    cp,
		Metadata:      Metadata{Timestamp: cp.Timestamp, Extra: cp.Metadata},
		ParentConfig:  cp.ParentConfig(),
		PendingWrites: writes,
	}
}

// NewCheckpointID returns a time-ordered checkpoint id.
// UUIDv7 strings sort lexicographically in creation order.
func NewCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SortWrites orders pending writes by task id, then index
func SortWrites(writes []PendingWrite) {
	slices.SortStableFunc(writes, func(a, b PendingWrite) int {
		if c := strings.Compare(a.TaskID, b.TaskID); c != 0 {
			return c
		}
		return a.Index - b.Index
	})
}
