package store

import "fmt"

// Scope addresses a thread owned by a user, and optionally one checkpoint in it
type Scope struct {
	ThreadID     string `json:"thread_id"`
	UserEmail    string `json:"user_email"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Validate checks that the thread and owner are set
func (s Scope) Validate() error {
	if s.ThreadID == "" {
		return fmt.Errorf("%w: thread_id is required", ErrInvalidScope)
	}
	if s.UserEmail == "" {
		return fmt.Errorf("%w: user_email is required", ErrInvalidScope)
	}
	return nil
}

// ValidateCheckpoint checks that the scope names a specific checkpoint
func (s Scope) ValidateCheckpoint() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.CheckpointID == "" {
		return fmt.Errorf("%w: checkpoint_id is required", ErrInvalidScope)
	}
	return nil
}

// Thread returns the scope without a checkpoint id
func (s Scope) Thread() Scope {
	return Scope{ThreadID: s.ThreadID, UserEmail: s.UserEmail}
}
