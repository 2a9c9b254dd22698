package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Scheduler.Start when the scheduler is running
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrDuplicateKey is returned by a MessageStore when the id is already stored
	ErrDuplicateKey = errors.New("duplicate message id")
)

// AuthError reports a failed credential acquisition
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "acquire credential: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a failed provider fetch
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return "fetch messages: " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// SendError reports a failed provider send
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "send mail: " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// MalformedMessageError means the raw message has no identity
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string { return "malformed message: " + e.Reason }

// ValidationError means a field is present with the wrong type or format
type ValidationError struct {
	MessageID string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("message %s: invalid %s: %s", e.MessageID, e.Field, e.Reason)
}

// RetrievalError aborts a whole pipeline run
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return "retrieval failed: " + e.Err.Error() }
func (e *RetrievalError) Unwrap() error { return e.Err }
