package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

var (
	// ErrBatchInProgress is returned by ProcessPending while another batch
	// is running.
	ErrBatchInProgress = errors.New("batch already in progress")

	// ErrStopped is returned once the dispatcher has been stopped.
	ErrStopped = errors.New("dispatcher stopped")
)

// UnsupportedActionError reports an action type with no registered handler.
type UnsupportedActionError struct {
	Type string
	Seq  int64
}

// Error implements the error interface.
func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action type %q", e.Type)
}

// HandlerExecutionError wraps a failure raised by a handler.
type HandlerExecutionError struct {
	Type string
	Seq  int64
	Err  error
}

// Error implements the error interface.
func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("action %s#%d failed: %v", e.Type, e.Seq, e.Err)
}

// Unwrap returns the handler's error.
func (e *HandlerExecutionError) Unwrap() error {
	return e.Err
}

// BatchError reports an aborted batch.
//
// Failed is the action that failed. Dropped lists the actions after it that
// never ran. The context was not written back.
type BatchError struct {
	BatchID string
	Failed  ir.Action
	Dropped []ir.Action
	Err     error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if len(e.Dropped) == 0 {
		return fmt.Sprintf("batch %s aborted: %v", e.BatchID, e.Err)
	}
	return fmt.Sprintf("batch %s aborted, %d action(s) dropped: %v", e.BatchID, len(e.Dropped), e.Err)
}

// Unwrap returns the cause.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsUnsupportedAction reports whether err wraps an UnsupportedActionError.
func IsUnsupportedAction(err error) bool {
	var ue *UnsupportedActionError
	return errors.As(err, &ue)
}

// IsHandlerError reports whether err wraps a HandlerExecutionError.
func IsHandlerError(err error) bool {
	var he *HandlerExecutionError
	return errors.As(err, &he)
}
