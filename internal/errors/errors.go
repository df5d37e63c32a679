package errors

import (
	"errors"
)

// Sentinel errors for the governance pipeline.
var (
	// ErrInvalidInput - payload failed shape validation (400 on the API, step aborted in the orchestrator)
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied - role lacks the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrApprovalRequired - a human approval request was filed; callers may also match ErrPermissionDenied
	ErrApprovalRequired error = &approvalError{}

	// ErrUnknownTool - no tool registered under the requested name
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidSignature - HMAC verification failed
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrReplay - envelope timestamp outside the window or nonce already seen
	ErrReplay = errors.New("replayed message")

	// ErrUnauthenticated - missing or invalid bearer token
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved - approval request already granted or denied
	ErrAlreadyResolved = errors.New("already resolved")

	// ErrConflict - duplicate registration or concurrent modification
	ErrConflict = errors.New("conflict")

	// ErrRateLimited - sender exceeded its message budget
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient - transient error, safe to retry
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)

type approvalError struct{}

func (e *approvalError) Error() string { return "approval required" }

func (e *approvalError) Is(target error) bool {
	return target == ErrPermissionDenied
}
