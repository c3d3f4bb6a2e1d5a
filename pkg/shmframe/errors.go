package shmframe

import "fmt"

// ErrorCode identifies a class of block error.
type ErrorCode string

// ErrorCode constants for block errors.
const (
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeNotReady          ErrorCode = "NOT_READY"
	CodeCorrupt           ErrorCode = "CORRUPT"
	CodeInvalidName       ErrorCode = "INVALID_NAME"
	CodeInvalidGeometry   ErrorCode = "INVALID_GEOMETRY"
	CodeExistential       ErrorCode = "EXISTENTIAL"
	CodePoisoned          ErrorCode = "POISONED"
	CodeNotOwner          ErrorCode = "NOT_OWNER"
	CodeClosed            ErrorCode = "CLOSED"
	CodeFrameSizeMismatch ErrorCode = "FRAME_SIZE_MISMATCH"
	CodeBlockNotActive    ErrorCode = "BLOCK_NOT_ACTIVE"
	CodeNoNewFrame        ErrorCode = "NO_NEW_FRAME"
	CodeNoFrame           ErrorCode = "NO_FRAME"
	CodeFrameOverwritten  ErrorCode = "FRAME_OVERWRITTEN"
	CodeInternal          ErrorCode = "INTERNAL"
)

// Sentinel errors. Use errors.Is to match; errors returned by this package
// carry the block name and cause but compare equal by code.
var (
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists, Message: "block already exists"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "block not found"}
	ErrNotReady          = &Error{Code: CodeNotReady, Message: "block is still being initialised"}
	ErrCorrupt           = &Error{Code: CodeCorrupt, Message: "block header is invalid"}
	ErrInvalidName       = &Error{Code: CodeInvalidName, Message: "invalid block name"}
	ErrInvalidGeometry   = &Error{Code: CodeInvalidGeometry, Message: "invalid frame geometry"}
	ErrExistential       = &Error{Code: CodeExistential, Message: "block is owned by another live producer"}
	ErrPoisoned          = &Error{Code: CodePoisoned, Message: "block is poisoned"}
	ErrNotOwner          = &Error{Code: CodeNotOwner, Message: "handle does not own the block"}
	ErrClosed            = &Error{Code: CodeClosed, Message: "handle is closed"}
	ErrFrameSizeMismatch = &Error{Code: CodeFrameSizeMismatch, Message: "frame shape does not match block"}
	ErrBlockNotActive    = &Error{Code: CodeBlockNotActive, Message: "block is not active"}
	ErrNoNewFrame        = &Error{Code: CodeNoNewFrame, Message: "no new frame"}
	ErrNoFrame           = &Error{Code: CodeNoFrame, Message: "no frame has been read yet"}
	ErrFrameOverwritten  = &Error{Code: CodeFrameOverwritten, Message: "frame slot was overwritten"}
)

// Error is the error type returned by block operations.
type Error struct {
	Code    ErrorCode
	Name    string
	Message string
	Cause   error
}

func newError(code ErrorCode, name, message string, cause error) *Error {
	return &Error{Code: code, Name: name, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Name != "" {
		msg = fmt.Sprintf("block %q: %s", e.Name, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}
