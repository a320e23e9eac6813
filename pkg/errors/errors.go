// Package errors provides the error-handling conventions used across
// onemount-cachefs: typed, wrappable errors with HTTP-status-shaped codes and
// predicates for classifying an error without type-asserting on every call site.
//
// It consolidates two overlapping packages the project carried at different
// points in its history (a bare Wrap/Is/As helper package and a separate typed
// error-type package) into the one that should have existed from the start.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Unwrap unwraps an error to find the underlying cause.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// New creates a new error with the given message.
func New(message string) error {
	return stderrors.New(message)
}

// Wrap wraps an error with a message, preserving the chain for Is/As/Unwrap.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Type classifies a TypedError for the Is*Error predicates below.
type Type int

const (
	TypeUnknown Type = iota
	TypeNetwork
	TypeNotFound
	TypeAuth
	TypeValidation
	TypeOperation
	TypeTimeout
	TypeResourceBusy
	// TypeInvalidHandle covers a FilePool handle that is no longer live.
	TypeInvalidHandle
	// TypeInvalidInode covers an InodePool inode that is no longer live.
	TypeInvalidInode
	// TypeInvalidFileName covers a name that is not valid on the remote.
	TypeInvalidFileName
	// TypeFileTooLarge covers a write/populate exceeding a configured size cap.
	TypeFileTooLarge
	// TypeWriteWithoutCache covers a write attempted while caching is disabled.
	TypeWriteWithoutCache
	// TypeNonsequentialRead covers an out-of-order read on a streaming handle.
	TypeNonsequentialRead
	// TypeDownloadFailed covers a cache slot whose download exhausted retries.
	TypeDownloadFailed
	// TypeInvalidated covers a cache slot invalidated by a remote change.
	TypeInvalidated
)

func (t Type) String() string {
	switch t {
	case TypeNetwork:
		return "NetworkError"
	case TypeNotFound:
		return "NotFoundError"
	case TypeAuth:
		return "AuthError"
	case TypeValidation:
		return "ValidationError"
	case TypeOperation:
		return "OperationError"
	case TypeTimeout:
		return "TimeoutError"
	case TypeResourceBusy:
		return "ResourceBusyError"
	case TypeInvalidHandle:
		return "InvalidHandle"
	case TypeInvalidInode:
		return "InvalidInode"
	case TypeInvalidFileName:
		return "InvalidFileName"
	case TypeFileTooLarge:
		return "FileTooLarge"
	case TypeWriteWithoutCache:
		return "WriteWithoutCache"
	case TypeNonsequentialRead:
		return "NonsequentialRead"
	case TypeDownloadFailed:
		return "DownloadFailed"
	case TypeInvalidated:
		return "Invalidated"
	default:
		return "UnknownError"
	}
}

// TypedError is an error with a specific type and an HTTP-status-shaped code,
// for callers (e.g. a future FUSE adapter) that want to map it to errno/status.
type TypedError struct {
	Type       Type
	Message    string
	StatusCode int
	Err        error
}

func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *TypedError) Unwrap() error {
	return e.Err
}

func newTyped(t Type, status int, message string, err error) error {
	return &TypedError{Type: t, Message: message, StatusCode: status, Err: err}
}

func NewNetworkError(message string, err error) error {
	return newTyped(TypeNetwork, http.StatusServiceUnavailable, message, err)
}

func NewNotFoundError(message string, err error) error {
	return newTyped(TypeNotFound, http.StatusNotFound, message, err)
}

func NewAuthError(message string, err error) error {
	return newTyped(TypeAuth, http.StatusUnauthorized, message, err)
}

func NewValidationError(message string, err error) error {
	return newTyped(TypeValidation, http.StatusBadRequest, message, err)
}

func NewOperationError(message string, err error) error {
	return newTyped(TypeOperation, http.StatusInternalServerError, message, err)
}

func NewTimeoutError(message string, err error) error {
	return newTyped(TypeTimeout, http.StatusRequestTimeout, message, err)
}

func NewResourceBusyError(message string, err error) error {
	return newTyped(TypeResourceBusy, http.StatusConflict, message, err)
}

func NewInvalidHandleError(message string, err error) error {
	return newTyped(TypeInvalidHandle, http.StatusBadRequest, message, err)
}

func NewInvalidInodeError(message string, err error) error {
	return newTyped(TypeInvalidInode, http.StatusBadRequest, message, err)
}

func NewInvalidFileNameError(message string, err error) error {
	return newTyped(TypeInvalidFileName, http.StatusBadRequest, message, err)
}

func NewFileTooLargeError(message string, err error) error {
	return newTyped(TypeFileTooLarge, http.StatusRequestEntityTooLarge, message, err)
}

func NewWriteWithoutCacheError(message string, err error) error {
	return newTyped(TypeWriteWithoutCache, http.StatusPreconditionFailed, message, err)
}

func NewNonsequentialReadError(message string, err error) error {
	return newTyped(TypeNonsequentialRead, http.StatusBadRequest, message, err)
}

func NewDownloadFailedError(message string, err error) error {
	return newTyped(TypeDownloadFailed, http.StatusBadGateway, message, err)
}

func NewInvalidatedError(message string, err error) error {
	return newTyped(TypeInvalidated, http.StatusGone, message, err)
}

func typeOf(err error) (Type, bool) {
	var typed *TypedError
	if As(err, &typed) {
		return typed.Type, true
	}
	return TypeUnknown, false
}

func IsType(err error, t Type) bool {
	got, ok := typeOf(err)
	return ok && got == t
}

func IsNetworkError(err error) bool         { return IsType(err, TypeNetwork) }
func IsNotFoundError(err error) bool        { return IsType(err, TypeNotFound) }
func IsAuthError(err error) bool            { return IsType(err, TypeAuth) }
func IsValidationError(err error) bool      { return IsType(err, TypeValidation) }
func IsOperationError(err error) bool       { return IsType(err, TypeOperation) }
func IsTimeoutError(err error) bool         { return IsType(err, TypeTimeout) }
func IsResourceBusyError(err error) bool    { return IsType(err, TypeResourceBusy) }
func IsInvalidHandleError(err error) bool   { return IsType(err, TypeInvalidHandle) }
func IsInvalidInodeError(err error) bool    { return IsType(err, TypeInvalidInode) }
func IsInvalidFileNameError(err error) bool { return IsType(err, TypeInvalidFileName) }
func IsFileTooLargeError(err error) bool    { return IsType(err, TypeFileTooLarge) }
func IsWriteWithoutCacheError(err error) bool { return IsType(err, TypeWriteWithoutCache) }
func IsNonsequentialReadError(err error) bool { return IsType(err, TypeNonsequentialRead) }
func IsDownloadFailedError(err error) bool  { return IsType(err, TypeDownloadFailed) }
func IsInvalidatedError(err error) bool     { return IsType(err, TypeInvalidated) }
