package bufferpool

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure kinds a buffer pool operation can return.
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota

	// InputError: null pool, null handle, invalid capacity.
	ErrCodeInputError

	// FileNotFound: underlying page file cannot be opened.
	ErrCodeFileNotFound

	// ReadNonExistingPage: read requested for a page beyond file extent.
	ErrCodeReadNonExistingPage

	// WriteFailed: block write rejected by the storage manager.
	ErrCodeWriteFailed

	// PoolExhausted: all frames are pinned, no victim selectable.
	ErrCodePoolExhausted

	// PinnedOnShutdown: shutdown attempted with outstanding pins.
	ErrCodePinnedOnShutdown
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeInputError:
		return "InputError"
	case ErrCodeFileNotFound:
		return "FileNotFound"
	case ErrCodeReadNonExistingPage:
		return "ReadNonExistingPage"
	case ErrCodeWriteFailed:
		return "WriteFailed"
	case ErrCodePoolExhausted:
		return "PoolExhausted"
	case ErrCodePinnedOnShutdown:
		return "PinnedOnShutdown"
	default:
		return "Unknown"
	}
}

// BufferPoolError is the error type returned by every pool operation that
// fails. It carries enough context (op, code, wrapped cause) to let callers
// branch on ErrorCode without string-matching Error().
type BufferPoolError struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *BufferPoolError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on ErrorCode alone, ignoring Op/Message/Err.
func (e *BufferPoolError) Is(target error) bool {
	t, ok := target.(*BufferPoolError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newBufferPoolError(code ErrorCode, op, message string, err error) *BufferPoolError {
	return &BufferPoolError{Code: code, Op: op, Message: message, Err: err}
}

func errInputError(op, message string) *BufferPoolError {
	return newBufferPoolError(ErrCodeInputError, op, message, nil)
}

func errFileNotFound(op, name string, err error) *BufferPoolError {
	return newBufferPoolError(ErrCodeFileNotFound, op, fmt.Sprintf("cannot open page file %q", name), err)
}

func errReadNonExistingPage(op string, pageID PageID, err error) *BufferPoolError {
	return newBufferPoolError(ErrCodeReadNonExistingPage, op, fmt.Sprintf("page %d does not exist", pageID), err)
}

func errWriteFailed(op string, pageID PageID, err error) *BufferPoolError {
	return newBufferPoolError(ErrCodeWriteFailed, op, fmt.Sprintf("failed to write back page %d", pageID), err)
}

func errPoolExhausted(op string) *BufferPoolError {
	return newBufferPoolError(ErrCodePoolExhausted, op, "no unpinned frame available for eviction", nil)
}

func errPinnedOnShutdown(op string, pinned int) *BufferPoolError {
	return newBufferPoolError(ErrCodePinnedOnShutdown, op, fmt.Sprintf("%d frame(s) still pinned", pinned), nil)
}

// IsErrorCode reports whether err is (or wraps) a *BufferPoolError carrying code.
func IsErrorCode(err error, code ErrorCode) bool {
	var bpe *BufferPoolError
	if errors.As(err, &bpe) {
		return bpe.Code == code
	}
	return false
}

// GetErrorCode extracts the ErrorCode from err, or ErrCodeUnknown if err is
// not (or does not wrap) a *BufferPoolError.
func GetErrorCode(err error) ErrorCode {
	var bpe *BufferPoolError
	if errors.As(err, &bpe) {
		return bpe.Code
	}
	return ErrCodeUnknown
}
