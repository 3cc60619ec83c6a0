package protocol

import (
	"errors"

	"github.com/zeusync/scenesync/internal/core/store"
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrUnknownOp        = errors.New("unknown frame op")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSubscriptionGone = errors.New("subscription not found")
)

// ErrorCode is the numeric form of an error carried in an error frame.
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectionClosed ErrorCode = 1001
	ErrorCodeUnauthorized     ErrorCode = 1008

	// Frame error codes (3000-3999)

	ErrorCodeInvalidFrame   ErrorCode = 3003
	ErrorCodeFrameTooLarge  ErrorCode = 3004
	ErrorCodeUnknownOp      ErrorCode = 3005
	ErrorCodeSubscriptionNF ErrorCode = 3006

	// Scene error codes (6000-6999)

	ErrorCodeSceneNotFound ErrorCode = 6001
	ErrorCodeEmptySceneID  ErrorCode = 6002
	ErrorCodeEmptyCanvas   ErrorCode = 6003
	ErrorCodeInvalidJSON   ErrorCode = 6004

	// Store error codes (7000-7999)

	ErrorCodeStoreClosed ErrorCode = 7002
	ErrorCodeStoreFailed ErrorCode = 7003

	ErrorCodeUnknownError ErrorCode = 9999
)

var errorCodeMap = map[error]ErrorCode{
	ErrConnectionClosed: ErrorCodeConnectionClosed,
	ErrUnauthorized:     ErrorCodeUnauthorized,
	ErrInvalidFrame:     ErrorCodeInvalidFrame,
	ErrFrameTooLarge:    ErrorCodeFrameTooLarge,
	ErrUnknownOp:        ErrorCodeUnknownOp,
	ErrSubscriptionGone: ErrorCodeSubscriptionNF,

	store.ErrNotFound:     ErrorCodeSceneNotFound,
	store.ErrEmptySceneID: ErrorCodeEmptySceneID,
	store.ErrEmptyCanvas:  ErrorCodeEmptyCanvas,
	store.ErrInvalidJSON:  ErrorCodeInvalidJSON,
	store.ErrClosed:       ErrorCodeStoreClosed,
}

// Error is the payload of an error frame.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap maps the code back to the sentinel it was built from, so callers on
// the far side of the wire can still use errors.Is.
func (e *Error) Unwrap() error {
	for sentinel, code := range errorCodeMap {
		if code == e.Code {
			return sentinel
		}
	}
	return nil
}

// GetErrorCode returns the code for err, looking through wrapping.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeStoreFailed
}

// IsFrameError reports whether err came from a malformed frame rather than
// the transport.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrInvalidFrame) || errors.Is(err, ErrUnknownOp)
}

// WrapError converts err into its wire form.
func WrapError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: GetErrorCode(err), Message: err.Error()}
}
