package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrSessionNotFound    = fmt.Errorf("session not found")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrConsoleUnavailable = fmt.Errorf("console backend unavailable")
	ErrTurnInFlight       = fmt.Errorf("a turn is already streaming")
	ErrEmptyMessage       = fmt.Errorf("message content is empty")
	ErrNoSession          = fmt.Errorf("no session bound")
	ErrStreamClosed       = fmt.Errorf("stream connection closed")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrHistoryStore       = fmt.Errorf("history store failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Console.AppendMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeConsoleUnavailable ErrorCode = "CONSOLE_UNAVAILABLE"
	CodeTurnInFlight       ErrorCode = "TURN_IN_FLIGHT"
	CodeEmptyMessage       ErrorCode = "EMPTY_MESSAGE"
	CodeNoSession          ErrorCode = "NO_SESSION"
	CodeStreamClosed       ErrorCode = "STREAM_CLOSED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeHistoryStore       ErrorCode = "HISTORY_STORE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrRateLimit:          CodeRateLimit,
	ErrConsoleUnavailable: CodeConsoleUnavailable,
	ErrTurnInFlight:       CodeTurnInFlight,
	ErrEmptyMessage:       CodeEmptyMessage,
	ErrNoSession:          CodeNoSession,
	ErrStreamClosed:       CodeStreamClosed,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrHistoryStore:       CodeHistoryStore,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
