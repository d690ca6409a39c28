// Package chatlakeerr defines the core error taxonomy shared by every
// pipeline stage, per the kinds enumerated in the specification's error
// handling design: IoError, ParseError, SchemaError, CheckpointConflict,
// QueryError, LlmError and CancelError.
package chatlakeerr

import (
	"errors"
	"fmt"
)

// IoReason enumerates the distinct filesystem-level failure reasons an
// IoError may carry.
type IoReason string

const (
	IoTimeout    IoReason = "timeout"
	IoConflict   IoReason = "conflict"
	IoDiskFull   IoReason = "disk_full"
	IoPermission IoReason = "permission"
	IoTruncated  IoReason = "truncated"
	IoOther      IoReason = "other"
)

// IoError wraps a filesystem-level failure with a classification reason.
type IoError struct {
	Reason  IoReason
	Message string
	Cause   error
}

func (e *IoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("io error (%s): %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("io error (%s): %s", e.Reason, e.Message)
}

func (e *IoError) Unwrap() error { return e.Cause }

func NewIoError(reason IoReason, message string, cause error) *IoError {
	return &IoError{Reason: reason, Message: message, Cause: cause}
}

// IsTimeout reports whether err is an IoError carrying the timeout reason.
func IsTimeout(err error) bool {
	var ioErr *IoError
	return errors.As(err, &ioErr) && ioErr.Reason == IoTimeout
}

// ParseError signals malformed input at any pipeline boundary (raw-log
// line, columnar file, LLM response).
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func NewParseError(message string, cause error) *ParseError {
	return &ParseError{Message: message, Cause: cause}
}

// SchemaError signals a record not matching any known schema or a missing
// schema version.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return fmt.Sprintf("schema error: %s", e.Message) }

func NewSchemaError(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// CheckpointConflict signals another compactor already holds the
// partition-root lock.
type CheckpointConflict struct {
	PartitionRoot string
}

func (e *CheckpointConflict) Error() string {
	return fmt.Sprintf("checkpoint conflict: another compactor holds the lock for %q", e.PartitionRoot)
}

// QueryReason enumerates why a query precondition failed.
type QueryReason string

const (
	QueryInvalidRange     QueryReason = "invalid_range"
	QueryMissingPartition QueryReason = "missing_partition"
)

// QueryError signals a query precondition failure.
type QueryError struct {
	Reason  QueryReason
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error (%s): %s", e.Reason, e.Message)
}

func NewQueryError(reason QueryReason, format string, args ...interface{}) *QueryError {
	return &QueryError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// LlmReason enumerates model-service failure classes.
type LlmReason string

const (
	LlmUnavailable        LlmReason = "unavailable"
	LlmRateLimit          LlmReason = "rate_limit"
	LlmProtocolError      LlmReason = "protocol_error"
	LlmAuthenticationError LlmReason = "authentication_error"
)

// LlmError signals a failure from the model-service client.
type LlmError struct {
	Reason  LlmReason
	Message string
	Cause   error
}

func (e *LlmError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error (%s): %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error (%s): %s", e.Reason, e.Message)
}

func (e *LlmError) Unwrap() error { return e.Cause }

func NewLlmError(reason LlmReason, message string, cause error) *LlmError {
	return &LlmError{Reason: reason, Message: message, Cause: cause}
}

// IsTransient reports whether this LlmError class should be retried.
func (e *LlmError) IsTransient() bool {
	switch e.Reason {
	case LlmUnavailable, LlmRateLimit:
		return true
	default:
		return false
	}
}

// CancelError signals graceful cancellation of an in-progress run.
type CancelError struct {
	Message string
}

func (e *CancelError) Error() string { return fmt.Sprintf("cancelled: %s", e.Message) }

func NewCancelError(message string) *CancelError { return &CancelError{Message: message} }
