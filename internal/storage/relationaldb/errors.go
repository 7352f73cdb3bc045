package relationaldb

import (
	"errors"
	"fmt"
)

// Error types for different categories of database errors
var (
	// Configuration errors
	ErrMissingHost           = errors.New("database host is required")
	ErrMissingDatabase       = errors.New("database name is required")
	ErrMissingUsername       = errors.New("database username is required")
	ErrInvalidPort           = errors.New("invalid database port")
	ErrInvalidMaxOpenConns   = errors.New("max open connections must be >= 0")
	ErrInvalidMaxIdleConns   = errors.New("max idle connections must be >= 0")
	ErrMaxIdleExceedsMaxOpen = errors.New("max idle connections cannot exceed max open connections")
	ErrInvalidTimeout        = errors.New("timeout must be positive")

	// Connection errors
	ErrDatabaseClosed = errors.New("database connection is closed")

	// Data errors
	ErrCommandNotFound     = errors.New("outbox command not found")
	ErrProfileNotFound     = errors.New("user profile not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrApprovalNotFound    = errors.New("pending multi-sig transaction not found")
	ErrDeploymentNotFound  = errors.New("deployment record not found")
	ErrIdempotencyNotFound = errors.New("no cached response for idempotency key")
	ErrDuplicateVote       = errors.New("voter has already voted on this transaction")

	// Lease errors
	ErrLeaseLost = errors.New("lease no longer held by this worker")

	// Checkpoint errors
	ErrCheckpointRegressed = errors.New("projector checkpoint would move backwards")
)

// ErrorType represents different categories of database errors
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConfiguration
	ErrorTypeConnection
	ErrorTypeTransaction
	ErrorTypeQuery
	ErrorTypeConstraint
	ErrorTypeSchema
)

// DatabaseError wraps an underlying error with the operation that produced
// it and a category usable for retry decisions.
type DatabaseError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
}

func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a configuration-category error.
func NewConfigurationError(op, msg string, cause error) *DatabaseError {
	return &DatabaseError{Type: ErrorTypeConfiguration, Operation: op, Message: msg, Cause: cause}
}

// NewConnectionError creates a connection-category error.
func NewConnectionError(op, msg string, cause error) *DatabaseError {
	return &DatabaseError{Type: ErrorTypeConnection, Operation: op, Message: msg, Cause: cause}
}

// NewTransactionError creates a transaction-category error.
func NewTransactionError(op, msg string, cause error) *DatabaseError {
	return &DatabaseError{Type: ErrorTypeTransaction, Operation: op, Message: msg, Cause: cause}
}

// NewQueryError creates a query-category error.
func NewQueryError(op, msg string, cause error) *DatabaseError {
	return &DatabaseError{Type: ErrorTypeQuery, Operation: op, Message: msg, Cause: cause}
}

// NewConstraintError creates a constraint-category error.
func NewConstraintError(op, msg string, cause error) *DatabaseError {
	return &DatabaseError{Type: ErrorTypeConstraint, Operation: op, Message: msg, Cause: cause}
}

// NewSchemaError creates a schema-category error.
func NewSchemaError(op, msg string, cause error) *DatabaseError {
	return &DatabaseError{Type: ErrorTypeSchema, Operation: op, Message: msg, Cause: cause}
}

// IsRetryable reports whether the error category is worth retrying from a
// worker loop. Constraint and configuration errors never are.
func IsRetryable(err error) bool {
	var dbErr *DatabaseError
	if !errors.As(err, &dbErr) {
		return false
	}
	switch dbErr.Type {
	case ErrorTypeConnection, ErrorTypeTransaction, ErrorTypeQuery:
		return true
	default:
		return false
	}
}
