// Package fabric provides the resilient gateway client used to submit and
// evaluate chaincode transactions and to stream committed chaincode events.
// One client, one gRPC connection and one circuit breaker exist per
// configured identity.
package fabric

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNotConnected = errors.New("gateway client is not connected")
	ErrBreakerOpen  = errors.New("circuit breaker is open")

	ErrMissingPeerEndpoint = errors.New("peer endpoint is required")
	ErrMissingMSPID        = errors.New("msp id is required")
	ErrMissingWalletPath   = errors.New("wallet path is required")
	ErrMissingChannel      = errors.New("channel name is required")
	ErrMissingChaincode    = errors.New("chaincode name is required")
	ErrUnknownIdentity     = errors.New("unknown identity")
)

// ConnectionError indicates the gateway or peer could not be reached.
type ConnectionError struct {
	Endpoint string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// TimeoutError indicates a submission did not complete in time. A timeout
// does not imply the transaction aborted: TxID, when set, lets the caller
// reconcile against the event stream or a chain query. Never treat it as
// a negative acknowledgement.
type TimeoutError struct {
	TxID  string
	Cause error
}

func (e *TimeoutError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("submission timed out (tx %s, outcome unknown): %v", e.TxID, e.Cause)
	}
	return fmt.Sprintf("submission timed out (outcome unknown): %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ChaincodeError carries an error reported by the on-ledger program, such
// as an insufficient balance or a frozen account.
type ChaincodeError struct {
	TxID    string
	Message string
	Cause   error
}

func (e *ChaincodeError) Error() string {
	return fmt.Sprintf("chaincode error: %s", e.Message)
}

func (e *ChaincodeError) Unwrap() error { return e.Cause }

// EndorsementError indicates the endorsement phase failed before the
// transaction was submitted for ordering.
type EndorsementError struct {
	TxID  string
	Cause error
}

func (e *EndorsementError) Error() string {
	return fmt.Sprintf("endorsement failed (tx %s): %v", e.TxID, e.Cause)
}

func (e *EndorsementError) Unwrap() error { return e.Cause }

// ErrorCode classifies a submission error for storage on the outbox row.
func ErrorCode(err error) string {
	var timeoutErr *TimeoutError
	var chaincodeErr *ChaincodeError
	var endorseErr *EndorsementError
	var connErr *ConnectionError

	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "BREAKER_OPEN"
	case errors.As(err, &timeoutErr):
		return "TIMEOUT"
	case errors.As(err, &chaincodeErr):
		return "CHAINCODE"
	case errors.As(err, &endorseErr):
		return "ENDORSEMENT"
	case errors.As(err, &connErr):
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// IsRetryable reports whether the submitter should retry the command.
// Chaincode business errors are only retried when policy marks them
// transient; everything transport-shaped is retryable. Timeouts are
// retryable because the chaincode side is idempotent on the command's
// idempotency key.
func IsRetryable(err error) bool {
	var chaincodeErr *ChaincodeError
	if errors.As(err, &chaincodeErr) {
		return false
	}
	return true
}
