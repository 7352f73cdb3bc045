package fabric

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"breaker open", ErrBreakerOpen, "BREAKER_OPEN"},
		{"wrapped breaker open", fmt.Errorf("submit: %w", ErrBreakerOpen), "BREAKER_OPEN"},
		{"timeout", &TimeoutError{TxID: "tx-1"}, "TIMEOUT"},
		{"chaincode", &ChaincodeError{Message: "insufficient balance"}, "CHAINCODE"},
		{"endorsement", &EndorsementError{TxID: "tx-2"}, "ENDORSEMENT"},
		{"connection", &ConnectionError{Endpoint: "peer0:7051"}, "CONNECTION"},
		{"unknown", errors.New("boom"), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(&ChaincodeError{Message: "account frozen"}), "business rejections are final")

	assert.True(t, IsRetryable(&TimeoutError{TxID: "tx-1"}))
	assert.True(t, IsRetryable(&ConnectionError{Endpoint: "peer0:7051"}))
	assert.True(t, IsRetryable(&EndorsementError{TxID: "tx-2"}))
	assert.True(t, IsRetryable(ErrBreakerOpen))
}

func TestTimeoutErrorMessageCarriesTxID(t *testing.T) {
	err := &TimeoutError{TxID: "abc123", Cause: errors.New("deadline exceeded")}
	assert.Contains(t, err.Error(), "abc123")
	assert.Contains(t, err.Error(), "outcome unknown")

	bare := &TimeoutError{Cause: errors.New("deadline exceeded")}
	assert.Contains(t, bare.Error(), "outcome unknown")
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("tls handshake failed")
	err := &ConnectionError{Endpoint: "peer0:7051", Cause: cause}
	assert.ErrorIs(t, err, cause)
}
