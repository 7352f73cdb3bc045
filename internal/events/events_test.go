package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransferWithFees(t *testing.T) {
	payload := []byte(`{
		"from": "US A3F HBF934 0ABCD 1234",
		"to": "GB B2E HCG045 0EFGH 5678",
		"amount": "1000000",
		"fee": "2500",
		"netAmount": "997500",
		"fromBalance": "4000000",
		"toBalance": "1997500",
		"txType": "P2P",
		"idempotencyKey": "req-1"
	}`)

	decoded, err := Decode(TransferWithFeesCompleted, payload)
	require.NoError(t, err)

	transfer, ok := decoded.(*TransferCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "1000000", transfer.Amount)
	assert.Equal(t, "2500", transfer.Fee)
	assert.Equal(t, "997500", transfer.NetAmount)
	assert.Equal(t, "4000000", transfer.FromBalance)
	assert.Equal(t, "1997500", transfer.ToBalance)
	assert.Equal(t, "req-1", transfer.IdempotencyKey)
}

func TestDecodePlainTransferSharesSchema(t *testing.T) {
	decoded, err := Decode(TransferEvent, []byte(`{"from":"a","to":"b","amount":"5"}`))
	require.NoError(t, err)

	transfer, ok := decoded.(*TransferCompletedEvent)
	require.True(t, ok)
	assert.Empty(t, transfer.Fee)
	assert.Equal(t, "5", transfer.Amount)
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode("ChaincodeUpgraded", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.False(t, Known("ChaincodeUpgraded"))
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode(UserCreated, []byte(`{not json`))
	assert.Error(t, err)
}

func TestEveryNameDecodesEmptyObject(t *testing.T) {
	for _, name := range Names() {
		decoded, err := Decode(name, []byte(`{}`))
		require.NoError(t, err, name)
		require.NotNil(t, decoded, name)
	}
}

func TestLifecycleAndStatusEventsShareShapes(t *testing.T) {
	paused, err := Decode(SystemPaused, []byte(`{"actor":"org1-super-admin","reason":"upgrade"}`))
	require.NoError(t, err)
	assert.IsType(t, &SystemLifecycleEvent{}, paused)

	frozen, err := Decode(WalletFrozen, []byte(`{"accountId":"a-1","actor":"org1-admin"}`))
	require.NoError(t, err)
	assert.IsType(t, &WalletStatusEvent{}, frozen)
}
