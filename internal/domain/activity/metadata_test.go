package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTripKnownShapes(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
	}{
		{
			name: "auth",
			meta: AuthMetadata{Method: "password", IPAddress: "10.0.0.4", MFAUsed: true},
		},
		{
			name: "request",
			meta: RequestMetadata{RequestID: "req-81", Method: "POST", Path: "/api/v1/tokens", StatusCode: 201},
		},
		{
			name: "blockchain",
			meta: BlockchainMetadata{Network: "mainnet", TxHash: "0xabc", BlockNumber: 19_442_131},
		},
		{
			name: "financial",
			meta: FinancialMetadata{Amount: "2500.00", Currency: "USD", ApprovalID: "apr-42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeMetadata(tt.meta)
			require.NoError(t, err)

			decoded, err := DecodeMetadata(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.meta, decoded)
		})
	}
}

func TestDecodeMetadataUnknownKind(t *testing.T) {
	raw := []byte(`{"kind":"telemetry","data":{"sensor":"7b","reading":42.5}}`)

	decoded, err := DecodeMetadata(raw)
	require.NoError(t, err)

	unknown, ok := decoded.(UnknownMetadata)
	require.True(t, ok, "unrecognized kinds must decode as UnknownMetadata")
	assert.Equal(t, "7b", unknown["sensor"])
	assert.Equal(t, "unknown", unknown.Kind())
}

func TestDecodeMetadataPlainObject(t *testing.T) {
	raw := []byte(`{"order_id":"ord-77","region":"eu-west","items":3}`)

	decoded, err := DecodeMetadata(raw)
	require.NoError(t, err)

	unknown, ok := decoded.(UnknownMetadata)
	require.True(t, ok, "plain key-value metadata must decode as UnknownMetadata")
	assert.Equal(t, "ord-77", unknown["order_id"])
	assert.Equal(t, "eu-west", unknown["region"])
	assert.Equal(t, float64(3), unknown["items"])

	// Same for objects whose kind key is not an envelope discriminator.
	decoded, err = DecodeMetadata([]byte(`{"kind":"deployment","region":"eu"}`))
	require.NoError(t, err)
	unknown, ok = decoded.(UnknownMetadata)
	require.True(t, ok)
	assert.Equal(t, "deployment", unknown["kind"])
	assert.Equal(t, "eu", unknown["region"])
}

func TestEncodeMetadataNil(t *testing.T) {
	raw, err := EncodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	decoded, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}
