package embedcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixRoundTrip(t *testing.T) {
	m := [][]float32{
		{0.5, -1.25, 3e6},
		{0, 1, -0.000125},
	}
	data, err := EncodeMatrix(m)
	require.NoError(t, err)

	got, err := DecodeMatrix(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := EncodeMatrix([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)

	flipped := make([]byte, len(data))
	copy(flipped, data)
	flipped[headerSize] ^= 0xFF
	_, err = DecodeMatrix(flipped)
	require.Error(t, err, "checksum mismatch must be rejected")

	_, err = DecodeMatrix(data[:len(data)-3])
	require.Error(t, err, "truncated payload must be rejected")

	bad := make([]byte, len(data))
	copy(bad, data)
	bad[0] = 'X'
	_, err = DecodeMatrix(bad)
	require.Error(t, err, "bad magic must be rejected")
}

func TestEncodeRejectsRaggedMatrix(t *testing.T) {
	_, err := EncodeMatrix([][]float32{{1, 2}, {3}})
	require.Error(t, err)
}
