package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorToBytes_RoundTrips(t *testing.T) {
	v := []float32{0.1, -2.5, 3.0, 0}
	b := VectorToBytes(v)
	require.Len(t, b, len(v)*4)

	got, err := BytesToVector(b)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestBytesToVector_RejectsMisalignedLength(t *testing.T) {
	_, err := BytesToVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBytesToVector_EmptyBlobIsEmptyVector(t *testing.T) {
	got, err := BytesToVector(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
