package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/vclock"
)

func TestVClockJSON_RoundTrips(t *testing.T) {
	c := vclock.Clock{"agent-a": 3, "agent-b": 7}

	data, err := VClockToJSON(c)
	require.NoError(t, err)

	got, err := JSONToVClock(data)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestJSONToVClock_EmptyBlobIsEmptyClock(t *testing.T) {
	got, err := JSONToVClock(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = JSONToVClock([]byte("null"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
