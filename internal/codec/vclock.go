package codec

import (
	"encoding/json"

	"github.com/ecmem/engine/internal/vclock"
)

// VClockToJSON renders a vector clock as a compact JSON object for the
// chunks table's vector_clock column.
func VClockToJSON(c vclock.Clock) ([]byte, error) {
	if c == nil {
		c = vclock.New()
	}
	return json.Marshal(c)
}

// JSONToVClock parses a vector clock previously written by VClockToJSON.
// An empty or null blob decodes to an empty clock rather than an error.
func JSONToVClock(b []byte) (vclock.Clock, error) {
	if len(b) == 0 || string(b) == "null" {
		return vclock.New(), nil
	}
	var c vclock.Clock
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c == nil {
		c = vclock.New()
	}
	return c, nil
}
