package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// MembershipHash hashes a cluster's current member chunk ids, sorted
// for order independence. A cluster's stored membership_hash equals
// MembershipHash(currentMembers) exactly when it isn't stale.
func MembershipHash(chunkIDs []string) string {
	sorted := make([]string, len(chunkIDs))
	copy(sorted, chunkIDs)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}
