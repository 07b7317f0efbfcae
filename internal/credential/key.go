package credential

import (
	"crypto/sha256"
	"encoding/hex"
)

// LookupKey derives the storage/cache key for a (userID, teamID) pair.
// Raw identifiers never appear in durable key listings; the key is a pure
// function of its inputs, so identical pairs always address the same record.
func LookupKey(namespace, teamID, userID string) string {
	sum := sha256.Sum256([]byte(namespace + ":" + teamID + ":" + userID))
	return hex.EncodeToString(sum[:])
}
