package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/docsync/core"
)

// Key prefixes for different data types
const (
	taskRecordPrefix  = "tskrec"
	vectorPointPrefix = "vecpnt"
)

// makeTaskKey generates a key for a task record by ID.
func makeTaskKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", taskRecordPrefix, id))
}

// makePointKey generates a composite key for a vector point.
// Format: prefix:collectionID:pointID
func makePointKey(collectionID string, id core.ID) []byte {
	prefix := fmt.Sprintf("%s:%s:", vectorPointPrefix, collectionID)
	prefixBytes := []byte(prefix)
	buf := make([]byte, len(prefixBytes)+8)
	offset := copy(buf, prefixBytes)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeCollectionPrefix generates the scan prefix for all points in a collection.
func makeCollectionPrefix(collectionID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", vectorPointPrefix, collectionID))
}
