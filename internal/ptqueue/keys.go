package ptqueue

import (
	"encoding/binary"
	"fmt"

	"github.com/wharfq/wharf/pkg/id"
)

// Key layout, mirroring the sortable-key idiom used across the storage
// engine: ns/{namespace}/ptq/{destination}/{section}/...
const (
	sectionMsg    = "msg/"
	sectionCursor = "cursor/"
	sectionMeta   = "meta/"
)

func destPrefix(namespace, destination string) string {
	return fmt.Sprintf("ns/%s/ptq/%s/", namespace, destination)
}

// msgKey returns the durable storage key for a message body.
func msgKey(namespace, destination string, msgID id.ID) []byte {
	prefix := destPrefix(namespace, destination) + sectionMsg
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], msgID[:])
	return key
}

func msgPrefix(namespace, destination string) []byte {
	return []byte(destPrefix(namespace, destination) + sectionMsg)
}

// cursorKey returns the sortable key for a pending-cursor entry, ordered by
// a monotonic sequence so iteration matches arrival order (FIFO).
func cursorKey(namespace, destination string, seq uint64) []byte {
	prefix := destPrefix(namespace, destination) + sectionCursor
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func cursorPrefix(namespace, destination string) []byte {
	return []byte(destPrefix(namespace, destination) + sectionCursor)
}

func cursorMetaKey(namespace, destination string) []byte {
	return []byte(destPrefix(namespace, destination) + sectionMeta + "cursor_seq")
}

// keyRange returns the [start, end) bounds for scanning everything under prefix.
func keyRange(prefix []byte) (start, end []byte) {
	start = prefix
	end = make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return start, end
}
