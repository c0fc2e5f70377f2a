package bstore

import (
	"encoding/binary"

	"github.com/cuemby/ledgerdb/pkg/types"
)

// StreamIndexKeyLen is the fixed 20-byte width of every stream_index key:
// a 16-byte big-endian stream id followed by a 4-byte big-endian version.
const StreamIndexKeyLen = 16 + 4

// StreamIndexKey encodes (stream_id, version) as the 20-byte big-endian key
// used in the stream_index namespace. Big-endian encoding is mandatory: it
// is what makes a stream_id prefix scan yield that stream's versions in
// ascending order.
func StreamIndexKey(streamID types.StreamID, version types.StreamVersion) []byte {
	key := make([]byte, StreamIndexKeyLen)
	idBytes := streamID.Bytes()
	copy(key[0:16], idBytes[:])
	binary.BigEndian.PutUint32(key[16:20], uint32(version))
	return key
}

// StreamIndexPrefix returns the 16-byte stream id prefix shared by every
// version key belonging to streamID, for prefix iteration.
func StreamIndexPrefix(streamID types.StreamID) []byte {
	idBytes := streamID.Bytes()
	prefix := make([]byte, 16)
	copy(prefix, idBytes[:])
	return prefix
}

// DecodeStreamIndexKey splits a 20-byte stream_index key back into its
// stream id and version.
func DecodeStreamIndexKey(key []byte) (types.StreamID, types.StreamVersion, bool) {
	if len(key) != StreamIndexKeyLen {
		return types.StreamID{}, 0, false
	}
	id, err := types.StreamIDFromBytes(key[0:16])
	if err != nil {
		return types.StreamID{}, 0, false
	}
	version := types.StreamVersion(binary.BigEndian.Uint32(key[16:20]))
	return id, version, true
}

// EncodeSeq encodes a global sequence number as an 8-byte big-endian key,
// the events_log and consumer_cursors key format.
func EncodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// DecodeSeq decodes an 8-byte big-endian events_log/consumer_cursors key.
func DecodeSeq(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodeConsumerID encodes a consumer id as an 8-byte big-endian key.
func EncodeConsumerID(id types.ConsumerID) []byte {
	return EncodeSeq(id)
}

// KeystoreKey encodes a stream id as the 16-byte big-endian key used in the
// keystore namespace.
func KeystoreKey(streamID types.StreamID) []byte {
	idBytes := streamID.Bytes()
	key := make([]byte, 16)
	copy(key, idBytes[:])
	return key
}
