// Package types holds the small, dependency-free value types shared across
// ledgerdb's storage, key-management, writer, reader, and processor layers.
package types

import (
	"encoding/binary"
	"fmt"
)

// StreamID is the 128-bit identifier of a logical stream. It is carried as a
// high/low pair rather than [16]byte so callers can build one from two
// uint64s (e.g. the two halves of a UUID) without a conversion helper.
type StreamID struct {
	Hi uint64
	Lo uint64
}

// NewStreamID builds a StreamID from its high and low 64-bit halves.
func NewStreamID(hi, lo uint64) StreamID {
	return StreamID{Hi: hi, Lo: lo}
}

// StreamIDFromBytes decodes a 16-byte big-endian stream ID, as produced by
// Bytes. Any length other than 16 bytes returns an error.
func StreamIDFromBytes(b []byte) (StreamID, error) {
	if len(b) != 16 {
		return StreamID{}, fmt.Errorf("types: stream id must be 16 bytes, got %d", len(b))
	}
	return StreamID{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// Bytes returns the 16-byte big-endian encoding of the stream id. This is the
// encoding used as the key prefix in the stream_index namespace and as the
// AAD/prefix for per-stream encryption.
func (s StreamID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], s.Hi)
	binary.BigEndian.PutUint64(b[8:16], s.Lo)
	return b
}

// String renders the stream id as a 32-character hex string.
func (s StreamID) String() string {
	b := s.Bytes()
	return fmt.Sprintf("%x", b[:])
}

// StreamVersion is a stream-local, 1-indexed, nonzero event position.
type StreamVersion uint32

// Valid reports whether the version satisfies the nonzero invariant every
// stream version must hold.
func (v StreamVersion) Valid() bool {
	return v != 0
}

// ExpectedVersion is the optimistic-concurrency hint a caller attaches to an
// append. Auto defers to the writer's prefix-scan convenience (see
// bstore.Environment.NextVersion); Exact pins the append to a specific, caller-chosen
// version and is the only form the core Writer.Append algorithm consumes
// directly.
type ExpectedVersion struct {
	auto  bool
	exact StreamVersion
}

// Auto requests "the next version of this stream", resolved via a
// prefix-scan of stream_index immediately before the write rather than
// derived from the global sequence.
func Auto() ExpectedVersion { return ExpectedVersion{auto: true} }

// Exact pins the append to precisely this version.
func Exact(v StreamVersion) ExpectedVersion { return ExpectedVersion{exact: v} }

// IsAuto reports whether this is the Auto variant.
func (e ExpectedVersion) IsAuto() bool { return e.auto }

// Version returns the pinned version. Only meaningful when IsAuto is false.
func (e ExpectedVersion) Version() StreamVersion { return e.exact }

// GlobalSeq is the 64-bit, strictly increasing, process-wide append counter.
type GlobalSeq = uint64

// ConsumerID is the opaque identifier a processor's cursor is keyed by,
// typically derived by the caller hashing a human-readable consumer name.
type ConsumerID = uint64
