// Package envelope defines the structurally-checkable on-disk frame stored
// in the events_log namespace: a fixed binary header (magic, format
// version, kind, stream id, stream version) followed by a kind-specific
// body and a trailing CRC32C checksum. Corruption anywhere in the frame — a
// flipped magic byte, a truncated body, a mismatched checksum — is caught
// before the bytes are ever handed to a caller.
//
// The layout is deliberately flat binary rather than a self-describing
// format like JSON: Decode's Record.Inline aliases the input slice directly
// instead of allocating a copy, which is what lets an unencrypted inline
// read stay zero-copy all the way from the backend's mapped memory to the
// caller.
package envelope

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/types"
)

// Magic identifies an envelope frame.
var Magic = [4]byte{'L', 'E', 'D', '1'}

// FormatVersion is bumped whenever the frame layout changes incompatibly.
const FormatVersion = 1

// headerLen is magic(4) + version(1) + kind(1) + stream id(16) + stream version(4).
const headerLen = 4 + 1 + 1 + 16 + 4
const crcLen = 4
const blobBodyLen = 32 + 8 // hash + length

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// PayloadKind distinguishes an inline payload from a blob-sidecar reference.
type PayloadKind uint8

const (
	// KindInline means Inline carries the event bytes directly.
	KindInline PayloadKind = 1
	// KindBlobRef means the event bytes live in the blobs namespace under
	// BlobHash, and BlobLength records their length.
	KindBlobRef PayloadKind = 2
)

// InlineThreshold is the payload size, in bytes, at or under which a writer
// routes a payload inline rather than into the blob sidecar.
const InlineThreshold = 2048

// Record is the logical content of one events_log entry: which stream and
// version it belongs to, and either its bytes or a reference to them.
//
// Inline, when returned by Decode, aliases the frame slice passed in —
// callers that need the bytes to outlive the backing transaction must copy
// them first.
type Record struct {
	StreamID   types.StreamID
	Version    types.StreamVersion
	Kind       PayloadKind
	Inline     []byte
	BlobHash   [32]byte
	BlobLength uint64
}

// Encode serializes rec into a checksummed envelope frame.
func Encode(rec Record) ([]byte, error) {
	var bodyLen int
	switch rec.Kind {
	case KindInline:
		bodyLen = 4 + len(rec.Inline)
	case KindBlobRef:
		bodyLen = blobBodyLen
	default:
		return nil, errors.New(errors.KindSerializationFailed, "unknown payload kind")
	}

	frame := make([]byte, headerLen+bodyLen+crcLen)
	copy(frame[0:4], Magic[:])
	frame[4] = FormatVersion
	frame[5] = byte(rec.Kind)
	idBytes := rec.StreamID.Bytes()
	copy(frame[6:22], idBytes[:])
	binary.BigEndian.PutUint32(frame[22:26], uint32(rec.Version))

	body := frame[headerLen : headerLen+bodyLen]
	switch rec.Kind {
	case KindInline:
		binary.BigEndian.PutUint32(body[0:4], uint32(len(rec.Inline)))
		copy(body[4:], rec.Inline)
	case KindBlobRef:
		copy(body[0:32], rec.BlobHash[:])
		binary.BigEndian.PutUint64(body[32:40], rec.BlobLength)
	}

	sum := crc32.Checksum(frame[:headerLen+bodyLen], crcTable)
	binary.BigEndian.PutUint32(frame[headerLen+bodyLen:], sum)
	return frame, nil
}

// Decode validates and parses a checksummed envelope frame. A frame (or an
// inline body) shorter than its fixed minimum returns KindInvalidLength;
// every other structural failure (bad magic, unsupported version, unknown
// payload kind, body length mismatch, or checksum mismatch) returns
// KindCorruptRecord.
func Decode(frame []byte) (Record, error) {
	if len(frame) < headerLen+crcLen {
		return Record{}, errors.InvalidLength("envelope frame", len(frame), headerLen+crcLen)
	}
	if frame[0] != Magic[0] || frame[1] != Magic[1] || frame[2] != Magic[2] || frame[3] != Magic[3] {
		return Record{}, errors.New(errors.KindCorruptRecord, "bad envelope magic")
	}
	if frame[4] != FormatVersion {
		return Record{}, errors.New(errors.KindCorruptRecord, "unsupported envelope format version")
	}

	kind := PayloadKind(frame[5])
	streamID, err := types.StreamIDFromBytes(frame[6:22])
	if err != nil {
		return Record{}, errors.Wrap(errors.KindCorruptRecord, "decode envelope stream id", err)
	}
	version := types.StreamVersion(binary.BigEndian.Uint32(frame[22:26]))

	rest := frame[headerLen:]
	if len(rest) < crcLen {
		return Record{}, errors.InvalidLength("envelope body", len(rest), crcLen)
	}

	var bodyLen int
	switch kind {
	case KindInline:
		if len(rest) < 4+crcLen {
			return Record{}, errors.InvalidLength("inline envelope body", len(rest), 4+crcLen)
		}
		bodyLen = 4 + int(binary.BigEndian.Uint32(rest[0:4]))
	case KindBlobRef:
		bodyLen = blobBodyLen
	default:
		return Record{}, errors.New(errors.KindCorruptRecord, "unknown envelope payload kind")
	}

	if len(rest) != bodyLen+crcLen {
		return Record{}, errors.New(errors.KindCorruptRecord, "envelope length mismatch")
	}

	wantSum := binary.BigEndian.Uint32(rest[bodyLen:])
	gotSum := crc32.Checksum(frame[:headerLen+bodyLen], crcTable)
	if gotSum != wantSum {
		return Record{}, errors.New(errors.KindCorruptRecord, "envelope checksum mismatch")
	}

	rec := Record{StreamID: streamID, Version: version, Kind: kind}
	body := rest[:bodyLen]
	switch kind {
	case KindInline:
		rec.Inline = body[4:]
	case KindBlobRef:
		copy(rec.BlobHash[:], body[0:32])
		rec.BlobLength = binary.BigEndian.Uint64(body[32:40])
	}
	return rec, nil
}
