package bstore

import (
	"github.com/cuemby/ledgerdb/pkg/types"
)

// NextVersion is an advisory convenience for callers who don't want to track
// per-stream versions themselves: it prefix-scans stream_index for the
// highest version currently recorded under streamID and returns one past it
// (or 1 if the stream has no events yet).
//
// This is racy by construction — nothing stops a concurrent writer from
// claiming the same version between this call returning and the caller's
// own Append landing — and is deliberately not folded into Writer.Append
// itself, which resolves conflicts inside one write transaction instead.
// Callers that need a strong guarantee should read the current max version
// inside their own write transaction rather than trust this helper's
// result.
func (e *Environment) NextVersion(streamID types.StreamID) (types.StreamVersion, error) {
	var next types.StreamVersion
	err := e.View(func(txn *ReadTxn) error {
		idx := txn.Bucket(StreamIndexBucket)
		prefix := StreamIndexPrefix(streamID)
		cursor := idx.Cursor()

		var highest types.StreamVersion
		for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
			_, version, ok := DecodeStreamIndexKey(k)
			if ok && version > highest {
				highest = version
			}
		}
		next = highest + 1
		return nil
	})
	return next, err
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
