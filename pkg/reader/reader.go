// Package reader implements ledgerdb's read path: structural validation,
// transparent decryption, blob resolution, and zero-copy access to inline
// unencrypted payloads.
package reader

import (
	"encoding/binary"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/crypto"
	"github.com/cuemby/ledgerdb/pkg/envelope"
	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/keymanager"
	"github.com/cuemby/ledgerdb/pkg/types"
)

// MetricsSink receives observations from successful reads.
type MetricsSink interface {
	ObserveRead(payloadBytes int)
}

// Option configures a Reader at construction time.
type Option func(*Reader)

// WithMetrics attaches a MetricsSink that observes every successful read.
func WithMetrics(sink MetricsSink) Option {
	return func(r *Reader) { r.metrics = sink }
}

// EventView is one decoded event. Payload is the raw event bytes the
// writer was given, already decrypted and blob-resolved if needed.
//
// Borrowed reports whether Payload aliases memory owned by the backing
// transaction (true only for an unencrypted inline event, read straight out
// of the memory-mapped file with no copy) or whether it was freshly
// allocated by decryption or blob resolution (false). A caller that needs
// Payload to outlive the transaction must copy it when Borrowed is true.
type EventView struct {
	Seq      uint64
	StreamID types.StreamID
	Version  types.StreamVersion
	Payload  []byte
	Borrowed bool
}

// Reader reads events from one Environment.
type Reader struct {
	env     *bstore.Environment
	km      *keymanager.KeyManager
	metrics MetricsSink
}

// New builds a Reader over env.
func New(env *bstore.Environment, opts ...Option) *Reader {
	r := &Reader{env: env, km: keymanager.New(env)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Environment returns the Environment this Reader reads from, so a
// processor can share its notifier and issue its own cursor-commit
// transactions without the caller threading a second handle through.
func (r *Reader) Environment() *bstore.Environment {
	return r.env
}

func eventAAD(streamID types.StreamID, seq uint64) []byte {
	aad := make([]byte, 24)
	idBytes := streamID.Bytes()
	copy(aad[0:16], idBytes[:])
	binary.BigEndian.PutUint64(aad[16:24], seq)
	return aad
}

// decode turns one raw events_log value into an EventView, decrypting and
// resolving a blob reference as needed.
func (r *Reader) decode(txn *bstore.ReadTxn, seq uint64, raw []byte) (*EventView, error) {
	frame := raw
	borrowed := true

	if r.env.EncryptionEnabled() {
		if len(raw) < 16 {
			return nil, errors.InvalidLength("encrypted event record", len(raw), 16)
		}
		streamID, err := types.StreamIDFromBytes(raw[0:16])
		if err != nil {
			return nil, errors.Wrap(errors.KindCorruptRecord, "decode event stream id prefix", err)
		}
		dek, found, err := r.km.Get(txn, streamID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.KeyNotFound(streamID)
		}
		plain, err := crypto.Decrypt(dek, raw[16:], eventAAD(streamID, seq))
		if err != nil {
			return nil, err
		}
		frame = plain
		borrowed = false
	}

	rec, err := envelope.Decode(frame)
	if err != nil {
		return nil, err
	}

	payload := rec.Inline
	if rec.Kind == envelope.KindBlobRef {
		blob := txn.Bucket(bstore.BlobsBucket).Get(rec.BlobHash[:])
		if blob == nil {
			return nil, errors.New(errors.KindCorruptRecord, "missing blob for blob-ref event")
		}
		// Blob contents are copied out of the backend's memory, so a
		// blob-backed view owns its payload and outlives the transaction.
		payload = append([]byte(nil), blob...)
		borrowed = false
	}

	view := &EventView{
		Seq:      seq,
		StreamID: rec.StreamID,
		Version:  rec.Version,
		Payload:  payload,
		Borrowed: borrowed,
	}
	if r.metrics != nil {
		r.metrics.ObserveRead(len(payload))
	}
	return view, nil
}

// Get returns the event at global sequence seq, or (nil, nil) if no such
// sequence has ever been written.
func (r *Reader) Get(txn *bstore.ReadTxn, seq uint64) (*EventView, error) {
	raw := txn.Bucket(bstore.EventsLogBucket).Get(bstore.EncodeSeq(seq))
	if raw == nil {
		return nil, nil
	}
	return r.decode(txn, seq, raw)
}

// GetByStream returns the event written as (streamID, version), or (nil,
// nil) if that version was never written.
func (r *Reader) GetByStream(txn *bstore.ReadTxn, streamID types.StreamID, version types.StreamVersion) (*EventView, error) {
	seqBytes := txn.Bucket(bstore.StreamIndexBucket).Get(bstore.StreamIndexKey(streamID, version))
	if seqBytes == nil {
		return nil, nil
	}
	return r.Get(txn, bstore.DecodeSeq(seqBytes))
}

// WithReadTxn opens a read transaction, runs fn, and always rolls it back
// afterward — the safe way to use a ReadTxn without risking it escaping
// across a suspension point (see bstore.ReadTxn's thread-affinity note).
func (r *Reader) WithReadTxn(fn func(*bstore.ReadTxn) error) error {
	return r.env.View(fn)
}

// Count returns the number of events ever appended (the highest assigned
// global sequence; sequences are 1-indexed and have no gaps).
func (r *Reader) Count(txn *bstore.ReadTxn) (uint64, error) {
	c := txn.Bucket(bstore.EventsLogBucket).Cursor()
	key, _ := c.Last()
	if key == nil {
		return 0, nil
	}
	return bstore.DecodeSeq(key), nil
}

// CollectEvents decodes every event with global sequence in [from, to],
// inclusive, in ascending order.
func (r *Reader) CollectEvents(txn *bstore.ReadTxn, from, to uint64) ([]*EventView, error) {
	var out []*EventView
	c := txn.Bucket(bstore.EventsLogBucket).Cursor()
	for key, value := c.Seek(bstore.EncodeSeq(from)); key != nil; key, value = c.Next() {
		seq := bstore.DecodeSeq(key)
		if seq > to {
			break
		}
		view, err := r.decode(txn, seq, value)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}
