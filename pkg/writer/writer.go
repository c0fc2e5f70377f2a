// Package writer implements the single append path: optimistic-concurrency
// version checking, inline/blob payload routing, optional per-stream AEAD
// encryption, and the post-commit tail notification every reader and
// processor subscribes to.
package writer

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/crypto"
	"github.com/cuemby/ledgerdb/pkg/envelope"
	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/keymanager"
	"github.com/cuemby/ledgerdb/pkg/log"
	"github.com/cuemby/ledgerdb/pkg/types"
)

// MetricsSink receives observations from Append. Defined here rather than
// imported from pkg/metrics so this package never depends on Prometheus
// directly; pkg/metrics implements this interface and is wired in at
// construction via WithMetrics.
type MetricsSink interface {
	ObserveAppend(payloadBytes int, blob bool, duration time.Duration)
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithMetrics attaches a MetricsSink that observes every successful Append.
func WithMetrics(sink MetricsSink) Option {
	return func(w *Writer) { w.metrics = sink }
}

// Writer appends events to one Environment.
type Writer struct {
	env     *bstore.Environment
	km      *keymanager.KeyManager
	metrics MetricsSink
}

// New builds a Writer over env.
func New(env *bstore.Environment, opts ...Option) *Writer {
	w := &Writer{env: env, km: keymanager.New(env)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// eventAAD is the 24-byte associated data authenticated alongside every
// encrypted event record: the stream id it belongs to and the global
// sequence it was assigned, binding a ciphertext to both so neither can be
// replayed under the other's identity.
func eventAAD(streamID types.StreamID, seq uint64) []byte {
	aad := make([]byte, 24)
	idBytes := streamID.Bytes()
	copy(aad[0:16], idBytes[:])
	binary.BigEndian.PutUint64(aad[16:24], seq)
	return aad
}

// checkVersion enforces that version has not already been written for
// streamID. Versions are 1-indexed and dense within a stream but need not be
// contiguous; only a duplicate (stream_id, version) pair is rejected.
func checkVersion(txn *bstore.WriteTxn, streamID types.StreamID, version types.StreamVersion) error {
	if !version.Valid() {
		return errors.New(errors.KindVersionMismatch, "stream version must be nonzero")
	}
	idx := txn.Bucket(bstore.StreamIndexBucket)
	if idx.Get(bstore.StreamIndexKey(streamID, version)) != nil {
		return errors.ConcurrencyConflict(streamID, version)
	}
	return nil
}

// AppendExpected resolves an ExpectedVersion and appends event under it.
// Exact pins the version directly; Auto resolves to the stream's next
// version via a prefix-scan of stream_index immediately before the write.
// That scan is not atomic with the write itself, so a concurrent Auto
// append to the same stream can still lose the race: Append's own
// duplicate-version check is what surfaces that as ConcurrencyConflict.
func (w *Writer) AppendExpected(streamID types.StreamID, expected types.ExpectedVersion, event []byte) (uint64, error) {
	version := expected.Version()
	if expected.IsAuto() {
		next, err := w.env.NextVersion(streamID)
		if err != nil {
			return 0, err
		}
		version = next
	}
	return w.Append(streamID, version, event)
}

// Append writes one event to streamID at version, returning the global
// sequence it was assigned. version must not already exist for streamID;
// non-contiguous versions are otherwise permitted.
func (w *Writer) Append(streamID types.StreamID, version types.StreamVersion, event []byte) (uint64, error) {
	var seq uint64
	isBlob := false
	start := time.Now()

	err := w.env.Update(func(txn *bstore.WriteTxn) error {
		if err := checkVersion(txn, streamID, version); err != nil {
			return err
		}

		rec := envelope.Record{StreamID: streamID, Version: version}
		if len(event) <= envelope.InlineThreshold {
			rec.Kind = envelope.KindInline
			rec.Inline = event
		} else {
			isBlob = true
			hash := sha256.Sum256(event)
			rec.Kind = envelope.KindBlobRef
			rec.BlobHash = hash
			rec.BlobLength = uint64(len(event))

			blobs := txn.Bucket(bstore.BlobsBucket)
			if blobs.Get(hash[:]) == nil {
				if err := blobs.Put(hash[:], event); err != nil {
					return errors.Wrap(errors.KindBackend, "store blob", err)
				}
			}
		}

		plain, err := envelope.Encode(rec)
		if err != nil {
			return err
		}

		events := txn.Bucket(bstore.EventsLogBucket)
		nextSeq, err := events.NextSequence()
		if err != nil {
			return errors.Wrap(errors.KindBackend, "allocate sequence", err)
		}
		seq = nextSeq

		stored := plain
		if w.env.EncryptionEnabled() {
			dek, err := w.km.GetOrCreate(txn, streamID)
			if err != nil {
				return err
			}
			sealed, err := crypto.Encrypt(dek, plain, eventAAD(streamID, seq))
			if err != nil {
				return err
			}
			idBytes := streamID.Bytes()
			stored = make([]byte, 16+len(sealed))
			copy(stored[0:16], idBytes[:])
			copy(stored[16:], sealed)
		}

		if err := events.Put(bstore.EncodeSeq(seq), stored); err != nil {
			return errors.Wrap(errors.KindBackend, "store event", err)
		}
		if err := txn.Bucket(bstore.StreamIndexBucket).Put(
			bstore.StreamIndexKey(streamID, version), bstore.EncodeSeq(seq),
		); err != nil {
			return errors.Wrap(errors.KindBackend, "store stream index", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	w.env.Notifier().Publish(seq)
	if w.metrics != nil {
		w.metrics.ObserveAppend(len(event), isBlob, time.Since(start))
	}
	log.WithStream(streamID).Debug().Uint64("seq", seq).Uint32("version", uint32(version)).Msg("event appended")
	return seq, nil
}
