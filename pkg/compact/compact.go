// Package compact implements mark-and-sweep reclamation of orphaned blobs:
// blob-namespace entries that no decodable envelope in events_log references
// (for example a blob whose only referencing record belongs to a
// crypto-shredded stream, so its envelope can no longer be decrypted, or a
// blob inserted into the namespace by something other than Writer.Append).
// This is explicitly outside the core Writer/Reader/
// Processor contract; it exists only so the maintenance CLI has something to
// call.
package compact

import (
	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/crypto"
	"github.com/cuemby/ledgerdb/pkg/envelope"
	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/keymanager"
	"github.com/cuemby/ledgerdb/pkg/log"
	"github.com/cuemby/ledgerdb/pkg/types"
)

// Stats summarizes one compaction pass.
type Stats struct {
	EventsScanned   int
	ReachableBlobs  int
	BlobsTotal      int
	BlobsDeleted    int
	UndecodableRecs int
}

// eventAAD mirrors writer.eventAAD/reader.eventAAD: the 24-byte
// stream_id||global_seq binding used for every encrypted event record. It is
// duplicated here rather than imported because neither writer nor reader
// exports it; AAD construction stays private to whichever package owns the
// ciphertext.
func eventAAD(streamID types.StreamID, seq uint64) []byte {
	idBytes := streamID.Bytes()
	aad := make([]byte, 24)
	copy(aad[0:16], idBytes[:])
	for i := 0; i < 8; i++ {
		aad[16+i] = byte(seq >> uint(56-8*i))
	}
	return aad
}

// decodeFrame recovers the plaintext envelope.Record stored at seq, undoing
// encryption first if the environment has it enabled. Unlike reader.decode
// it never resolves blob contents — compaction only needs the blob hash a
// record points at, not the bytes behind it.
func decodeFrame(env *bstore.Environment, km *keymanager.KeyManager, txn *bstore.ReadTxn, seq uint64, raw []byte) (envelope.Record, error) {
	if !env.EncryptionEnabled() {
		return envelope.Decode(raw)
	}

	if len(raw) < 16 {
		return envelope.Record{}, errors.InvalidLength("encrypted record", len(raw), 16)
	}
	streamID, err := types.StreamIDFromBytes(raw[:16])
	if err != nil {
		return envelope.Record{}, err
	}
	dek, ok, err := km.Get(txn, streamID)
	if err != nil {
		return envelope.Record{}, err
	}
	if !ok {
		// Stream key was crypto-shredded: this ciphertext is permanently
		// unrecoverable, so its blob reference (if any) can never be
		// re-derived. Treat it as undecodable rather than failing the pass.
		return envelope.Record{}, errors.New(errors.KindDecryptionFailed, "stream key shredded")
	}
	plain, err := crypto.Decrypt(dek, raw[16:], eventAAD(streamID, seq))
	if err != nil {
		return envelope.Record{}, err
	}
	return envelope.Decode(plain)
}

// Run walks every event in events_log, collects the set of blob hashes still
// referenced by a decodable envelope, then deletes every blobs entry outside
// that set. When dryRun is true, nothing is deleted and Stats.BlobsDeleted
// reports what would have been removed.
func Run(env *bstore.Environment, dryRun bool) (Stats, error) {
	logger := log.WithComponent("compact")
	km := keymanager.New(env)
	var stats Stats
	reachable := make(map[[32]byte]struct{})

	if err := env.View(func(txn *bstore.ReadTxn) error {
		events := txn.Bucket(bstore.EventsLogBucket)
		cursor := events.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			stats.EventsScanned++
			seq := bstore.DecodeSeq(k)
			rec, err := decodeFrame(env, km, txn, seq, v)
			if err != nil {
				stats.UndecodableRecs++
				logger.Warn().Uint64("seq", seq).Err(err).Msg("skipping undecodable record during compaction scan")
				continue
			}
			if rec.Kind == envelope.KindBlobRef {
				reachable[rec.BlobHash] = struct{}{}
			}
		}
		return nil
	}); err != nil {
		return stats, err
	}
	stats.ReachableBlobs = len(reachable)

	var toDelete [][]byte
	if err := env.View(func(txn *bstore.ReadTxn) error {
		blobs := txn.Bucket(bstore.BlobsBucket)
		cursor := blobs.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			stats.BlobsTotal++
			var hash [32]byte
			copy(hash[:], k)
			if _, ok := reachable[hash]; !ok {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		return nil
	}); err != nil {
		return stats, err
	}
	stats.BlobsDeleted = len(toDelete)

	if dryRun || len(toDelete) == 0 {
		return stats, nil
	}

	err := env.Update(func(txn *bstore.WriteTxn) error {
		blobs := txn.Bucket(bstore.BlobsBucket)
		for _, hash := range toDelete {
			if err := blobs.Delete(hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		logger.Info().Int("deleted", len(toDelete)).Int("reachable", stats.ReachableBlobs).Msg("compaction swept orphaned blobs")
	}
	return stats, err
}
