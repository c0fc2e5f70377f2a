// Package keymanager wraps and unwraps per-stream data-encryption keys under
// one master key, and implements crypto-shredding: deleting a stream's
// wrapped key makes every ciphertext already written for that stream
// permanently unreadable, without touching the events themselves.
package keymanager

import (
	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/crypto"
	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/log"
	"github.com/cuemby/ledgerdb/pkg/types"
)

// KeyManager reads and writes the keystore namespace of one Environment.
type KeyManager struct {
	env *bstore.Environment
}

// New builds a KeyManager over env. Unless env was opened with encryption
// enabled and a master key configured, GetOrCreate and Get return
// KindMasterKeyMissing; Delete does not check and removes the keystore
// entry regardless.
func New(env *bstore.Environment) *KeyManager {
	return &KeyManager{env: env}
}

// wrappedKeyAAD is the keystore record's AEAD associated data: the stream id
// alone (distinct from the 24-byte event-record AAD, which also folds in
// the global sequence).
func wrappedKeyAAD(streamID types.StreamID) []byte {
	b := streamID.Bytes()
	return b[:]
}

// GetOrCreate returns streamID's data-encryption key, minting and durably
// wrapping a fresh random one under txn if none exists yet. Must be called
// within a write transaction since it may insert into the keystore.
func (k *KeyManager) GetOrCreate(txn *bstore.WriteTxn, streamID types.StreamID) (*[crypto.KeySize]byte, error) {
	if !k.env.EncryptionEnabled() || !k.env.MasterKey().Valid() {
		return nil, errors.New(errors.KindMasterKeyMissing, "encryption not configured")
	}

	bucket := txn.Bucket(bstore.KeystoreBucket)
	key := bstore.KeystoreKey(streamID)

	if wrapped := bucket.Get(key); wrapped != nil {
		plain, err := crypto.Decrypt(k.env.MasterKey().Bytes(), wrapped, wrappedKeyAAD(streamID))
		if err != nil {
			return nil, err
		}
		var out [crypto.KeySize]byte
		copy(out[:], plain)
		return &out, nil
	}

	dek, err := crypto.RandomKey()
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "generate stream key", err)
	}
	wrapped, err := crypto.Encrypt(k.env.MasterKey().Bytes(), dek[:], wrappedKeyAAD(streamID))
	if err != nil {
		return nil, err
	}
	if err := bucket.Put(key, wrapped); err != nil {
		return nil, errors.Wrap(errors.KindBackend, "store wrapped stream key", err)
	}
	log.WithStream(streamID).Debug().Msg("minted stream key")
	return dek, nil
}

// Get returns streamID's data-encryption key without creating one. The
// second return value is false if no key has ever been created, or if it
// was deleted by Delete (crypto-shredded).
func (k *KeyManager) Get(txn *bstore.ReadTxn, streamID types.StreamID) (*[crypto.KeySize]byte, bool, error) {
	if !k.env.EncryptionEnabled() || !k.env.MasterKey().Valid() {
		return nil, false, errors.New(errors.KindMasterKeyMissing, "encryption not configured")
	}

	bucket := txn.Bucket(bstore.KeystoreBucket)
	wrapped := bucket.Get(bstore.KeystoreKey(streamID))
	if wrapped == nil {
		return nil, false, nil
	}
	plain, err := crypto.Decrypt(k.env.MasterKey().Bytes(), wrapped, wrappedKeyAAD(streamID))
	if err != nil {
		return nil, false, err
	}
	var out [crypto.KeySize]byte
	copy(out[:], plain)
	return &out, true, nil
}

// Delete permanently removes streamID's wrapped key: crypto-shredding.
// Every event previously written for this stream becomes undecryptable the
// moment this call commits, since its ciphertext can never be unwrapped
// again. The events themselves are left in place; only the key is gone.
func (k *KeyManager) Delete(streamID types.StreamID) error {
	return k.env.Update(func(txn *bstore.WriteTxn) error {
		bucket := txn.Bucket(bstore.KeystoreBucket)
		if err := bucket.Delete(bstore.KeystoreKey(streamID)); err != nil {
			return errors.Wrap(errors.KindBackend, "delete wrapped stream key", err)
		}
		log.WithStream(streamID).Warn().Msg("stream key crypto-shredded")
		return nil
	})
}
