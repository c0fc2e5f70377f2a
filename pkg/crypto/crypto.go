// Package crypto provides the AEAD envelope primitives ledgerdb uses for
// per-stream encryption and for wrapping stream keys under the master key.
// It follows the AES-256-GCM pattern used throughout this module's ambient
// secrets handling: a 12-byte random nonce from crypto/rand, prepended to
// the ciphertext+tag, with an explicit Additional Authenticated Data (AAD)
// argument so callers can bind ciphertexts to a specific context (a stream
// id, or a stream id + global sequence pair) instead of leaving AAD empty.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/cuemby/ledgerdb/pkg/errors"
)

// KeySize is the length in bytes of every AES-256-GCM key ledgerdb handles:
// master keys and per-stream keys alike.
const KeySize = 32

// NonceSize is the length in bytes of the AEAD nonce.
const NonceSize = 12

// TagSize is the length in bytes of the AEAD authentication tag.
const TagSize = 16

// Encrypt seals plaintext under key, authenticating aad, and returns
// nonce ‖ ciphertext ‖ tag. A fresh random nonce is generated per call.
func Encrypt(key *[KeySize]byte, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "create GCM mode", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(errors.KindIO, "generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, aad)
	return sealed, nil
}

// Decrypt opens a nonce ‖ ciphertext ‖ tag buffer produced by Encrypt,
// verifying aad matches exactly what was passed to Encrypt. Any mismatch —
// wrong key, tampered bytes, or wrong aad — surfaces as KindDecryptionFailed,
// never a panic.
func Decrypt(key *[KeySize]byte, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "create GCM mode", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.InvalidLength("ciphertext", len(sealed), nonceSize)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errors.Wrap(errors.KindDecryptionFailed, "AEAD authentication failed", nil)
	}
	return plaintext, nil
}

// RandomKey fills a fresh 32-byte key from a cryptographically secure
// source, for Key Manager's get-or-create path.
func RandomKey() (*[KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, errors.Wrap(errors.KindIO, "generate stream key", err)
	}
	return &key, nil
}

// ZeroizingKey holds key material that must not outlive its owner in
// plaintext. Go has no destructors, so callers must explicitly call Zero():
// bstore.Environment.Close does so for the master key. Per-stream keys are
// handed around as plain *[KeySize]byte arrays, not ZeroizingKeys, and are
// not zeroized after use.
type ZeroizingKey struct {
	bytes [KeySize]byte
	valid bool
}

// NewZeroizingKey copies key material into a ZeroizingKey. The caller's
// original slice is not modified; callers should discard their own copy.
func NewZeroizingKey(key []byte) (*ZeroizingKey, error) {
	if len(key) != KeySize {
		return nil, errors.New(errors.KindMasterKeyMissing, "master key must be 32 bytes")
	}
	zk := &ZeroizingKey{valid: true}
	copy(zk.bytes[:], key)
	return zk, nil
}

// Bytes returns a pointer to the live key material. The returned pointer
// must not be retained past a call to Zero.
func (z *ZeroizingKey) Bytes() *[KeySize]byte {
	return &z.bytes
}

// Valid reports whether the key has not yet been zeroized.
func (z *ZeroizingKey) Valid() bool {
	return z != nil && z.valid
}

// Zero overwrites the key material with zeros. Safe to call more than once.
func (z *ZeroizingKey) Zero() {
	if z == nil {
		return
	}
	for i := range z.bytes {
		z.bytes[i] = 0
	}
	z.valid = false
}
