package bstore

import "github.com/cuemby/ledgerdb/pkg/crypto"

// DefaultMapSizeBytes is the virtual address space bbolt reserves for its
// memory map when Config.MapSizeBytes is left at zero. It is passed to bbolt
// as the initial mmap size; bbolt grows the file and remaps larger as needed.
const DefaultMapSizeBytes = 10 << 30

// MinNamedSpaces is the number of logical namespaces the core always opens:
// events_log, stream_index, consumer_cursors, keystore, blobs.
const MinNamedSpaces = 5

// Config carries every field the environment recognizes when opening a
// store.
type Config struct {
	// Path is the directory (bbolt keeps a single file there, named
	// "ledger.db") holding the store.
	Path string

	// MapSizeBytes is the initial mmap reservation handed to bbolt. Zero means
	// DefaultMapSizeBytes.
	MapSizeBytes int64

	// MaxNamedSpaces is recorded but not a backend parameter: bbolt itself
	// has no cap on the number of buckets, and Open does not check the value
	// against MinNamedSpaces. Zero means MinNamedSpaces.
	MaxNamedSpaces int

	// CreateDirIfMissing creates Path (and parents) before opening the
	// database file, mirroring the reference's create_dir_if_missing.
	CreateDirIfMissing bool

	// EncryptionEnabled turns on per-stream AEAD encryption of every
	// events_log value. When true, MasterKey must be set or Open fails with
	// KindMasterKeyMissing.
	EncryptionEnabled bool

	// MasterKey is the 32-byte secret stream keys are wrapped under. Copied
	// into a zeroizing wrapper by Open; the caller's slice is never retained.
	MasterKey []byte
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// their defaults.
func (c Config) withDefaults() Config {
	out := c
	if out.MapSizeBytes <= 0 {
		out.MapSizeBytes = DefaultMapSizeBytes
	}
	if out.MaxNamedSpaces <= 0 {
		out.MaxNamedSpaces = MinNamedSpaces
	}
	return out
}

// resolveMasterKey builds the zeroizing wrapper for Config.MasterKey, or nil
// if none was configured.
func (c Config) resolveMasterKey() (*crypto.ZeroizingKey, error) {
	if len(c.MasterKey) == 0 {
		return nil, nil
	}
	return crypto.NewZeroizingKey(c.MasterKey)
}
