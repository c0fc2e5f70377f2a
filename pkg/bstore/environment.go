// Package bstore implements the Storage Environment component of ledgerdb:
// it opens the bbolt-backed ordered-map, creates the four-plus-one logical
// namespaces, and owns the single writer mutex (delegated to bbolt itself)
// and the new-tail Notifier. Every other package in this module (crypto key
// management, the writer, the reader, the processor) is built on top of the
// types exported here.
package bstore

import (
	"os"
	"path/filepath"

	"github.com/cuemby/ledgerdb/pkg/crypto"
	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/log"
	bolt "go.etcd.io/bbolt"
)

// Namespace bucket names for the five logical stores this package manages.
var (
	EventsLogBucket      = []byte("events_log")
	StreamIndexBucket    = []byte("stream_index")
	ConsumerCursorsBucket = []byte("consumer_cursors")
	KeystoreBucket       = []byte("keystore")
	BlobsBucket          = []byte("blobs")
)

var allBuckets = [][]byte{
	EventsLogBucket,
	StreamIndexBucket,
	ConsumerCursorsBucket,
	KeystoreBucket,
	BlobsBucket,
}

// Environment is a clonable handle onto one open store: all clones share one
// *bolt.DB, one memory map, one write mutex (bbolt's own), and one Notifier.
type Environment struct {
	db                *bolt.DB
	notifier          *Notifier
	encryptionEnabled bool
	masterKey         *crypto.ZeroizingKey
}

// Open creates or opens the backing bbolt database at cfg.Path, creating the
// five namespaces inside a single write transaction on first open. Config
// zero-values fall back to their documented defaults.
func Open(cfg Config) (*Environment, error) {
	cfg = cfg.withDefaults()

	if cfg.CreateDirIfMissing {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindIO, "create data directory", err)
		}
	}

	masterKey, err := cfg.resolveMasterKey()
	if err != nil {
		return nil, err
	}
	if cfg.EncryptionEnabled && masterKey == nil {
		return nil, errors.New(errors.KindMasterKeyMissing, "encryption enabled but no master key configured")
	}

	dbPath := filepath.Join(cfg.Path, "ledger.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		InitialMmapSize: int(cfg.MapSizeBytes),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "open bbolt database", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.KindBackend, "create namespaces", err)
	}

	log.WithComponent("bstore").Info().Str("path", dbPath).Msg("environment opened")

	return &Environment{
		db:                db,
		notifier:          NewNotifier(),
		encryptionEnabled: cfg.EncryptionEnabled,
		masterKey:         masterKey,
	}, nil
}

// Clone returns a handle sharing this Environment's database, notifier, and
// master key — never a new open of the underlying file.
func (e *Environment) Clone() *Environment {
	return &Environment{
		db:                e.db,
		notifier:          e.notifier,
		encryptionEnabled: e.encryptionEnabled,
		masterKey:         e.masterKey,
	}
}

// EncryptionEnabled reports whether this environment was opened with
// per-stream encryption turned on.
func (e *Environment) EncryptionEnabled() bool {
	return e.encryptionEnabled
}

// MasterKey returns the zeroizing master key wrapper, or nil if none was
// configured.
func (e *Environment) MasterKey() *crypto.ZeroizingKey {
	return e.masterKey
}

// Notifier returns the environment's single-slot tail notifier.
func (e *Environment) Notifier() *Notifier {
	return e.notifier
}

// BeginRead opens a consistent read-only snapshot. See ReadTxn's docstring
// for the thread-affinity contract callers must respect.
func (e *Environment) BeginRead() (*ReadTxn, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "begin read transaction", err)
	}
	return &ReadTxn{tx: tx}, nil
}

// BeginWrite opens a write transaction. bbolt serializes this against every
// other writer in the process; callers block here rather than fail.
func (e *Environment) BeginWrite() (*WriteTxn, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "begin write transaction", err)
	}
	return &WriteTxn{tx: tx}, nil
}

// Update runs fn inside one write transaction, committing on success and
// rolling back (and not publishing anything) on error or panic.
func (e *Environment) Update(fn func(*WriteTxn) error) error {
	wtxn, err := e.BeginWrite()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = wtxn.Rollback()
		}
	}()
	if err := fn(wtxn); err != nil {
		return err
	}
	if err := wtxn.Commit(); err != nil {
		return errors.Wrap(errors.KindBackend, "commit write transaction", err)
	}
	committed = true
	return nil
}

// View runs fn inside one read transaction, always rolling it back when fn
// returns (reads never mutate, so there is nothing to commit).
func (e *Environment) View(fn func(*ReadTxn) error) error {
	rtxn, err := e.BeginRead()
	if err != nil {
		return err
	}
	defer func() { _ = rtxn.Rollback() }()
	return fn(rtxn)
}

// Close releases the underlying database and zeroizes the master key, if
// any was configured.
func (e *Environment) Close() error {
	e.notifier.Close()
	e.masterKey.Zero()
	if err := e.db.Close(); err != nil {
		return errors.Wrap(errors.KindBackend, "close bbolt database", err)
	}
	return nil
}
