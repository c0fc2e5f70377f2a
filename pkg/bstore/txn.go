package bstore

import (
	bolt "go.etcd.io/bbolt"
)

// ReadTxn wraps a read-only bbolt transaction over the five ledgerdb
// namespaces.
//
// Thread affinity: a ReadTxn must be used only from the goroutine that
// created it, and must never be held across a channel receive, a
// context-driven select, or any other suspension point in an async-style
// caller. Go has no compile-time "!Send" marker to enforce that, so this
// package enforces the convention the other way: the only way to obtain a
// ReadTxn that outlives a single synchronous call is
// Environment.BeginRead/Rollback; callers that want the safe pattern should
// prefer reader.Reader.WithReadTxn, which opens and closes the transaction
// around a synchronous closure and never lets it escape.
type ReadTxn struct {
	tx *bolt.Tx
}

// Bucket returns the named bucket within this read transaction, or nil if
// somehow absent (Open guarantees all five exist before returning).
func (r *ReadTxn) Bucket(name []byte) *bolt.Bucket {
	return r.tx.Bucket(name)
}

// Rollback discards the read transaction. Read transactions never mutate,
// so Rollback (not Commit) is always the right way to end one.
func (r *ReadTxn) Rollback() error {
	return r.tx.Rollback()
}

// WriteTxn wraps a writable bbolt transaction. Only one WriteTxn can be open
// at a time per Environment — bbolt's own writer lock provides that
// serialization, so Environment adds no second mutex on top of it.
type WriteTxn struct {
	tx *bolt.Tx
}

// Bucket returns the named bucket within this write transaction.
func (w *WriteTxn) Bucket(name []byte) *bolt.Bucket {
	return w.tx.Bucket(name)
}

// Commit durably commits the write transaction.
func (w *WriteTxn) Commit() error {
	return w.tx.Commit()
}

// Rollback discards the write transaction without committing.
func (w *WriteTxn) Rollback() error {
	return w.tx.Rollback()
}
