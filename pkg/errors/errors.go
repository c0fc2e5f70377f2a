// Package errors defines ledgerdb's error taxonomy: a single Kind enum and a
// single *Error type that every package in the module returns instead of ad
// hoc fmt.Errorf strings, so callers can branch on errors.Is/errors.As
// regardless of which layer (storage, crypto, writer, reader, processor)
// produced the failure.
package errors

import (
	"errors"
	"fmt"

	"github.com/cuemby/ledgerdb/pkg/types"
)

// Kind classifies what went wrong, so callers can branch without parsing
// message text.
type Kind int

const (
	// KindIO signals a filesystem-level failure underneath the backend.
	KindIO Kind = iota
	// KindBackend signals an ordered-map transaction or access failure.
	KindBackend
	// KindSerializationFailed signals the user event could not be encoded.
	KindSerializationFailed
	// KindCorruptRecord signals on-disk bytes failed structural validation.
	KindCorruptRecord
	// KindConcurrencyConflict signals an append lost the optimistic race.
	KindConcurrencyConflict
	// KindVersionMismatch is reserved for higher-level stream-version checks.
	KindVersionMismatch
	// KindMasterKeyMissing signals encryption is on but no master key was configured.
	KindMasterKeyMissing
	// KindKeyNotFound signals the wrapped key is absent (crypto-shredded or never created).
	KindKeyNotFound
	// KindDecryptionFailed signals AEAD authentication failed.
	KindDecryptionFailed
	// KindInvalidLength signals a record or key shorter than its required minimum.
	KindInvalidLength
	// KindChannelClosed signals the notifier's sender side is gone.
	KindChannelClosed
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindBackend:
		return "backend"
	case KindSerializationFailed:
		return "serialization_failed"
	case KindCorruptRecord:
		return "corrupt_record"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindMasterKeyMissing:
		return "master_key_missing"
	case KindKeyNotFound:
		return "key_not_found"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindInvalidLength:
		return "invalid_length"
	case KindChannelClosed:
		return "channel_closed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across ledgerdb's public API.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any

	// Context fields, populated only by the Kinds that need them. Left zero
	// otherwise.
	StreamID      types.StreamID
	Version       types.StreamVersion
	ExpectedVer   types.StreamVersion
	ActualVer     types.StreamVersion
	LengthKind    string
	ActualLength  int
	RequiredLen   int
}

func (e *Error) Error() string {
	if e.Msg != "" {
		if e.Err != nil {
			return fmt.Sprintf("ledgerdb: %s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("ledgerdb: %s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("ledgerdb: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("ledgerdb: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errors.Of(SomeKind)) style comparisons work by
// Kind alone, ignoring context fields, so callers can do e.g.
// "retry on ConcurrencyConflict" without matching every field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare *Error of the given Kind with a message, no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given Kind wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Of is a sentinel usable with errors.Is to test only the Kind, e.g.
// errors.Is(err, errors.Of(KindConcurrencyConflict)).
func Of(kind Kind) error {
	return &Error{Kind: kind}
}

// ConcurrencyConflict builds a KindConcurrencyConflict error for the given
// stream_id and version.
func ConcurrencyConflict(streamID types.StreamID, version types.StreamVersion) *Error {
	return &Error{
		Kind:     KindConcurrencyConflict,
		Msg:      fmt.Sprintf("stream %s version %d already exists", streamID, version),
		StreamID: streamID,
		Version:  version,
	}
}

// VersionMismatch builds a KindVersionMismatch error for the given
// stream_id, expected version, and actual version.
func VersionMismatch(streamID types.StreamID, expected, actual types.StreamVersion) *Error {
	return &Error{
		Kind:        KindVersionMismatch,
		Msg:         fmt.Sprintf("stream %s expected version %d, got %d", streamID, expected, actual),
		StreamID:    streamID,
		ExpectedVer: expected,
		ActualVer:   actual,
	}
}

// KeyNotFound builds a KindKeyNotFound error for the given stream_id.
func KeyNotFound(streamID types.StreamID) *Error {
	return &Error{
		Kind:     KindKeyNotFound,
		Msg:      fmt.Sprintf("no wrapped key for stream %s", streamID),
		StreamID: streamID,
	}
}

// InvalidLength builds a KindInvalidLength error describing which length
// check failed, and the actual vs. required byte counts.
func InvalidLength(lengthKind string, actual, required int) *Error {
	return &Error{
		Kind:         KindInvalidLength,
		Msg:          fmt.Sprintf("%s too short: got %d bytes, need at least %d", lengthKind, actual, required),
		LengthKind:   lengthKind,
		ActualLength: actual,
		RequiredLen:  required,
	}
}

// Is reports whether err is a *Error of the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
