// Package kverrors defines the sentinel errors the storage engine
// returns to callers. Errors from Put, Get, and Delete wrap one of
// these values, whose reason tag Reason recovers, except a failure to
// unlink an old segment after compaction. That error, and the errors
// Open returns when it cannot create the engine's directories, open or
// replay the intent log, or list the segments directory, wrap the
// underlying OS error instead and carry no reason tag.
package kverrors

import "errors"

var (
	// ErrKeyNotFound is returned by Get for a key absent from both the
	// memory index and every segment, and by Delete for a key absent
	// from the memory index (see the del quirk documented on Engine.Delete).
	ErrKeyNotFound = errors.New("KEY_NOT_FOUND")

	// ErrWALNotOpen is returned when an operation is attempted against
	// an intent log whose file descriptor is no longer valid.
	ErrWALNotOpen = errors.New("WAL_NOT_OPEN")

	// ErrWALWriteFailed is returned when an append or its fsync to the
	// intent log fails.
	ErrWALWriteFailed = errors.New("WAL_WRITE_FAILED")

	// ErrSegmentOpenFailed is returned when a segment path cannot be
	// opened for read or write.
	ErrSegmentOpenFailed = errors.New("SEGMENT_OPEN_FAILED")

	// ErrSegmentWriteFailed is returned when a segment write or its
	// fsync fails.
	ErrSegmentWriteFailed = errors.New("SEGMENT_WRITE_FAILED")

	// ErrKeyEmpty is returned when a caller passes an empty key to Put,
	// Get, or Delete; keys must be non-empty per the data model.
	ErrKeyEmpty = errors.New("KEY_EMPTY")

	// ErrRecordTooLarge is returned when an encoded record body would
	// exceed the configured maximum.
	ErrRecordTooLarge = errors.New("RECORD_TOO_LARGE")
)

// Reason recovers the bare reason tag (e.g. "KEY_NOT_FOUND") a sentinel
// error carries, matching the taxonomy's string spelling. It returns
// an empty string if err does not wrap one of this package's sentinels.
func Reason(err error) string {
	for _, sentinel := range []error{
		ErrKeyNotFound,
		ErrWALNotOpen,
		ErrWALWriteFailed,
		ErrSegmentOpenFailed,
		ErrSegmentWriteFailed,
		ErrKeyEmpty,
		ErrRecordTooLarge,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}
