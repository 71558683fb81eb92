package statejournal

import "errors"

// Error taxonomy. Sentinels are matched with errors.Is; all are wrapped with
// additional context via fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrNotFound is returned by Get/GetRaw for an absent key, and by the
	// reader for a counter outside [1, update_counter].
	ErrNotFound = errors.New("statejournal: not found")

	// ErrCorrupt is returned when a recomputed digest disagrees with the
	// stored digest, or an entry's framing is malformed.
	ErrCorrupt = errors.New("statejournal: corrupt journal")

	// ErrEntryTooLarge is returned by Update/Delete when key+value exceeds
	// the 16-bit entry-length framing.
	ErrEntryTooLarge = errors.New("statejournal: entry too large")

	// ErrJournalFull is returned when the post-entry offset would exceed
	// 2^32 bytes.
	ErrJournalFull = errors.New("statejournal: journal full")

	// ErrInvalidRollback is returned when the rollback target exceeds the
	// current update counter.
	ErrInvalidRollback = errors.New("statejournal: invalid rollback target")

	// ErrIoError wraps an underlying file or KV failure, fatal to the
	// writer for writes.
	ErrIoError = errors.New("statejournal: io error")

	// ErrLocked is returned by Open when another writer already holds the
	// directory's exclusive lock.
	ErrLocked = errors.New("statejournal: journal directory locked by another writer")
)
