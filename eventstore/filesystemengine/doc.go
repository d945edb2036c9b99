// Package filesystemengine provides a filesystem-backed implementation of
// the eventstore.StreamStore contract.
//
// Persisted layout:
//
//	<root>/streams/<streamId>/<version>.<ext>
//
// One file per event. The version component of the filename is a
// zero-padded 6-digit decimal so lexicographic filename order equals
// numeric version order.
//
// The current version of a stream is derived as the maximum version number
// found among its files; it is never stored as separate metadata. The
// check-then-write sequence is not atomic against a second concurrent
// writer: each event file is created with O_EXCL, so the filesystem's
// create-if-absent semantics arbitrate a race for the same version slot.
// The loser's failure is normalized into eventstore.ConcurrencyError.
package filesystemengine
