// Package store defines the LocalStore contract consumed by the
// coordinator, and a durable engine implementing it: a write-ahead log
// for crash recovery plus an in-memory ordered index for point lookups
// and range iteration.
package store

import (
	"context"

	"quorumkv/internal/value"
)

// Cell is a (key, Value) pair emitted by the low-level cell iterator.
// Cells are ordered ascending by key.
type Cell struct {
	Key   []byte
	Value value.Value
}

// Record is a (key, data) pair exposed to clients: the user-visible
// projection of a live, non-tombstoned, non-expired Value.
type Record struct {
	Key  []byte
	Data []byte
}

// Store is the contract the coordinator depends on. Implementations
// must be safe for concurrent use without the caller taking any lock,
// must never hand back a torn Value, and must serve iterators that
// reflect a consistent point-in-time snapshot of the keys they
// traverse.
type Store interface {
	// Get returns the newest Value stored for key, or ok=false if the
	// store holds nothing for key (never written, or dropped by
	// Compact). The caller decides whether a tombstone or an expired
	// Value counts as absent.
	Get(ctx context.Context, key []byte) (v value.Value, ok bool, err error)

	// Upsert writes a new non-tombstone Value for key, stamped with
	// timestamp, expiring at expiresAt.
	Upsert(ctx context.Context, key []byte, data []byte, timestamp int64, expiresAt int64) error

	// Remove writes a tombstone Value for key, stamped with timestamp.
	Remove(ctx context.Context, key []byte, timestamp int64) error

	// CellIterator returns a forward-only, not-restartable iterator
	// over Cells ascending by key starting at from (inclusive),
	// yielding the newest Value per key including tombstones and
	// expired Values (filtering is the caller's job).
	CellIterator(ctx context.Context, from []byte) (CellIterator, error)

	// RecordIterator returns a forward-only iterator over Records
	// ascending from "from" (inclusive) to "to" (exclusive), or to the
	// end of the keyspace if to is nil. Tombstones and Values expired
	// as of the call are filtered out before emission.
	RecordIterator(ctx context.Context, from, to []byte) (RecordIterator, error)

	// Compact may physically drop entries that reads already treat as
	// absent (expired Values and tombstones). Record iterators are
	// unaffected; Get reports ok=false for a dropped key instead of
	// returning its tombstone or expired Value.
	Compact(ctx context.Context) error

	// Close releases the store. All writes accepted before Close
	// returns are durable.
	Close() error
}

// CellIterator walks Cells ascending by key.
type CellIterator interface {
	Next() (Cell, bool)
}

// RecordIterator walks live Records ascending by key.
type RecordIterator interface {
	Next() (Record, bool)
}
