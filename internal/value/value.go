// Package value defines the immutable record value the rest of the
// store is built around: a timestamped, optionally-expiring,
// optionally-tombstoned byte payload.
package value

import (
	"bytes"
	"math"
)

// NeverExpires is the sentinel ExpiresAt value meaning "no expiration".
const NeverExpires int64 = math.MaxInt64

// Value is an immutable record value with a last-writer-wins timestamp,
// an optional expiration deadline, and a tombstone flag marking a
// deletion. Two Values are never mutated in place; a write always
// produces a new Value.
type Value struct {
	Timestamp int64
	ExpiresAt int64
	Tombstone bool
	Data      []byte
}

// Live builds a non-tombstone Value holding data, expiring at expiresAt
// (NeverExpires for no expiration).
func Live(timestamp int64, data []byte, expiresAt int64) Value {
	return Value{Timestamp: timestamp, ExpiresAt: expiresAt, Data: data}
}

// Tomb builds a tombstone Value: no data, no expiration.
func Tomb(timestamp int64) Value {
	return Value{Timestamp: timestamp, ExpiresAt: NeverExpires, Tombstone: true}
}

// IsExpired reports whether v is logically absent at nowMillis because
// its expiration deadline has passed. Expiration is a read-time filter:
// it says nothing about whether the record has been physically
// reclaimed yet.
func (v Value) IsExpired(nowMillis int64) bool {
	return v.ExpiresAt != NeverExpires && v.ExpiresAt <= nowMillis
}

// Less implements the total order used for conflict resolution:
// larger timestamp sorts first ("wins"); timestamp ties are broken by
// tombstones winning over live values, then by ascending data bytes.
// Two Values carrying the same timestamp on two different nodes always
// resolve to the same winner under this order, independent of
// traversal order. Conflict resolution depends on that invariant.
func (v Value) Less(other Value) bool {
	if v.Timestamp != other.Timestamp {
		return v.Timestamp > other.Timestamp
	}
	if v.Tombstone != other.Tombstone {
		return v.Tombstone
	}
	return bytes.Compare(v.Data, other.Data) < 0
}

// Identity is the key used to group live Values by content for the
// GET vote-counting resolution rule: two Values are the "same" vote
// iff they carry the same data bytes.
func (v Value) Identity() string {
	return string(v.Data)
}
