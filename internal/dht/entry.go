package dht

import "math"

// Entry is a key + value + timestamp record. Hash is the SHA-1 hex digest
// of Key and never changes after construction.
type Entry struct {
	Key       string
	Hash      string
	Value     []byte
	Timestamp float64
	hasValue  bool
}

// NewEntry allocates an entry for key with no value yet written. Its
// timestamp is treated as less than any real timestamp, so the first
// Merge always wins (spec: "Null timestamp ... is less than any real
// timestamp").
func NewEntry(key string) *Entry {
	return &Entry{
		Key:       key,
		Hash:      HashHex([]byte(key)),
		Timestamp: math.Inf(-1),
		hasValue:  false,
	}
}

// HasValue reports whether the entry has ever been written.
func (e *Entry) HasValue() bool {
	return e.hasValue
}

// Merge applies last-writer-wins: the incoming write replaces the current
// value only if the current timestamp is unset or strictly less than the
// new one. Ties do not update — first write wins for equal timestamps.
// Returns true iff the entry's value/timestamp changed.
func (e *Entry) Merge(value []byte, timestamp float64) bool {
	if !e.hasValue || e.Timestamp < timestamp {
		e.Value = value
		e.Timestamp = timestamp
		e.hasValue = true
		return true
	}
	return false
}
