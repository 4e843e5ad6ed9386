package dht

import (
	"fmt"
	"time"
)

// Table is the prefix -> Bucket map that routes every key in the space.
// At construction every one of the 16^PrefixLength prefixes exists and
// is owned; ownership never shrinks when a peer with overlapping
// buckets is adopted — Table does not model dynamic repartitioning
// between nodes.
type Table struct {
	PrefixLength int
	buckets      map[string]*Bucket
	owned        map[string]struct{}
}

// NewTable builds a table with 16^prefixLength buckets, all owned.
func NewTable(prefixLength int) *Table {
	t := &Table{
		PrefixLength: prefixLength,
		buckets:      make(map[string]*Bucket),
		owned:        make(map[string]struct{}),
	}
	for _, p := range generatePrefixes(prefixLength) {
		t.buckets[p] = NewBucket(p, true)
		t.owned[p] = struct{}{}
	}
	return t
}

func generatePrefixes(length int) []string {
	n := 1
	for i := 0; i < length; i++ {
		n *= 16
	}
	out := make([]string, 0, n)
	format := fmt.Sprintf("%%0%dx", length)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(format, i))
	}
	return out
}

func (t *Table) bucketFor(key string) *Bucket {
	prefix := PrefixOf([]byte(key), t.PrefixLength)
	b, ok := t.buckets[prefix]
	if !ok {
		// Every prefix of PrefixLength exists at construction; this would
		// only trip if PrefixLength was mutated after the fact, which
		// Table never does.
		b = NewBucket(prefix, false)
		t.buckets[prefix] = b
	}
	return b
}

// Get routes key to its bucket and reads it.
func (t *Table) Get(key string) (*Entry, error) {
	return t.bucketFor(key).Get(key)
}

// Put stores value under key using the local wall clock as the timestamp.
func (t *Table) Put(key string, value []byte) (bool, error) {
	return t.PutWithTS(key, value, nowSeconds())
}

// PutWithTS stores value under key with a caller-supplied timestamp. This
// is the entry point remote updates and peer-sync replies must use —
// using the wall-clock Put for a remote value would violate
// last-writer-wins by discarding the original writer's timestamp.
func (t *Table) PutWithTS(key string, value []byte, ts float64) (bool, error) {
	return t.bucketFor(key).Put(key, value, ts)
}

// Owns reports whether key routes to a bucket this node owns.
func (t *Table) Owns(key string) bool {
	prefix := PrefixOf([]byte(key), t.PrefixLength)
	_, ok := t.owned[prefix]
	return ok
}

// OwnedBuckets lists every prefix this node owns.
func (t *Table) OwnedBuckets() []string {
	out := make([]string, 0, len(t.owned))
	for p := range t.owned {
		out = append(out, p)
	}
	return out
}

// KeysOf returns key -> timestamp for the bucket matching prefix. A
// prefix longer than PrefixLength is truncated first; a prefix with no
// matching bucket yields an empty map rather than an error.
func (t *Table) KeysOf(prefix string) map[string]float64 {
	if len(prefix) > t.PrefixLength {
		prefix = prefix[:t.PrefixLength]
	}
	b, ok := t.buckets[prefix]
	if !ok {
		return map[string]float64{}
	}
	return b.Keys()
}

// Split returns the 16 child buckets (prefix one hex digit deeper) that
// the bucket at prefix would split into. It does not install them into
// the table's routing: dynamic repartitioning between peers is not
// performed, so splitting a single bucket while the rest of the table
// keeps a shorter, fixed PrefixLength would leave routing inconsistent.
// Split exists for tests/utilities that want to inspect or migrate a
// bucket's contents to a deeper partitioning scheme outside of live
// traffic.
func (t *Table) Split(prefix string) (map[string]*Bucket, error) {
	b, ok := t.buckets[prefix]
	if !ok {
		return nil, fmt.Errorf("dht: no bucket for prefix %q", prefix)
	}
	return b.Split(), nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
