// Package dht implements the partitioned, timestamped key-value store:
// prefix routing over a SHA-1 digest, last-writer-wins entries, and the
// bucket/table containers that hold them.
package dht

import "errors"

// ErrKeyMissing is returned when an owned bucket does not contain the key.
var ErrKeyMissing = errors.New("dht: key missing")

// ErrUncachedLookup is returned when an unowned bucket is asked for a key
// it does not happen to have cached locally.
var ErrUncachedLookup = errors.New("dht: uncached lookup")

// ErrUnownedWrite is returned when a write lands on a bucket this node
// does not own.
var ErrUnownedWrite = errors.New("dht: write against unowned bucket")
