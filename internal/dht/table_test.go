package dht

import "testing"

func TestNewTableOwnsEveryPrefix(t *testing.T) {
	tbl := NewTable(1)
	owned := tbl.OwnedBuckets()
	if len(owned) != 16 {
		t.Fatalf("got %d owned buckets, want 16", len(owned))
	}
	for _, p := range owned {
		if len(p) != 1 {
			t.Fatalf("owned prefix %q has length %d, want 1", p, len(p))
		}
	}
}

func TestTableRoutingMatchesHashPrefix(t *testing.T) {
	tbl := NewTable(1)
	for _, key := range []string{"asdf", "qwer", "zxcv", "hello", "world"} {
		if b := tbl.bucketFor(key); b.Prefix != HashHex([]byte(key))[:1] {
			t.Fatalf("key %s routed to bucket %s, want hash prefix %s", key, b.Prefix, HashHex([]byte(key))[:1])
		}
		if _, err := tbl.Get(key); err != ErrKeyMissing {
			t.Fatalf("expected ErrKeyMissing for unwritten key %s, got %v", key, err)
		}
		if !tbl.Owns(key) {
			t.Fatalf("key %s should be owned at construction (every prefix starts owned)", key)
		}
	}
}

func TestTablePutThenGet(t *testing.T) {
	tbl := NewTable(1)
	ok, err := tbl.Put("asdf", []byte("qwer"))
	if err != nil || !ok {
		t.Fatalf("put: ok=%v err=%v", ok, err)
	}

	e, err := tbl.Get("asdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(e.Value) != "qwer" {
		t.Fatalf("value = %s, want qwer", e.Value)
	}
}

func TestTablePutWithTSAppliesLWW(t *testing.T) {
	tbl := NewTable(1)
	tbl.PutWithTS("k", []byte("v1"), 100)

	mutated, err := tbl.PutWithTS("k", []byte("v0"), 50)
	if err != nil {
		t.Fatalf("PutWithTS: %v", err)
	}
	if mutated {
		t.Fatal("older timestamp must not mutate")
	}

	mutated, err = tbl.PutWithTS("k", []byte("v2"), 150)
	if err != nil {
		t.Fatalf("PutWithTS: %v", err)
	}
	if !mutated {
		t.Fatal("newer timestamp must mutate")
	}
	e, _ := tbl.Get("k")
	if string(e.Value) != "v2" {
		t.Fatalf("value = %s, want v2", e.Value)
	}
}

func TestTablePutWithTSIdempotent(t *testing.T) {
	tbl := NewTable(1)
	tbl.PutWithTS("k", []byte("v"), 10)
	if mutated, _ := tbl.PutWithTS("k", []byte("v"), 10); mutated {
		t.Fatal("reapplying the identical update must return false")
	}
}

func TestKeysOfTruncatesLongPrefix(t *testing.T) {
	tbl := NewTable(1)
	tbl.Put("asdf", []byte("v"))

	prefix := PrefixOf([]byte("asdf"), 1)
	keysShort := tbl.KeysOf(prefix)
	keysLong := tbl.KeysOf(prefix + "ffffff")

	if len(keysShort) == 0 {
		t.Fatal("expected at least one key for the routed prefix")
	}
	if len(keysShort) != len(keysLong) {
		t.Fatalf("truncated and full-length prefix lookups disagree: %v vs %v", keysShort, keysLong)
	}
}

func TestKeysOfUnknownPrefixIsEmpty(t *testing.T) {
	tbl := NewTable(2)
	if keys := tbl.KeysOf("zz"); len(keys) != 0 {
		t.Fatalf("got %v, want empty map", keys)
	}
}

func TestTableSplitReturnsUninstalledChildren(t *testing.T) {
	tbl := NewTable(1)
	tbl.Put("asdf", []byte("v"))
	prefix := PrefixOf([]byte("asdf"), 1)

	children, err := tbl.Split(prefix)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(children) != 16 {
		t.Fatalf("got %d children, want 16", len(children))
	}
	// Split must not mutate the live table's routing.
	if tbl.PrefixLength != 1 {
		t.Fatalf("PrefixLength changed to %d, want unchanged at 1", tbl.PrefixLength)
	}
	if !tbl.Owns("asdf") {
		t.Fatal("split must not affect ownership of the live table")
	}
}
