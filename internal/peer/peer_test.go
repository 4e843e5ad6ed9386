package peer

import (
	"context"
	"encoding/json"
	"testing"

	"zhtd/internal/dht"
	"zhtd/pkg/logging"
)

// scriptedRequester returns the canned reply keyed by the request verb
// (frames[0]) on every call, and records each call's verb in order.
type scriptedRequester struct {
	replies map[string][][]byte
	calls   []string
}

func (s *scriptedRequester) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	verb := string(frames[0])
	s.calls = append(s.calls, verb)
	return s.replies[verb], nil
}

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) PublishUpdate(ctx context.Context, key string) {
	f.published = append(f.published, key)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func TestPeerSyncFetchesAbsentKeys(t *testing.T) {
	table := dht.NewTable(1)

	requester := &scriptedRequester{replies: map[string][][]byte{
		VerbPeers:   {[]byte(VerbPeers), mustJSON(t, map[string]string{"other": "addr"})},
		VerbBuckets: {[]byte(VerbBuckets), mustJSON(t, []string{"a"})},
		VerbKeys:    {[]byte(VerbKeys), []byte("a"), mustJSON(t, map[string]float64{"hello": 100.0})},
		VerbGet:     {[]byte(VerbGet), []byte("hello"), []byte("world"), []byte("100")},
	}}
	publisher := &fakePublisher{}

	p := New("remote-id", "tcp://remote", "tcp://remote-pub", requester, table, publisher, logging.Default())

	// Force the local node to own prefix "a" so the sync intersection is
	// non-empty; NewTable(1) already owns every single-hex prefix.
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if !p.Initialized() {
		t.Fatal("expected peer to be initialized after Sync")
	}

	entry, err := table.Get("hello")
	if err != nil {
		t.Fatalf("Get(hello): %v", err)
	}
	if string(entry.Value) != "world" {
		t.Fatalf("value = %q, want %q", entry.Value, "world")
	}
	if len(publisher.published) != 1 || publisher.published[0] != "hello" {
		t.Fatalf("expected one publish for 'hello', got %v", publisher.published)
	}
}

func TestPeerSyncSkipsFresherLocalEntries(t *testing.T) {
	table := dht.NewTable(1)
	if _, err := table.PutWithTS("hello", []byte("local-fresh"), 500.0); err != nil {
		t.Fatalf("seed PutWithTS: %v", err)
	}

	requester := &scriptedRequester{replies: map[string][][]byte{
		VerbPeers:   {[]byte(VerbPeers), mustJSON(t, map[string]string{})},
		VerbBuckets: {[]byte(VerbBuckets), mustJSON(t, []string{"a"})},
		VerbKeys:    {[]byte(VerbKeys), []byte("a"), mustJSON(t, map[string]float64{"hello": 100.0})},
	}}
	publisher := &fakePublisher{}

	p := New("remote-id", "tcp://remote", "tcp://remote-pub", requester, table, publisher, logging.Default())
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	for _, call := range requester.calls {
		if call == VerbGet {
			t.Fatal("should not have issued GET for a key the local side is already fresher on")
		}
	}

	entry, err := table.Get("hello")
	if err != nil {
		t.Fatalf("Get(hello): %v", err)
	}
	if string(entry.Value) != "local-fresh" {
		t.Fatalf("local entry was overwritten: %q", entry.Value)
	}
}

func TestPeerOwnsMatchesReportedBucketPrefixes(t *testing.T) {
	table := dht.NewTable(1)
	requester := &scriptedRequester{replies: map[string][][]byte{
		VerbPeers:   {[]byte(VerbPeers), mustJSON(t, map[string]string{})},
		VerbBuckets: {[]byte(VerbBuckets), mustJSON(t, []string{"a", "b"})},
	}}
	p := New("remote-id", "tcp://remote", "tcp://remote-pub", requester, table, nil, logging.Default())

	if _, err := p.syncBuckets(context.Background()); err != nil {
		t.Fatalf("syncBuckets: %v", err)
	}

	if !p.Owns("a1234") {
		t.Fatal("expected Owns to match reported prefix 'a'")
	}
	if p.Owns("c1234") {
		t.Fatal("did not expect Owns to match an unreported prefix")
	}
}
