package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"zhtd/internal/dht"
	"zhtd/pkg/logging"
)

// Requester is the dedicated, per-peer request/reply channel a Peer talks
// over. zhtd/internal/fabric.Requester satisfies this.
type Requester interface {
	Request(ctx context.Context, frames [][]byte) ([][]byte, error)
}

// Store is the subset of the local table a Peer's sync loop needs: read
// a key, merge a remote value in with last-writer-wins semantics, and
// enumerate owned prefixes to compute the sync intersection.
type Store interface {
	Get(key string) (*dht.Entry, error)
	PutWithTS(key string, value []byte, ts float64) (bool, error)
	OwnedBuckets() []string
}

// UpdatePublisher lets the sync loop announce a locally-accepted remote
// write, so the rest of the mesh converges on it too.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, key string)
}

// Peer is the local handle to a remote node: its identity and addresses,
// a serialized request channel, the owned-bucket set learned from it,
// and the initial sync state machine.
type Peer struct {
	Identity    string
	ReplyAddr   string
	PublishAddr string

	requester Requester
	store     Store
	publisher UpdatePublisher
	log       *logging.Logger

	ownedBucketsMu sync.RWMutex
	ownedBuckets   map[string]struct{}

	initialized atomic.Bool
}

// New builds a peer handle. Callers must invoke Sync (typically in its
// own goroutine) to run the initial sync dialogue.
func New(identity, replyAddr, publishAddr string, requester Requester, store Store, publisher UpdatePublisher, log *logging.Logger) *Peer {
	return &Peer{
		Identity:    identity,
		ReplyAddr:   replyAddr,
		PublishAddr: publishAddr,
		requester:   requester,
		store:       store,
		publisher:   publisher,
		log:         log.Component("peer").With("peer", identity),
	}
}

// Initialized reports whether the sync loop has finished.
func (p *Peer) Initialized() bool {
	return p.initialized.Load()
}

// OwnedBuckets returns the prefixes this peer reported owning. Empty
// until Sync reaches step 2.
func (p *Peer) OwnedBuckets() []string {
	p.ownedBucketsMu.RLock()
	defer p.ownedBucketsMu.RUnlock()
	out := make([]string, 0, len(p.ownedBuckets))
	for b := range p.ownedBuckets {
		out = append(out, b)
	}
	return out
}

// Owns reports whether the peer's reported owned buckets contain a
// prefix that h (a full hash) starts with. Used by rget routing.
func (p *Peer) Owns(h string) bool {
	p.ownedBucketsMu.RLock()
	defer p.ownedBucketsMu.RUnlock()
	for b := range p.ownedBuckets {
		if len(h) >= len(b) && h[:len(b)] == b {
			return true
		}
	}
	return false
}

// Request issues frames over the peer's dedicated request channel.
func (p *Peer) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	return p.requester.Request(ctx, frames)
}

// Sync runs the full initial sync dialogue: PEERS (log only), BUCKETS,
// then per-overlapping-prefix KEYS and per-key reconciliation. It sets
// Initialized once the dialogue completes.
//
// A remote key that already exists locally but is stale is reconciled
// the same way as one that's entirely absent: fetch the remote value
// via GET and merge through PutWithTS. There is only one reconciliation
// path below, not two, since both cases need the same fetch-and-merge.
func (p *Peer) Sync(ctx context.Context) error {
	if err := p.syncPeers(ctx); err != nil {
		p.log.Warn("PEERS step failed", "error", err)
	}

	owned, err := p.syncBuckets(ctx)
	if err != nil {
		return fmt.Errorf("peer: BUCKETS sync with %s: %w", p.Identity, err)
	}

	for _, prefix := range intersect(owned, p.store.OwnedBuckets()) {
		if err := p.syncKeys(ctx, prefix); err != nil {
			p.log.Warn("KEYS sync failed", "prefix", prefix, "error", err)
		}
	}

	p.initialized.Store(true)
	p.log.Info("peer initialized")
	return nil
}

func (p *Peer) syncPeers(ctx context.Context) error {
	reply, err := p.requester.Request(ctx, [][]byte{[]byte(VerbPeers)})
	if err != nil {
		return err
	}
	known, err := DecodePeersReply(reply)
	if err != nil {
		return err
	}
	for id, addr := range known {
		p.log.Debug("peer knows of", "id", id, "reply_addr", addr)
	}
	return nil
}

func (p *Peer) syncBuckets(ctx context.Context) ([]string, error) {
	reply, err := p.requester.Request(ctx, [][]byte{[]byte(VerbBuckets)})
	if err != nil {
		return nil, err
	}
	owned, err := DecodeBucketsReply(reply)
	if err != nil {
		return nil, err
	}

	p.ownedBucketsMu.Lock()
	p.ownedBuckets = make(map[string]struct{}, len(owned))
	for _, b := range owned {
		p.ownedBuckets[b] = struct{}{}
	}
	p.ownedBucketsMu.Unlock()

	return owned, nil
}

func (p *Peer) syncKeys(ctx context.Context, prefix string) error {
	reply, err := p.requester.Request(ctx, [][]byte{[]byte(VerbKeys), []byte(prefix)})
	if err != nil {
		return err
	}
	remoteKeys, err := DecodeKeysReply(reply)
	if err != nil {
		return err
	}

	for key, remoteTS := range remoteKeys {
		needsFetch := true
		if entry, err := p.store.Get(key); err == nil {
			needsFetch = entry.Timestamp < remoteTS
		}
		if !needsFetch {
			continue
		}
		if err := p.fetchAndMerge(ctx, key); err != nil {
			p.log.Warn("key reconciliation failed", "key", key, "error", err)
		}
	}
	return nil
}

func (p *Peer) fetchAndMerge(ctx context.Context, key string) error {
	reply, err := p.requester.Request(ctx, [][]byte{[]byte(VerbGet), []byte(key)})
	if err != nil {
		return err
	}
	value, ts, err := DecodeGetReply(reply)
	if err != nil {
		return err
	}
	mutated, err := p.store.PutWithTS(key, value, ts)
	if err != nil {
		return err
	}
	if mutated && p.publisher != nil {
		p.publisher.PublishUpdate(ctx, key)
	}
	return nil
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0)
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
