package node

import (
	"context"
	"errors"
	"fmt"

	"zhtd/internal/dht"
	"zhtd/internal/fabric"
	"zhtd/internal/peer"
)

// Put stores value under key locally and publishes an UPDATE so the rest
// of the mesh converges.
func (n *Node) Put(ctx context.Context, key string, value []byte) error {
	if _, err := n.table.Put(key, value); err != nil {
		return err
	}
	n.eventHub.Broadcast(fabric.EventUpdate, key)
	n.PublishUpdate(ctx, key)
	return nil
}

// rget resolves key by asking whichever known peer owns the bucket its
// hash routes to. It returns dht.ErrKeyMissing if no known peer owns it;
// a failed request to the owning peer, or an ERROR reply from it, is
// returned as a wrapped error. Only the first owning peer found is asked.
func (n *Node) rget(ctx context.Context, key string) ([]byte, float64, error) {
	hash := dht.HashHex([]byte(key))

	n.mu.RLock()
	var target *peer.Peer
	for _, p := range n.peers {
		if p.Owns(hash) {
			target = p
			break
		}
	}
	n.mu.RUnlock()

	if target == nil {
		return nil, 0, dht.ErrKeyMissing
	}

	reply, err := target.Request(ctx, [][]byte{[]byte(peer.VerbGet), []byte(key)})
	if err != nil {
		return nil, 0, fmt.Errorf("node: rget %s from %s: %w", key, target.Identity, err)
	}
	value, ts, err := peer.DecodeGetReply(reply)
	if err != nil {
		return nil, 0, fmt.Errorf("node: rget %s from %s: %w", key, target.Identity, err)
	}
	return value, ts, nil
}

// get resolves key locally first, falling back to rget only when the
// key's bucket is not owned locally. An owned bucket's miss is a
// definitive dht.ErrKeyMissing, never worth an rget attempt.
func (n *Node) get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.table.Get(key)
	if err == nil {
		return entry.Value, nil
	}
	if !errors.Is(err, dht.ErrUncachedLookup) {
		return nil, err
	}
	value, _, err := n.rget(ctx, key)
	return value, err
}
