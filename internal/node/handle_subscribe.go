package node

import (
	"context"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"

	"zhtd/internal/fabric"
	"zhtd/internal/peer"
)

// handleSubscribe processes one frame set received on the updates
// topic: an UPDATE merges and conditionally republishes, a PEER
// advertisement triggers a transitive connect, and HEARTBEAT is logged
// only. from is the peer the frame set was received from; it is not
// consulted here, since the Subscriber already drops this node's own
// publishes.
func (n *Node) handleSubscribe(ctx context.Context, frames [][]byte, from libp2ppeer.ID) {
	if len(frames) == 0 {
		return
	}

	verb := string(frames[0])
	switch {
	case len(verb) >= len(peer.VerbUpdate) && verb[:len(peer.VerbUpdate)] == peer.VerbUpdate:
		n.handleUpdate(ctx, frames)
	case verb == "HEARTBEAT":
		if len(frames) >= 2 {
			n.log.Debug("heartbeat", "from", string(frames[1]))
		}
	case verb == peer.VerbPeer:
		n.handlePeerAdvertisement(ctx, frames)
	default:
		n.log.Debug("unrecognized publish", "verb", verb)
	}
}

// handleUpdate merges an UPDATE|hash, key, value, repr(ts) broadcast into
// the local table and republishes only if the merge actually mutated
// state, bounding fan-out via last-writer-wins idempotence rather than
// any message ordering or dedup cache.
func (n *Node) handleUpdate(ctx context.Context, frames [][]byte) {
	if len(frames) < 4 {
		n.log.Warn("malformed UPDATE broadcast", "frames", len(frames))
		return
	}
	key := string(frames[1])
	value := frames[2]
	ts, err := parseTimestamp(string(frames[3]))
	if err != nil {
		n.log.Warn("malformed UPDATE timestamp", "key", key, "error", err)
		return
	}

	mutated, err := n.table.PutWithTS(key, value, ts)
	if err != nil {
		n.log.Debug("UPDATE merge rejected", "key", key, "error", err)
		return
	}
	if mutated {
		n.eventHub.Broadcast(fabric.EventUpdate, key)
		n.PublishUpdate(ctx, key)
	}
}

// handlePeerAdvertisement connects transitively to a peer announced by
// someone else, unless it is already known or is this node itself.
func (n *Node) handlePeerAdvertisement(ctx context.Context, frames [][]byte) {
	if len(frames) < 3 {
		return
	}
	remoteID := string(frames[1])
	remoteReplyAddr := string(frames[2])

	if remoteID == n.Identity() {
		return
	}
	n.mu.RLock()
	_, known := n.peers[remoteID]
	n.mu.RUnlock()
	if known {
		return
	}

	if err := n.Connect(ctx, remoteReplyAddr); err != nil {
		n.log.Debug("transitive connect failed", "peer", remoteID, "error", err)
	}
}
