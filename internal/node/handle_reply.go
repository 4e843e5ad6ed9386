package node

import (
	"context"
	"encoding/json"

	"zhtd/internal/peer"
)

// handleReply answers one frame set received on the reply endpoint:
// PEER, PEERS, BUCKETS, KEYS, GET, falling back to an ECHO of the
// original frames for anything else.
func (n *Node) handleReply(ctx context.Context, from string, payload [][]byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{[]byte(peer.VerbEcho)}
	}

	switch string(payload[0]) {
	case peer.VerbPeer:
		return n.handlePeerHandshake(ctx, payload)
	case peer.VerbPeers:
		return n.handlePeers()
	case peer.VerbBuckets:
		return n.handleBuckets()
	case peer.VerbKeys:
		return n.handleKeys(payload)
	case peer.VerbGet:
		return n.handleGet(payload)
	default:
		return append([][]byte{[]byte(peer.VerbEcho)}, payload...)
	}
}

// handlePeerHandshake answers a PEER, id, reply_addr, publish_addr
// handshake with this node's own identity and addresses, then adopts
// the caller as a peer and spawns its sync task, exactly as Connect does
// for the dialing side — either side may initiate.
func (n *Node) handlePeerHandshake(ctx context.Context, payload [][]byte) [][]byte {
	reply := [][]byte{[]byte(peer.VerbPeer), []byte(n.Identity()), []byte(n.SelfAddr())}

	if len(payload) < 3 {
		n.log.Warn("malformed PEER handshake", "frames", len(payload))
		return reply
	}
	remoteID := string(payload[1])
	remoteReplyAddr := string(payload[2])

	if remoteID != n.Identity() {
		n.pool.Submit(func() {
			if err := n.Connect(n.ctx, remoteReplyAddr); err != nil {
				n.log.Warn("reciprocal connect failed", "peer", remoteID, "error", err)
			}
		})
	}

	return reply
}

func (n *Node) handlePeers() [][]byte {
	n.mu.RLock()
	known := make(map[string]string, len(n.peers))
	for id, p := range n.peers {
		known[id] = p.ReplyAddr
	}
	n.mu.RUnlock()

	body, err := json.Marshal(known)
	if err != nil {
		return n.errorFrames("PEERS", err)
	}
	return [][]byte{[]byte(peer.VerbPeers), body}
}

func (n *Node) handleBuckets() [][]byte {
	body, err := json.Marshal(n.table.OwnedBuckets())
	if err != nil {
		return n.errorFrames("BUCKETS", err)
	}
	return [][]byte{[]byte(peer.VerbBuckets), body}
}

func (n *Node) handleKeys(payload [][]byte) [][]byte {
	if len(payload) < 2 {
		return n.errorFrames("KEYS", errMissingArgument)
	}
	prefix := string(payload[1])
	body, err := json.Marshal(n.table.KeysOf(prefix))
	if err != nil {
		return n.errorFrames("KEYS", err)
	}
	return [][]byte{[]byte(peer.VerbKeys), payload[1], body}
}

func (n *Node) handleGet(payload [][]byte) [][]byte {
	if len(payload) < 2 {
		return n.errorFrames("GET", errMissingArgument)
	}
	key := string(payload[1])
	entry, err := n.table.Get(key)
	if err != nil {
		return [][]byte{[]byte(peer.VerbError), []byte("KeyError"), []byte(peer.VerbGet), payload[1]}
	}
	return [][]byte{[]byte(peer.VerbGet), payload[1], entry.Value, []byte(formatTimestamp(entry.Timestamp))}
}

func (n *Node) errorFrames(verb string, err error) [][]byte {
	return [][]byte{[]byte(peer.VerbError), []byte(err.Error()), []byte(verb)}
}
