package node

import (
	"context"
	"fmt"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"zhtd/internal/fabric"
	"zhtd/internal/peer"
)

// Connect dials a peer's reply endpoint and performs the handshake:
// idempotent on reply_addr, installs a Peer and spawns its sync task on
// success, and announces the adoption so other peers can discover it
// transitively.
func (n *Node) Connect(ctx context.Context, replyAddr string) error {
	n.mu.Lock()
	if _, already := n.connectedAddrs[replyAddr]; already {
		n.mu.Unlock()
		return nil
	}
	n.connectedAddrs[replyAddr] = struct{}{}
	n.mu.Unlock()

	ma, err := multiaddr.NewMultiaddr(replyAddr)
	if err != nil {
		return fmt.Errorf("node: invalid peer address %s: %w", replyAddr, err)
	}
	info, err := libp2ppeer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return fmt.Errorf("node: invalid peer info %s: %w", replyAddr, err)
	}

	if err := n.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("node: dial %s: %w", replyAddr, err)
	}

	requester := fabric.NewRequester(n.host, info.ID)
	reply, err := requester.Request(ctx, [][]byte{
		[]byte(peer.VerbPeer),
		[]byte(n.Identity()),
		[]byte(n.SelfAddr()),
		[]byte(n.SelfAddr()),
	})
	if err != nil {
		return fmt.Errorf("node: PEER handshake with %s: %w", replyAddr, err)
	}
	if len(reply) < 3 || string(reply[0]) != peer.VerbPeer {
		return fmt.Errorf("node: malformed PEER reply from %s", replyAddr)
	}
	remoteID := string(reply[1])
	remotePublishAddr := string(reply[2])

	n.adoptPeer(ctx, remoteID, replyAddr, remotePublishAddr, requester)
	return nil
}

// adoptPeer installs a Peer for remoteID if it is new and is not this
// node's own identity, then announces it for transitive discovery.
// Rejecting a handshake with ourselves or an already-known peer is a
// silent no-op rather than an error.
func (n *Node) adoptPeer(ctx context.Context, remoteID, replyAddr, publishAddr string, requester peer.Requester) {
	if remoteID == n.Identity() {
		return
	}

	n.mu.Lock()
	if _, exists := n.peers[remoteID]; exists {
		n.mu.Unlock()
		return
	}
	p := peer.New(remoteID, replyAddr, publishAddr, requester, n.table, n, n.log)
	n.peers[remoteID] = p
	n.mu.Unlock()

	n.pool.Submit(func() {
		if err := p.Sync(ctx); err != nil {
			n.log.Warn("peer sync failed", "peer", remoteID, "error", err)
		}
	})

	if err := n.publisher.Publish(ctx, [][]byte{[]byte(peer.VerbPeer), []byte(remoteID), []byte(replyAddr)}); err != nil {
		n.log.Debug("peer advertisement publish failed", "error", err)
	}
	n.eventHub.Broadcast(fabric.EventPeer, remoteID)
}

// PublishUpdate announces a locally-accepted mutation for key, satisfying
// peer.UpdatePublisher so Peer.Sync can fan updates out after a merge.
func (n *Node) PublishUpdate(ctx context.Context, key string) {
	entry, err := n.table.Get(key)
	if err != nil {
		n.log.Warn("PublishUpdate: key vanished before publish", "key", key, "error", err)
		return
	}
	frames := [][]byte{
		[]byte(peer.VerbUpdate + "|" + entry.Hash),
		[]byte(key),
		entry.Value,
		[]byte(formatTimestamp(entry.Timestamp)),
	}
	if err := n.publisher.Publish(ctx, frames); err != nil {
		n.log.Debug("update publish failed", "key", key, "error", err)
	}
}
