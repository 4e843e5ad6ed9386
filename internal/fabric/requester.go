package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Requester is the client side of a peer's reply endpoint: one
// dedicated, strictly-serialized request channel per remote peer, at
// most one outstanding request at a time. Each call to Request opens a
// fresh stream, and the mutex enforces that a second caller cannot
// interleave a request onto the same peer while one is in flight.
type Requester struct {
	host   host.Host
	target peer.ID
	mu     sync.Mutex
}

// NewRequester builds a requester that dials target over h.
func NewRequester(h host.Host, target peer.ID) *Requester {
	return &Requester{host: h, target: target}
}

// Request sends frames as the application payload (no envelope — direct
// peer-to-peer calls never need one; SplitEnvelope on the server side
// treats an envelope-less message as pure payload) and returns the
// peer's reply payload frames.
func (r *Requester) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.host.NewStream(ctx, r.target, ReplyProtocol)
	if err != nil {
		return nil, fmt.Errorf("fabric: open stream to %s: %w", shortPeer(r.target), err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(30 * time.Second))

	if err := WriteFrames(stream, frames); err != nil {
		return nil, fmt.Errorf("fabric: send request: %w", err)
	}

	reply, err := ReadFrames(stream)
	if err != nil {
		return nil, fmt.Errorf("fabric: read reply: %w", err)
	}
	// The server echoes no envelope for an envelope-less request, so the
	// whole reply is payload (including any empty frames it carries).
	return reply, nil
}
