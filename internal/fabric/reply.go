package fabric

import (
	"context"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"zhtd/pkg/logging"
)

// Handler answers one request's payload frames with reply payload frames.
// The envelope (if any) is handled by the engine, never seen by Handler.
type Handler func(ctx context.Context, from string, payload [][]byte) [][]byte

// ReplyEngine is the transport-agnostic half of the reply endpoint:
// read one multipart request, split its envelope, invoke Handler on the
// payload, and write back envelope+reply. Both the network-facing reply
// protocol and the local control socket are this same engine wired to
// different transports.
type ReplyEngine struct {
	handler Handler
	log     *logging.Logger
}

// NewReplyEngine builds an engine around handler.
func NewReplyEngine(handler Handler, log *logging.Logger) *ReplyEngine {
	return &ReplyEngine{handler: handler, log: log}
}

// ServeOnce reads exactly one request off rw, answers it via Handler, and
// writes exactly one reply. from identifies the caller for logging only.
func (e *ReplyEngine) ServeOnce(ctx context.Context, rw io.ReadWriter, from string) error {
	frames, err := ReadFrames(rw)
	if err != nil {
		return err
	}
	envelope, payload := SplitEnvelope(frames)
	reply := e.handler(ctx, from, payload)
	out := append(append([][]byte{}, envelope...), reply...)
	return WriteFrames(rw, out)
}

// ReplyProtocol is the libp2p stream protocol the reply endpoint listens
// on. It is a fixed constant shared by every node.
const ReplyProtocol protocol.ID = "/zht/reply/1.0.0"

// streamReadWriter adapts a network.Stream's deadline-bearing Read/Write
// into the plain io.ReadWriter ReplyEngine expects.
type streamReadWriter struct {
	network.Stream
}

// ReplyServer binds ReplyProtocol on a libp2p host and serves every
// incoming stream with a ReplyEngine, one request-reply round trip per
// stream.
type ReplyServer struct {
	engine *ReplyEngine
	log    *logging.Logger
}

// NewReplyServer builds a reply server around handler.
func NewReplyServer(handler Handler, log *logging.Logger) *ReplyServer {
	return &ReplyServer{engine: NewReplyEngine(handler, log), log: log}
}

// Register installs the stream handler on host h. Call Deregister to
// detach it (e.g. during node shutdown).
func (s *ReplyServer) Register(h StreamHost) {
	h.SetStreamHandler(ReplyProtocol, s.handleStream)
}

// Deregister removes the stream handler from host h.
func (s *ReplyServer) Deregister(h StreamHost) {
	h.RemoveStreamHandler(ReplyProtocol)
}

func (s *ReplyServer) handleStream(stream network.Stream) {
	defer stream.Close()

	remote := stream.Conn().RemotePeer()
	stream.SetDeadline(time.Now().Add(30 * time.Second))

	ctx := context.Background()
	if err := s.engine.ServeOnce(ctx, streamReadWriter{stream}, remote.String()); err != nil {
		s.log.Debug("reply stream failed", "peer", shortPeer(remote), "error", err)
	}
}

// StreamHost is the subset of host.Host ReplyServer needs; declared
// locally so ReplyServer can be exercised in tests against a fake host
// without pulling up a real libp2p swarm.
type StreamHost interface {
	SetStreamHandler(protocol.ID, network.StreamHandler)
	RemoveStreamHandler(protocol.ID)
}

func shortPeer(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
