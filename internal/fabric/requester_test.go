package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"

	"zhtd/pkg/logging"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(
		libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func connectHosts(t *testing.T, a, b host.Host) {
	t.Helper()
	info := peer.AddrInfo{ID: b.ID(), Addrs: b.Addrs()}
	a.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	if err := a.Connect(context.Background(), info); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestRequesterRequestReply(t *testing.T) {
	server := newTestHost(t)
	client := newTestHost(t)
	connectHosts(t, client, server)

	replyServer := NewReplyServer(func(ctx context.Context, from string, payload [][]byte) [][]byte {
		return [][]byte{[]byte("PONG"), payload[0]}
	}, logging.Default().Component("reply"))
	replyServer.Register(server)

	requester := NewRequester(client, server.ID())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := requester.Request(ctx, [][]byte{[]byte("PING")})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(reply) != 2 || string(reply[0]) != "PONG" || string(reply[1]) != "PING" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestRequesterSerializesConcurrentCalls(t *testing.T) {
	server := newTestHost(t)
	client := newTestHost(t)
	connectHosts(t, client, server)

	active := make(chan struct{}, 1)
	replyServer := NewReplyServer(func(ctx context.Context, from string, payload [][]byte) [][]byte {
		select {
		case active <- struct{}{}:
		default:
			t.Error("overlapping requests detected on same peer")
		}
		time.Sleep(20 * time.Millisecond)
		<-active
		return [][]byte{[]byte("OK")}
	}, logging.Default().Component("reply"))
	replyServer.Register(server)

	requester := NewRequester(client, server.ID())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := requester.Request(ctx, [][]byte{[]byte("X")})
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Request: %v", err)
		}
	}
}
