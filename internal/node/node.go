// Package node wires the partitioned key-value store, the messaging
// fabric, and the peer state machine into a running mesh participant.
package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"

	"zhtd/internal/config"
	"zhtd/internal/dht"
	"zhtd/internal/fabric"
	"zhtd/internal/peer"
	"zhtd/pkg/logging"
)

const heartbeatInterval = 30 * time.Second

// Node owns the table, the peer set, and every endpoint of the
// messaging fabric.
type Node struct {
	cfg  config.ZhtConfig
	host host.Host
	ps   *pubsub.PubSub
	kad  *kaddht.IpfsDHT // optional, client-mode bootstrap assist only

	table *dht.Table

	replyServer *fabric.ReplyServer
	controlSrv  *fabric.ControlServer
	publisher   *fabric.Publisher
	subscriber  *fabric.Subscriber
	eventHub    *fabric.EventHub
	eventSrv    *http.Server

	pool *taskPool
	log  *logging.Logger

	mu             sync.RWMutex
	peers          map[string]*peer.Peer // identity -> Peer
	connectedAddrs map[string]struct{}   // reply addrs already dialed

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Node from cfg but does not start any network activity
// yet; call Start for that.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)
	log := logging.Default().Component("node")

	priv, err := loadOrCreateKey(cfg.Zht.DataDir)
	if err != nil {
		cancel()
		return nil, err
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Zht.ListenAddrs))
	for _, addr := range cfg.Zht.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("node: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("node: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("node: create gossipsub: %w", err)
	}

	n := &Node{
		cfg:            cfg.Zht,
		host:           h,
		ps:             ps,
		table:          dht.NewTable(1),
		pool:           newTaskPool(cfg.Zht.PoolSize),
		log:            log,
		peers:          make(map[string]*peer.Peer),
		connectedAddrs: make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}

	n.replyServer = fabric.NewReplyServer(n.handleReply, logging.Default().Component("fabric"))
	n.eventHub = fabric.NewEventHub(logging.Default())

	publisher, err := fabric.NewPublisher(ps, fabric.UpdatesTopic)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("node: join updates topic: %w", err)
	}
	n.publisher = publisher

	subscriber, err := fabric.NewSubscriber(ps, fabric.UpdatesTopic, h.ID())
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("node: subscribe updates topic: %w", err)
	}
	n.subscriber = subscriber

	identity := cfg.Zht.Identity
	if identity == "" {
		identity = h.ID().String()
	}
	n.controlSrv = fabric.NewControlServer(
		fabric.ControlSocketPath(identity),
		n.handleControl,
		logging.Default().Component("control"),
	)

	if len(cfg.Zht.BootstrapPeers) > 0 {
		if err := n.initBootstrapDHT(ctx, cfg.Zht.BootstrapPeers); err != nil {
			n.log.Warn("bootstrap DHT init failed, continuing without it", "error", err)
		}
	}

	return n, nil
}

// initBootstrapDHT constructs a client-mode Kademlia DHT purely to reach
// a configured bootstrap set. The PEER/PEERS protocol is the primary
// discovery path (see handleSubscribe); this is secondary and optional.
func (n *Node) initBootstrapDHT(ctx context.Context, bootstrapAddrs []string) error {
	kad, err := kaddht.New(ctx, n.host, kaddht.Mode(kaddht.ModeClient))
	if err != nil {
		return fmt.Errorf("node: create client dht: %w", err)
	}

	for _, addrStr := range bootstrapAddrs {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			n.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		info, err := libp2ppeer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	}

	if err := kad.Bootstrap(ctx); err != nil {
		return fmt.Errorf("node: bootstrap dht: %w", err)
	}
	n.kad = kad
	return nil
}

// Identity returns the node's libp2p peer ID as a string, used as the
// wire protocol identity.
func (n *Node) Identity() string {
	return n.host.ID().String()
}

// SelfAddr returns a dialable multiaddr for this node's reply endpoint,
// reused as the publish_addr too since both endpoints share one libp2p
// host.
func (n *Node) SelfAddr() string {
	addrs := n.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0], n.host.ID())
}

// Start begins the node's concurrent tasks: the reply loop (via the
// registered stream handler), subscribe loop, control loop, and
// heartbeat timer. It also dials any configured initial connect_addrs.
func (n *Node) Start() error {
	n.replyServer.Register(n.host)

	if err := n.controlSrv.Start(); err != nil {
		return fmt.Errorf("node: start control server: %w", err)
	}

	n.pool.Submit(n.subscribeLoop)
	n.pool.Submit(n.heartbeatLoop)
	n.pool.Submit(func() { n.eventHub.Run(n.ctx.Done()) })

	if n.cfg.EventsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/events", n.eventHub.ServeHTTP)
		n.eventSrv = &http.Server{Addr: n.cfg.EventsAddr, Handler: mux}
		n.pool.Submit(func() {
			if err := n.eventSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.log.Warn("event tap server failed", "error", err)
			}
		})
	}

	for _, addr := range n.cfg.ConnectAddrs {
		addr := addr
		n.pool.Submit(func() {
			if err := n.Connect(n.ctx, addr); err != nil {
				n.log.Warn("initial connect failed", "addr", addr, "error", err)
			}
		})
	}

	n.log.Info("node started", "identity", n.Identity(), "addr", n.SelfAddr())
	return nil
}

// Stop shuts down the control endpoint and cancels every background
// task. It does not flush pending publishes.
func (n *Node) Stop() {
	n.cancel()
	_ = n.controlSrv.Stop()
	n.replyServer.Deregister(n.host)
	n.publisher.Close()
	n.subscriber.Cancel()
	if n.eventSrv != nil {
		n.eventSrv.Close()
	}
	if n.kad != nil {
		n.kad.Close()
	}
	n.host.Close()
}

func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.publisher.Publish(n.ctx, [][]byte{[]byte("HEARTBEAT"), []byte(n.Identity())}); err != nil {
				n.log.Debug("heartbeat publish failed", "error", err)
			}
			n.eventHub.Broadcast(fabric.EventHeartbeat, n.Identity())
		}
	}
}

func (n *Node) subscribeLoop() {
	for {
		frames, from, err := n.subscriber.Next(n.ctx)
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				n.log.Debug("subscribe loop failed", "error", err)
				return
			}
		}
		n.pool.Submit(func() {
			n.handleSubscribe(n.ctx, frames, from)
		})
	}
}
