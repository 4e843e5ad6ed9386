package node

import "context"

// handleControl answers one command read off the local control socket:
// EOF, CONNECT, GET, PUT, RGET, PEERS, or an ERR for anything
// unrecognized.
func (n *Node) handleControl(ctx context.Context, from string, payload [][]byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{[]byte("ERR"), []byte("EMPTY COMMAND")}
	}

	switch string(payload[0]) {
	case "EOF":
		n.pool.Submit(n.Stop)
		return [][]byte{[]byte("OK")}
	case "CONNECT":
		return n.controlConnect(payload[1:])
	case "GET":
		return n.controlGet(ctx, payload[1:])
	case "PUT":
		return n.controlPut(ctx, payload[1:])
	case "RGET":
		return n.controlRget(ctx, payload[1:])
	case "PEERS":
		return n.controlPeers()
	default:
		return append([][]byte{[]byte("ERR"), []byte("UNKNOWN COMMAND")}, payload...)
	}
}

func (n *Node) controlConnect(addrs [][]byte) [][]byte {
	for _, addr := range addrs {
		addr := string(addr)
		n.pool.Submit(func() {
			if err := n.Connect(n.ctx, addr); err != nil {
				n.log.Warn("control CONNECT failed", "addr", addr, "error", err)
			}
		})
	}
	return [][]byte{[]byte("OK")}
}

// controlGet resolves each requested key, locally or via rget, preserving
// input order: a hit contributes the value, a miss contributes KeyError,
// one frame per input key.
func (n *Node) controlGet(ctx context.Context, keys [][]byte) [][]byte {
	reply := make([][]byte, 0, len(keys))
	for _, k := range keys {
		value, err := n.get(ctx, string(k))
		if err != nil {
			reply = append(reply, []byte("KeyError"))
			continue
		}
		reply = append(reply, value)
	}
	return reply
}

func (n *Node) controlPut(ctx context.Context, args [][]byte) [][]byte {
	if len(args) < 2 {
		return [][]byte{[]byte("ERR"), []byte("PUT requires key and value")}
	}
	key, value := string(args[0]), args[1]
	if err := n.Put(ctx, key, value); err != nil {
		return [][]byte{[]byte("ERR"), []byte(err.Error())}
	}
	return [][]byte{[]byte("OK"), args[0], value}
}

// controlRget resolves each requested key via rget only, preserving
// input order: a hit contributes the value, a miss contributes
// KeyError, one frame per input key.
func (n *Node) controlRget(ctx context.Context, keys [][]byte) [][]byte {
	reply := make([][]byte, 0, len(keys))
	for _, k := range keys {
		value, _, err := n.rget(ctx, string(k))
		if err != nil {
			reply = append(reply, []byte("KeyError"))
			continue
		}
		reply = append(reply, value)
	}
	return reply
}

func (n *Node) controlPeers() [][]byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	reply := [][]byte{[]byte("PEERS")}
	for id := range n.peers {
		reply = append(reply, []byte(id))
	}
	return reply
}
