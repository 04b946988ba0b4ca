package client

import (
	"net/rpc"
	"sync"

	"github.com/pkg/errors"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

// RPCCaller dials ClientAPI servers over net/rpc, caching one connection
// per peer the same way internal/transport.TCP does for the Raft-internal
// RPCs.
type RPCCaller struct {
	mu      sync.Mutex
	addrs   map[raft.PeerID]string
	clients map[raft.PeerID]*rpc.Client
}

// NewRPCCaller returns a Caller that resolves peer ids to dial addresses
// via addrs (e.g. "n1" -> "10.0.0.1:7100", the ClientAPI port, distinct
// from the Raft-internal RPC port).
func NewRPCCaller(addrs map[raft.PeerID]string) *RPCCaller {
	return &RPCCaller{addrs: addrs, clients: make(map[raft.PeerID]*rpc.Client)}
}

func (r *RPCCaller) clientFor(to raft.PeerID) (*rpc.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[to]; ok {
		return c, nil
	}
	addr, ok := r.addrs[to]
	if !ok {
		return nil, errors.Errorf("client: no address for server %s", to)
	}
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "client: dial %s", addr)
	}
	r.clients[to] = c
	return c, nil
}

func (r *RPCCaller) invalidate(to raft.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[to]; ok {
		_ = c.Close()
		delete(r.clients, to)
	}
}

// Call implements Caller.
func (r *RPCCaller) Call(to raft.PeerID, serviceMethod string, args, reply interface{}) error {
	c, err := r.clientFor(to)
	if err != nil {
		return err
	}
	if err := c.Call(serviceMethod, args, reply); err != nil {
		r.invalidate(to)
		return errors.Wrapf(err, "client: %s to %s", serviceMethod, to)
	}
	return nil
}
