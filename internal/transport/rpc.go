package transport

import (
	"context"
	"net"
	"net/rpc"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

// Service wraps a raft.Node's RPC surface for net/rpc registration. Method
// names and signatures follow net/rpc's (args, *reply) convention, which is
// also why the wire format is encoding/gob rather than JSON — gob is what
// net/rpc's default codec already speaks.
type Service struct {
	node handler
}

// NewService returns a net/rpc service wrapping node's RequestVote and
// AppendEntries handlers.
func NewService(node handler) *Service {
	return &Service{node: node}
}

// RequestVote is the net/rpc entry point for a RequestVote call.
func (s *Service) RequestVote(args *raft.RequestVoteArgs, reply *raft.RequestVoteReply) error {
	r, err := s.node.RequestVote(args)
	if err != nil {
		return err
	}
	*reply = *r
	return nil
}

// AppendEntries is the net/rpc entry point for an AppendEntries call.
func (s *Service) AppendEntries(args *raft.AppendEntriesArgs, reply *raft.AppendEntriesReply) error {
	r, err := s.node.AppendEntries(args)
	if err != nil {
		return err
	}
	*reply = *r
	return nil
}

// Serve registers svc under the name "Raft" and accepts connections on
// addr until ctx is cancelled. It blocks until the listener closes.
func Serve(ctx context.Context, addr string, svc *Service, logger *zap.Logger) error {
	return serveNamed(ctx, addr, "Raft", svc, logger)
}

// ServeClientAPI registers the ClientAPI service (see internal/service) and
// accepts connections on addr until ctx is cancelled. It is the client-
// facing counterpart to Serve, kept on a separate port so the Raft-internal
// and client RPC surfaces never share a net/rpc server instance.
func ServeClientAPI(ctx context.Context, addr string, svc interface{}, logger *zap.Logger) error {
	return serveNamed(ctx, addr, "ClientAPI", svc, logger)
}

func serveNamed(ctx context.Context, addr string, name string, svc interface{}, logger *zap.Logger) error {
	server := rpc.NewServer()
	if err := server.RegisterName(name, svc); err != nil {
		return errors.Wrapf(err, "transport: register rpc service %s", name)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "transport: listen on %s", addr)
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("transport: accept failed", zap.Error(err))
				continue
			}
		}
		go server.ServeConn(conn)
	}
}

// TCP is a production raft.Transport that dials peer addresses over
// net/rpc. Connections are established lazily and cached per peer.
type TCP struct {
	mu      sync.Mutex
	addrs   map[raft.PeerID]string
	clients map[raft.PeerID]*rpc.Client
}

// NewTCP returns a TCP transport that resolves peer ids to dial addresses
// via the given map (e.g. "n2" -> "10.0.0.2:7000").
func NewTCP(addrs map[raft.PeerID]string) *TCP {
	return &TCP{
		addrs:   addrs,
		clients: make(map[raft.PeerID]*rpc.Client),
	}
}

func (t *TCP) clientFor(peer raft.PeerID) (*rpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[peer]; ok {
		return c, nil
	}
	addr, ok := t.addrs[peer]
	if !ok {
		return nil, errors.Errorf("transport: no address for peer %s", peer)
	}
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", addr)
	}
	t.clients[peer] = c
	return c, nil
}

// invalidate drops a cached client after a failed call, so the next send
// retries a fresh dial rather than reusing a dead connection.
func (t *TCP) invalidate(peer raft.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[peer]; ok {
		_ = c.Close()
		delete(t.clients, peer)
	}
}

// SendRequestVote implements raft.Transport.
func (t *TCP) SendRequestVote(ctx context.Context, to raft.PeerID, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	client, err := t.clientFor(to)
	if err != nil {
		return nil, err
	}
	reply := &raft.RequestVoteReply{}
	if err := t.callWithContext(ctx, client, to, "Raft.RequestVote", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// SendAppendEntries implements raft.Transport.
func (t *TCP) SendAppendEntries(ctx context.Context, to raft.PeerID, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	client, err := t.clientFor(to)
	if err != nil {
		return nil, err
	}
	reply := &raft.AppendEntriesReply{}
	if err := t.callWithContext(ctx, client, to, "Raft.AppendEntries", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *TCP) callWithContext(ctx context.Context, client *rpc.Client, peer raft.PeerID, method string, args, reply interface{}) error {
	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-call.Done:
		if res.Error != nil {
			t.invalidate(peer)
			return errors.Wrapf(res.Error, "transport: %s to %s", method, peer)
		}
		return nil
	}
}
