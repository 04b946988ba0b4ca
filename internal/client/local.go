package client

import (
	"github.com/pkg/errors"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/service"
)

// LocalCaller dispatches directly to in-process *service.Server values,
// the client-side analogue of internal/transport.Local, for tests and the
// local demo cluster where no real network is involved.
type LocalCaller struct {
	servers map[raft.PeerID]*service.Server
}

// NewLocalCaller returns a Caller that looks up servers by PeerID and
// invokes the matching ClientAPI method directly.
func NewLocalCaller(servers map[raft.PeerID]*service.Server) *LocalCaller {
	return &LocalCaller{servers: servers}
}

// Call implements Caller.
func (l *LocalCaller) Call(to raft.PeerID, serviceMethod string, args, reply interface{}) error {
	srv, ok := l.servers[to]
	if !ok {
		return errors.Errorf("client: unknown server %s", to)
	}
	switch serviceMethod {
	case "ClientAPI.Propose":
		return srv.Propose(args.(*service.ProposeArgs), reply.(*service.ProposeReply))
	case "ClientAPI.Get":
		return srv.Get(args.(*service.GetArgs), reply.(*service.GetReply))
	case "ClientAPI.LockAcquire":
		return srv.LockAcquire(args.(*service.LockAcquireArgs), reply.(*service.LockAcquireReply))
	case "ClientAPI.LockRelease":
		return srv.LockRelease(args.(*service.LockReleaseArgs), reply.(*service.LockReleaseReply))
	default:
		return errors.Errorf("client: unknown method %s", serviceMethod)
	}
}
