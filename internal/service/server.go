// Package service exposes a raft.Node plus its lockservice.Store as the
// client-facing RPC surface: propose, get, lock_acquire, lock_release.
// Every mutating call is encoded as an opaque lockservice
// command and driven through raft.Node.ProposeAndWait so it only returns
// once the command has actually committed and been applied.
package service

import (
	"context"
	"time"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/lockservice"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

// Server is registered as a net/rpc service (see internal/transport) and
// also callable directly in-process for tests and the local demo cluster.
type Server struct {
	node  *raft.Node
	store *lockservice.Store
	clock raft.Clock

	proposeTimeout time.Duration
}

// NewServer wires node and store together behind the client API. clock is
// used to stamp LockAcquire commands with the leader's wall-clock reading
// before they are proposed, so Apply stays a pure function of the
// committed log (see internal/lockservice's doc comment on LockAcquire).
func NewServer(node *raft.Node, store *lockservice.Store, clock raft.Clock, proposeTimeout time.Duration) *Server {
	return &Server{node: node, store: store, clock: clock, proposeTimeout: proposeTimeout}
}

const (
	errNone          = ""
	errProposeFailed = "ProposeFailed"
	errTimeout       = "ProposalTimeout"
	errDecodeFailed  = "ResultDecodeFailed"
)

func leaderFields(err error) (wrongLeader bool, hint string) {
	notLeader, ok := err.(*raft.NotLeader)
	if !ok {
		return false, ""
	}
	return true, string(notLeader.Hint)
}

// proposeResult bundles everything a handler needs to fill in a reply
// after proposeAndWait returns, without resorting to package-level state.
type proposeResult struct {
	result      []byte
	err         string
	wrongLeader bool
	leaderHint  string
}

func (s *Server) proposeAndWait(command []byte) proposeResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.proposeTimeout)
	defer cancel()
	result, _, err := s.node.ProposeAndWait(ctx, command)
	if err == nil {
		return proposeResult{result: result}
	}
	if wrongLeader, hint := leaderFields(err); wrongLeader {
		return proposeResult{err: errProposeFailed, wrongLeader: true, leaderHint: hint}
	}
	if err == raft.ErrProposalTimeout {
		return proposeResult{err: errTimeout}
	}
	return proposeResult{err: errProposeFailed}
}

// ProposeArgs carries an already-encoded lockservice command (or any other
// opaque command bytes the caller wants applied) plus the request id used
// for commit-at-most-once de-duplication.
type ProposeArgs struct {
	Command   []byte
	RequestID string
}

// ProposeReply is the generic propose() result.
type ProposeReply struct {
	WrongLeader bool
	LeaderHint  string
	Err         string
	Index       uint64
	Result      []byte
}

// Propose implements the generic propose(command_bytes) operation.
func (s *Server) Propose(args *ProposeArgs, reply *ProposeReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.proposeTimeout)
	defer cancel()
	result, index, err := s.node.ProposeAndWait(ctx, args.Command)
	if err != nil {
		reply.WrongLeader, reply.LeaderHint = leaderFields(err)
		if !reply.WrongLeader {
			reply.Err = errProposeFailed
			if err == raft.ErrProposalTimeout {
				reply.Err = errTimeout
			}
		}
		return nil
	}
	reply.Index = index
	reply.Result = result
	return nil
}

// GetArgs carries a read request; ReadKind is "local" (serve from this
// node's applied state, possibly stale) or "linearizable" (must route to
// the leader and confirm leadership first).
type GetArgs struct {
	Key      string
	ReadKind string
}

// GetReply is the get() result.
type GetReply struct {
	WrongLeader bool
	LeaderHint  string
	Err         string
	Value       []byte
	Found       bool
}

// Get implements get(key) for both read kinds.
func (s *Server) Get(args *GetArgs, reply *GetReply) error {
	if args.ReadKind == "linearizable" {
		ctx, cancel := context.WithTimeout(context.Background(), s.proposeTimeout)
		defer cancel()
		if err := s.node.ConfirmLeadership(ctx); err != nil {
			reply.WrongLeader, reply.LeaderHint = leaderFields(err)
			if !reply.WrongLeader {
				reply.Err = errTimeout
			}
			return nil
		}
	}
	value, found := s.store.Get(args.Key)
	reply.Value = value
	reply.Found = found
	return nil
}

// LockAcquireArgs requests exclusive ownership of Key for TTLMillis.
type LockAcquireArgs struct {
	Key       string
	Owner     string
	TTLMillis int64
	RequestID string
}

// LockAcquireReply is the lock_acquire() result.
type LockAcquireReply struct {
	WrongLeader  bool
	LeaderHint   string
	Err          string
	Acquired     bool
	FenceToken   uint64
	CurrentOwner string
}

// LockAcquire implements lock_acquire(key, owner, ttl_ms). The leader
// stamps NowMillis from its own clock before proposing, so every replica
// applies the identical, already-resolved expiry decision.
func (s *Server) LockAcquire(args *LockAcquireArgs, reply *LockAcquireReply) error {
	cmd := lockservice.LockAcquire{
		Key:       args.Key,
		Owner:     args.Owner,
		TTLMillis: args.TTLMillis,
		NowMillis: s.clock.NowMillis(),
		RequestID: args.RequestID,
	}
	encoded, err := lockservice.Encode(cmd)
	if err != nil {
		reply.Err = errProposeFailed
		return nil
	}
	pr := s.proposeAndWait(encoded)
	if pr.err != errNone {
		reply.Err = pr.err
		reply.WrongLeader = pr.wrongLeader
		reply.LeaderHint = pr.leaderHint
		return nil
	}
	decoded, err := lockservice.DecodeAcquireResult(pr.result)
	if err != nil {
		reply.Err = errDecodeFailed
		return nil
	}
	reply.Acquired = decoded.Acquired
	reply.FenceToken = decoded.FenceToken
	reply.CurrentOwner = decoded.CurrentOwner
	return nil
}

// LockReleaseArgs releases Key if currently held by Owner.
type LockReleaseArgs struct {
	Key       string
	Owner     string
	RequestID string
}

// LockReleaseReply is the lock_release() result.
type LockReleaseReply struct {
	WrongLeader bool
	LeaderHint  string
	Err         string
	Released    bool
}

// LockRelease implements lock_release(key, owner).
func (s *Server) LockRelease(args *LockReleaseArgs, reply *LockReleaseReply) error {
	cmd := lockservice.LockRelease{Key: args.Key, Owner: args.Owner, RequestID: args.RequestID}
	encoded, err := lockservice.Encode(cmd)
	if err != nil {
		reply.Err = errProposeFailed
		return nil
	}
	pr := s.proposeAndWait(encoded)
	if pr.err != errNone {
		reply.Err = pr.err
		reply.WrongLeader = pr.wrongLeader
		reply.LeaderHint = pr.leaderHint
		return nil
	}
	decoded, err := lockservice.DecodeReleaseResult(pr.result)
	if err != nil {
		reply.Err = errDecodeFailed
		return nil
	}
	reply.Released = decoded.Released
	return nil
}
