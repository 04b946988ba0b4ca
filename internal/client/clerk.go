// Package client implements the external surface for a running cluster:
// propose, get, lock_acquire, lock_release. It round-robins the known
// servers and retries on WrongLeader with a per-call timeout, tagging
// each call with a google/uuid request id so a retried call is safe to
// resend verbatim after a leader failover.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/service"
)

// ErrNoServers is returned when a Clerk has no servers configured.
var ErrNoServers = errors.New("client: no servers configured")

// Caller abstracts a single net/rpc-style call to a named server, so Clerk
// works identically over internal/transport.Local (tests, in-process
// demo) and a net/rpc connection to a real process.
type Caller interface {
	Call(to raft.PeerID, serviceMethod string, args, reply interface{}) error
}

// Clerk is a client of the replicated lock/kv service. It is safe for
// concurrent use by multiple goroutines sharing one Clerk.
type Clerk struct {
	caller  Caller
	servers []raft.PeerID

	rpcTimeout time.Duration

	guessMu     sync.Mutex
	leaderGuess int
}

// NewClerk returns a Clerk that talks to servers via caller, guessing the
// leader round-robin until a server answers without WrongLeader.
func NewClerk(caller Caller, servers []raft.PeerID, rpcTimeout time.Duration) *Clerk {
	return &Clerk{caller: caller, servers: servers, rpcTimeout: rpcTimeout}
}

func newRequestID() string {
	return uuid.NewString()
}

// currentGuess returns the server the Clerk will try first on its next
// call, advancing round-robin on every WrongLeader reply.
func (c *Clerk) currentGuess() (raft.PeerID, error) {
	if len(c.servers) == 0 {
		return "", ErrNoServers
	}
	c.guessMu.Lock()
	defer c.guessMu.Unlock()
	c.leaderGuess %= len(c.servers)
	return c.servers[c.leaderGuess], nil
}

func (c *Clerk) advanceGuess() {
	c.guessMu.Lock()
	defer c.guessMu.Unlock()
	c.leaderGuess++
}

// Propose implements propose(command_bytes) -> applied_index.
func (c *Clerk) Propose(command []byte) (uint64, error) {
	requestID := newRequestID()
	args := &service.ProposeArgs{Command: command, RequestID: requestID}
	for {
		to, err := c.currentGuess()
		if err != nil {
			return 0, err
		}
		reply := &service.ProposeReply{}
		if !c.call(to, "ClientAPI.Propose", args, reply) {
			c.advanceGuess()
			continue
		}
		if reply.WrongLeader {
			c.advanceGuess()
			continue
		}
		if reply.Err != "" {
			return 0, errors.New(reply.Err)
		}
		return reply.Index, nil
	}
}

// Get implements get(key) -> value, for either read kind.
func (c *Clerk) Get(key string, linearizable bool) ([]byte, bool, error) {
	readKind := "local"
	if linearizable {
		readKind = "linearizable"
	}
	args := &service.GetArgs{Key: key, ReadKind: readKind}
	for {
		to, err := c.currentGuess()
		if err != nil {
			return nil, false, err
		}
		reply := &service.GetReply{}
		if !c.call(to, "ClientAPI.Get", args, reply) {
			c.advanceGuess()
			continue
		}
		if reply.WrongLeader {
			c.advanceGuess()
			continue
		}
		if reply.Err != "" {
			return nil, false, errors.New(reply.Err)
		}
		return reply.Value, reply.Found, nil
	}
}

// LockAcquireResult is the Clerk-facing result of LockAcquire.
type LockAcquireResult struct {
	Acquired     bool
	FenceToken   uint64
	CurrentOwner string
}

// LockAcquire implements lock_acquire(key, owner, ttl_ms).
func (c *Clerk) LockAcquire(key, owner string, ttl time.Duration) (LockAcquireResult, error) {
	requestID := newRequestID()
	args := &service.LockAcquireArgs{Key: key, Owner: owner, TTLMillis: ttl.Milliseconds(), RequestID: requestID}
	for {
		to, err := c.currentGuess()
		if err != nil {
			return LockAcquireResult{}, err
		}
		reply := &service.LockAcquireReply{}
		if !c.call(to, "ClientAPI.LockAcquire", args, reply) {
			c.advanceGuess()
			continue
		}
		if reply.WrongLeader {
			c.advanceGuess()
			continue
		}
		if reply.Err != "" {
			return LockAcquireResult{}, errors.New(reply.Err)
		}
		return LockAcquireResult{
			Acquired:     reply.Acquired,
			FenceToken:   reply.FenceToken,
			CurrentOwner: reply.CurrentOwner,
		}, nil
	}
}

// LockRelease implements lock_release(key, owner).
func (c *Clerk) LockRelease(key, owner string) (released bool, err error) {
	requestID := newRequestID()
	args := &service.LockReleaseArgs{Key: key, Owner: owner, RequestID: requestID}
	for {
		to, guessErr := c.currentGuess()
		if guessErr != nil {
			return false, guessErr
		}
		reply := &service.LockReleaseReply{}
		if !c.call(to, "ClientAPI.LockRelease", args, reply) {
			c.advanceGuess()
			continue
		}
		if reply.WrongLeader {
			c.advanceGuess()
			continue
		}
		if reply.Err != "" {
			return false, errors.New(reply.Err)
		}
		return reply.Released, nil
	}
}

// call invokes the RPC and reports whether it completed within rpcTimeout;
// a timeout is treated exactly like WrongLeader — move on to the next
// server.
func (c *Clerk) call(to raft.PeerID, method string, args, reply interface{}) bool {
	done := make(chan error, 1)
	go func() {
		done <- c.caller.Call(to, method, args, reply)
	}()
	select {
	case err := <-done:
		return err == nil
	case <-time.After(c.rpcTimeout):
		return false
	}
}
