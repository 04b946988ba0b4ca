package raft

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotLeader is returned by Propose (and surfaced to clients) when the node
// is not currently the leader. Hint names the best-known current leader,
// if any.
type NotLeader struct {
	Hint PeerID
}

func (e *NotLeader) Error() string {
	if e.Hint == "" {
		return "raft: not leader"
	}
	return fmt.Sprintf("raft: not leader, try %s", e.Hint)
}

// ErrStaleTerm marks an RPC or response carrying an older term than the
// receiver's current term. It is handled entirely inside the protocol —
// callers never see it leave a handler, it's listed here for tests and
// internal bookkeeping only.
var ErrStaleTerm = errors.New("raft: stale term")

// ErrLogInconsistent marks a failed AppendEntries consistency check. Like
// ErrStaleTerm, this never escapes a handler as a Go error — it's reported
// to the caller only via AppendEntriesReply.Success=false.
var ErrLogInconsistent = errors.New("raft: prev-log consistency check failed")

// ErrPersistenceFailure wraps a failed durable write. It is fatal to the
// operation in progress and is never silently swallowed — the caller must
// treat it as a reason to fail the current RPC and consider stepping down.
var ErrPersistenceFailure = errors.New("raft: persistence write failed")

// ErrProposalTimeout is returned to a client-facing Propose call whose
// caller-supplied deadline elapsed before the entry committed.
var ErrProposalTimeout = errors.New("raft: proposal timed out before commit")

// ErrShutdown is returned by any operation invoked after the node has been
// asked to stop.
var ErrShutdown = errors.New("raft: node is shutting down")
