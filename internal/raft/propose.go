package raft

import (
	"context"
	"sync"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raftlog"
)

// Propose appends command to the leader's log and immediately triggers
// replication; it does not wait for the entry to commit. Non-leaders fail
// with *NotLeader.
func (n *Node) Propose(command []byte) (index uint64, term uint64, err error) {
	index, term, _, err = n.proposeLocked(command, nil)
	if err != nil {
		return 0, 0, err
	}
	n.replicateToAll()
	return index, term, nil
}

// proposeLocked appends command and, if waiter is non-nil, registers it in
// n.waiters atomically with the append — closing the race where an entry
// could commit and apply before a caller has a chance to wait on it.
func (n *Node) proposeLocked(command []byte, waiter *applyWaiter) (index, term uint64, registered bool, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Leader {
		return 0, 0, false, &NotLeader{Hint: n.leaderID}
	}
	index = n.log.LastIndex() + 1
	term = n.currentTerm
	entry := raftlog.Entry{Index: index, Term: term, Command: command}
	if err := n.log.Append(entry); err != nil {
		return 0, 0, false, err
	}
	if err := n.persistLocked(); err != nil {
		return 0, 0, false, err
	}
	if waiter != nil {
		waiter.term = term
		n.waiters[index] = waiter
	}
	return index, term, waiter != nil, nil
}

// ProposeAndWait proposes command and blocks until it has been applied to
// the local state machine, the context expires (ErrProposalTimeout), or the
// node steps down before committing (the caller gets *NotLeader and should
// retry against the new leader, idempotently, using a client-supplied
// request id embedded in command).
func (n *Node) ProposeAndWait(ctx context.Context, command []byte) (result []byte, index uint64, err error) {
	waiter := &applyWaiter{result: make(chan applyOutcome, 1)}
	index, _, _, err := n.proposeLocked(command, waiter)
	if err != nil {
		return nil, 0, err
	}
	n.replicateToAll()

	select {
	case outcome := <-waiter.result:
		return outcome.result, index, outcome.err
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, index)
		n.mu.Unlock()
		return nil, index, ErrProposalTimeout
	case <-n.stopCh:
		return nil, index, ErrShutdown
	}
}

// ConfirmLeadership performs a quorum heartbeat round and blocks until
// enough peers have acknowledged this node as leader for its current term
// to form a majority of the cluster together with itself, or ctx expires. Callers use this before serving a linearizable
// read.
func (n *Node) ConfirmLeadership(ctx context.Context) error {
	n.mu.Lock()
	if n.role != Leader {
		hint := n.leaderID
		n.mu.Unlock()
		return &NotLeader{Hint: hint}
	}
	term := n.currentTerm
	peers := append([]PeerID(nil), n.cfg.Peers...)
	n.mu.Unlock()

	if len(peers) == 0 {
		return nil // single-node cluster: self is always a quorum of one
	}

	var mu sync.Mutex
	acked := 1 // self
	done := make(chan struct{})
	var once sync.Once

	for _, peer := range peers {
		peer := peer
		go func() {
			rttCtx, cancel := context.WithTimeout(ctx, n.cfg.RPCTimeout)
			defer cancel()
			n.replicateToPeerBlocking(rttCtx, peer)

			n.mu.Lock()
			ok := n.role == Leader && n.currentTerm == term && n.matchIndexAtLeast(peer, n.log.LastIndex())
			n.mu.Unlock()

			if !ok {
				return
			}
			mu.Lock()
			acked++
			reached := acked >= n.quorumSize()
			mu.Unlock()
			if reached {
				once.Do(func() { close(done) })
			}
		}()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) matchIndexAtLeast(peer PeerID, index uint64) bool {
	return n.matchIndex[peer] >= index
}

// replicateToPeerBlocking is replicateToPeer but synchronous with an
// explicit context, used by ConfirmLeadership so it can wait on the RPC
// completing rather than firing-and-forgetting it.
func (n *Node) replicateToPeerBlocking(ctx context.Context, peer PeerID) {
	n.mu.Lock()
	args, ok := n.buildAppendEntriesArgsLocked(peer)
	n.mu.Unlock()
	if !ok {
		return
	}

	reply, err := n.transport.SendAppendEntries(ctx, peer, args)
	if err != nil || reply == nil {
		return
	}
	n.handleAppendEntriesResponse(peer, args, reply)
}
