package raft

import (
	"context"

	"go.uber.org/zap"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raftlog"
)

// replicateToAll fans out AppendEntries to every peer concurrently. It is
// called on heartbeat tick, on becoming leader, and immediately after a
// local Propose so commits don't wait for the next heartbeat.
func (n *Node) replicateToAll() {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return
	}
	peers := append([]PeerID(nil), n.cfg.Peers...)
	n.mu.Unlock()

	for _, peer := range peers {
		peer := peer
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.replicateToPeer(peer)
		}()
	}
}

// buildAppendEntriesArgsLocked builds the next AppendEntries request for
// peer from the leader's current log and nextIndex state. Callers must
// already hold mu and must be the leader. ok is false if the node stepped
// down between the caller's checks and this call.
func (n *Node) buildAppendEntriesArgsLocked(peer PeerID) (args *AppendEntriesArgs, ok bool) {
	if n.role != Leader {
		return nil, false
	}
	next := n.nextIndex[peer]
	if next == 0 {
		next = 1
	}
	prevIndex := next - 1
	prevTerm, _ := n.log.TermAt(prevIndex)
	entries := n.log.Slice(next, n.cfg.MaxBatchEntries)
	wireEntries := make([]PersistedEntry, len(entries))
	for i, e := range entries {
		wireEntries[i] = PersistedEntry{Index: e.Index, Term: e.Term, Command: e.Command}
	}
	return &AppendEntriesArgs{
		Term:         n.currentTerm,
		LeaderID:     n.cfg.NodeID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      wireEntries,
		LeaderCommit: n.commitIndex,
	}, true
}

func (n *Node) replicateToPeer(peer PeerID) {
	n.mu.Lock()
	args, ok := n.buildAppendEntriesArgsLocked(peer)
	if !ok {
		n.mu.Unlock()
		return
	}
	if n.metrics != nil {
		n.metrics.IncAppendEntriesSent(n.cfg.NodeID)
	}
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	reply, err := n.transport.SendAppendEntries(ctx, peer, args)
	if err != nil || reply == nil {
		return
	}

	n.handleAppendEntriesResponse(peer, args, reply)
}

// handleAppendEntriesResponse processes the reply to an AppendEntries call,
// advancing nextIndex/matchIndex on success or backing nextIndex off on a
// conflict so the next attempt skips straight past the conflicting term.
func (n *Node) handleAppendEntriesResponse(peer PeerID, args *AppendEntriesArgs, reply *AppendEntriesReply) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if reply.Term > n.currentTerm {
		n.becomeFollowerLocked(reply.Term)
		_ = n.persistLocked()
		return
	}
	if n.role != Leader || args.Term != n.currentTerm {
		return
	}

	if reply.Success {
		matched := reply.MatchIndex
		if matched < args.PrevLogIndex+uint64(len(args.Entries)) {
			matched = args.PrevLogIndex + uint64(len(args.Entries))
		}
		if matched > n.matchIndex[peer] {
			n.matchIndex[peer] = matched
		}
		n.nextIndex[peer] = n.matchIndex[peer] + 1
		n.advanceCommitIndexLocked()
		return
	}

	// Failure: back off nextIndex. Prefer skipping the whole conflicting
	// term in one round-trip over decrementing by one, but never below 1,
	// and never below what the reply tells us the follower has.
	next := n.nextIndex[peer]
	if reply.ConflictIndex > 0 {
		next = reply.ConflictIndex
	} else if next > 1 {
		next--
	}
	if next < 1 {
		next = 1
	}
	n.nextIndex[peer] = next
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.replicateToPeer(peer)
	}()
}

// advanceCommitIndexLocked finds the highest index N > commitIndex with a
// majority of matchIndex (including the leader's own last log index) at
// or above N, restricted to entries from the leader's current term (the
// Leader Completeness requirement), and advances commitIndex to it.
func (n *Node) advanceCommitIndexLocked() {
	lastIndex := n.log.LastIndex()
	for idx := lastIndex; idx > n.commitIndex; idx-- {
		term, ok := n.log.TermAt(idx)
		if !ok || term != n.currentTerm {
			continue
		}
		count := 1 // the leader itself
		for _, peer := range n.cfg.Peers {
			if n.matchIndex[peer] >= idx {
				count++
			}
		}
		if count >= n.quorumSize() {
			n.commitIndex = idx
			n.reportMetricsLocked()
			n.signalApply()
			return
		}
	}
}

func (n *Node) signalApply() {
	select {
	case n.notifyApplyCh <- struct{}{}:
	default:
	}
}

// AppendEntries handles an incoming AppendEntries RPC.
func (n *Node) AppendEntries(args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term < n.currentTerm {
		return &AppendEntriesReply{Term: n.currentTerm, Success: false}, nil
	}

	if args.Term > n.currentTerm {
		n.becomeFollowerLocked(args.Term)
	} else if n.role != Follower {
		n.role = Follower
		n.reportMetricsLocked()
	}
	// Accept this term's leader and its vote claim so we never grant a
	// different candidate a vote for a term that already has a leader we
	// know about (Election Safety).
	n.leaderID = args.LeaderID
	n.votedFor = args.LeaderID
	n.resetElectionDeadlineLocked()

	if args.PrevLogIndex > 0 {
		lastIndex := n.log.LastIndex()
		term, ok := n.log.TermAt(args.PrevLogIndex)
		if args.PrevLogIndex > lastIndex || !ok || term != args.PrevLogTerm {
			reply := &AppendEntriesReply{Term: n.currentTerm, Success: false}
			reply.ConflictIndex, reply.ConflictTerm = n.findConflictLocked(args.PrevLogIndex)
			if err := n.persistLocked(); err != nil {
				return nil, ErrPersistenceFailure
			}
			return reply, nil
		}
	}

	for _, e := range args.Entries {
		existingTerm, ok := n.log.TermAt(e.Index)
		switch {
		case ok && existingTerm == e.Term:
			continue // already present and consistent; idempotent skip
		case ok && existingTerm != e.Term:
			if err := n.log.TruncateAfter(e.Index-1, n.commitIndex); err != nil {
				n.logger.Error("truncate failed during AppendEntries", zap.Error(err))
				return nil, err
			}
			fallthrough
		default:
			if err := n.log.Append(raftlog.Entry{Index: e.Index, Term: e.Term, Command: e.Command}); err != nil {
				n.logger.Error("append failed during AppendEntries", zap.Error(err))
				return nil, err
			}
		}
	}

	if args.LeaderCommit > n.commitIndex {
		last := n.log.LastIndex()
		if args.LeaderCommit < last {
			n.commitIndex = args.LeaderCommit
		} else {
			n.commitIndex = last
		}
		n.reportMetricsLocked()
		n.signalApply()
	}

	if err := n.persistLocked(); err != nil {
		return nil, ErrPersistenceFailure
	}

	return &AppendEntriesReply{Term: n.currentTerm, Success: true, MatchIndex: n.log.LastIndex()}, nil
}

// findConflictLocked returns the first index of the conflicting term at
// prevIndex (or just past the end of a too-short log), letting the leader
// skip the whole term in its next retry instead of backing off one entry
// at a time.
func (n *Node) findConflictLocked(prevIndex uint64) (index uint64, term uint64) {
	lastIndex := n.log.LastIndex()
	if prevIndex > lastIndex {
		return lastIndex + 1, 0
	}
	conflictTerm, _ := n.log.TermAt(prevIndex)
	for idx := prevIndex; idx > 0; idx-- {
		t, ok := n.log.TermAt(idx)
		if !ok || t != conflictTerm {
			return idx + 1, conflictTerm
		}
	}
	return 1, conflictTerm
}
