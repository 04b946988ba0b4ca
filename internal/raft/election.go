package raft

import (
	"context"

	"go.uber.org/zap"
)

func (n *Node) resetElectionDeadlineLocked() {
	minMillis := n.cfg.ElectionTimeoutMin.Milliseconds()
	spanMillis := n.cfg.ElectionTimeoutMax.Milliseconds() - minMillis
	jitter := int64(0)
	if spanMillis > 0 {
		jitter = int64(n.random.IntN(int(spanMillis)))
	}
	n.electionDeadlineMillis = n.clock.NowMillis() + minMillis + jitter
}

// Tick drives the node's timer event stream: on a follower or
// candidate whose election deadline has passed, it starts a new election;
// on a leader whose heartbeat interval has elapsed, it broadcasts
// AppendEntries to every peer. Call it periodically (see RunTicker) or
// directly from a test driving a fake Clock.
func (n *Node) Tick() {
	n.mu.Lock()
	now := n.clock.NowMillis()
	role := n.role
	electionDue := now >= n.electionDeadlineMillis
	heartbeatDue := role == Leader && now >= n.nextHeartbeatMillis
	if heartbeatDue {
		n.nextHeartbeatMillis = now + n.cfg.HeartbeatInterval.Milliseconds()
	}
	n.mu.Unlock()

	if role != Leader && electionDue {
		n.startElection()
		return
	}
	if heartbeatDue {
		n.replicateToAll()
	}
}

// startElection increments the term, votes for self, and requests votes
// from every peer in parallel.
func (n *Node) startElection() {
	n.mu.Lock()
	if n.role == Leader {
		n.mu.Unlock()
		return
	}
	n.role = Candidate
	n.currentTerm++
	n.votedFor = n.cfg.NodeID
	n.votesReceived = map[PeerID]struct{}{n.cfg.NodeID: {}}
	n.resetElectionDeadlineLocked()
	term := n.currentTerm
	lastIndex := n.log.LastIndex()
	lastTerm := n.log.LastTerm()
	if n.metrics != nil {
		n.metrics.IncElectionsStarted(n.cfg.NodeID)
	}
	n.reportMetricsLocked()
	if err := n.persistLocked(); err != nil {
		n.logger.Error("persist failed before sending vote requests", zap.Error(err), zap.Uint64("term", term))
		n.mu.Unlock()
		return
	}
	// A single-node cluster is its own majority: no RequestVote round-trip
	// will ever happen to trigger becomeLeaderLocked from requestVoteFrom.
	if len(n.cfg.Peers) == 0 {
		n.becomeLeaderLocked()
		n.mu.Unlock()
		return
	}
	peers := append([]PeerID(nil), n.cfg.Peers...)
	n.mu.Unlock()

	n.logger.Info("starting election", zap.Uint64("term", term))

	for _, peer := range peers {
		peer := peer
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.requestVoteFrom(peer, term, lastIndex, lastTerm)
		}()
	}
}

func (n *Node) requestVoteFrom(peer PeerID, term uint64, lastIndex, lastTerm uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()

	reply, err := n.transport.SendRequestVote(ctx, peer, &RequestVoteArgs{
		Term:         term,
		CandidateID:  n.cfg.NodeID,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	})
	if err != nil || reply == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// Re-check term/role: this goroutine suspended on the network call, and
	// a higher-term event may have landed while it was in flight.
	if reply.Term > n.currentTerm {
		n.becomeFollowerLocked(reply.Term)
		_ = n.persistLocked()
		return
	}
	if n.role != Candidate || n.currentTerm != term {
		return
	}
	if !reply.VoteGranted {
		return
	}

	n.votesReceived[peer] = struct{}{}
	if len(n.votesReceived) >= n.quorumSize() {
		n.becomeLeaderLocked()
	}
}

// quorumSize returns the strict majority of the full voting membership
// (self + peers).
func (n *Node) quorumSize() int {
	return (len(n.cfg.Peers)+1)/2 + 1
}

func (n *Node) becomeLeaderLocked() {
	if n.role == Leader {
		return
	}
	n.role = Leader
	n.leaderID = n.cfg.NodeID
	n.nextIndex = make(map[PeerID]uint64, len(n.cfg.Peers))
	n.matchIndex = make(map[PeerID]uint64, len(n.cfg.Peers))
	lastIndex := n.log.LastIndex()
	for _, p := range n.cfg.Peers {
		n.nextIndex[p] = lastIndex + 1
		n.matchIndex[p] = 0
	}
	n.nextHeartbeatMillis = n.clock.NowMillis() + n.cfg.HeartbeatInterval.Milliseconds()
	n.reportMetricsLocked()
	n.logger.Info("became leader", zap.Uint64("term", n.currentTerm))

	// Send the immediate heartbeat from a separate goroutine since we're
	// still holding mu and replicateToAll acquires it itself.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.replicateToAll()
	}()
}

// RequestVote handles an incoming RequestVote RPC.
func (n *Node) RequestVote(args *RequestVoteArgs) (*RequestVoteReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term < n.currentTerm {
		return &RequestVoteReply{Term: n.currentTerm, VoteGranted: false}, nil
	}
	if args.Term > n.currentTerm {
		n.becomeFollowerLocked(args.Term)
	}

	lastIndex := n.log.LastIndex()
	lastTerm := n.log.LastTerm()
	upToDate := args.LastLogTerm > lastTerm || (args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	granted := false
	if (n.votedFor == "" || n.votedFor == args.CandidateID) && upToDate {
		n.votedFor = args.CandidateID
		granted = true
		n.resetElectionDeadlineLocked()
	}

	if err := n.persistLocked(); err != nil {
		n.logger.Error("persist failed handling RequestVote", zap.Error(err))
		return nil, ErrPersistenceFailure
	}

	return &RequestVoteReply{Term: n.currentTerm, VoteGranted: granted}, nil
}
