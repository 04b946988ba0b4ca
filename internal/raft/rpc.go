package raft

// RequestVoteArgs is the wire form of a RequestVote RPC.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  PeerID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply is the wire form of a RequestVote RPC reply.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesArgs is the wire form of an AppendEntries RPC. An
// empty Entries slice is a heartbeat.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     PeerID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []PersistedEntry
	LeaderCommit uint64
}

// AppendEntriesReply is the wire form of an AppendEntries RPC reply.
type AppendEntriesReply struct {
	Term    uint64
	Success bool
	// MatchIndex is the highest index the follower reports as present when
	// Success is true. When Success is false, ConflictIndex/ConflictTerm
	// describe the first point of disagreement, used by the leader to skip
	// back over an entire conflicting term in one round-trip rather than
	// decrementing nextIndex one entry at a time.
	MatchIndex    uint64
	ConflictIndex uint64
	ConflictTerm  uint64
}
