// Package raft implements the replicated log, leader election, and
// replication protocol described by the Raft paper: a single-leader,
// term-based consensus core with randomized election timeouts and
// majority-commit log replication. State machines (such as the lock
// service in internal/lockservice) are layered on top via the
// StateMachine port; transport, durable storage, time, and randomness are
// all injected ports so a Node's behavior is fully deterministic under
// test.
package raft

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raftlog"
)

// Role is a Raft node's current position in the follower/candidate/leader
// state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Metrics is the instrumentation port the node reports role transitions,
// term changes, and commit advancement through. internal/telemetry
// provides a Prometheus-backed implementation; tests may pass nil, in
// which case the node simply skips reporting.
type Metrics interface {
	SetRole(self PeerID, role Role)
	SetTerm(self PeerID, term uint64)
	SetCommitIndex(self PeerID, index uint64)
	IncElectionsStarted(self PeerID)
	IncAppendEntriesSent(self PeerID)
}

// Config carries the options a node is started with.
type Config struct {
	NodeID             PeerID
	Peers              []PeerID
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	MaxBatchEntries    int
	RPCTimeout         time.Duration
}

func (c Config) validate() error {
	if c.NodeID == "" {
		return errors.New("raft: NodeID must not be empty")
	}
	if c.ElectionTimeoutMin <= 0 || c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return errors.New("raft: ElectionTimeoutMax must exceed ElectionTimeoutMin > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("raft: HeartbeatInterval must be positive")
	}
	if c.MaxBatchEntries <= 0 {
		return errors.New("raft: MaxBatchEntries must be positive")
	}
	return nil
}

type applyWaiter struct {
	term   uint64
	result chan applyOutcome
}

type applyOutcome struct {
	result []byte
	err    error
}

// Node is a single Raft peer. All exported methods are safe for concurrent
// use; every state transition is serialized through the internal mutex so
// no goroutine ever observes a partially updated term/log/commit triple.
type Node struct {
	cfg Config

	persistence Persistence
	transport   Transport
	sm          StateMachine
	clock       Clock
	random      RandomSource
	logger      *zap.Logger
	metrics     Metrics

	mu sync.Mutex

	log         *raftlog.Log
	role        Role
	currentTerm uint64
	votedFor    PeerID
	leaderID    PeerID

	commitIndex uint64
	lastApplied uint64

	electionDeadlineMillis int64
	nextHeartbeatMillis    int64

	nextIndex     map[PeerID]uint64
	matchIndex    map[PeerID]uint64
	votesReceived map[PeerID]struct{}

	waiters map[uint64]*applyWaiter

	notifyApplyCh chan struct{}
	stopCh        chan struct{}
	stopped       bool
	wg            sync.WaitGroup
}

// New constructs a Node and restores any durable state found via the
// Persistence port. The node starts as a follower; call Start to begin its
// apply loop (and, in production, RunTicker to drive timers).
func New(cfg Config, persistence Persistence, transport Transport, sm StateMachine, clock Clock, random RandomSource, logger *zap.Logger, metrics Metrics) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{
		cfg:           cfg,
		persistence:   persistence,
		transport:     transport,
		sm:            sm,
		clock:         clock,
		random:        random,
		logger:        logger.With(zap.String("node_id", string(cfg.NodeID))),
		metrics:       metrics,
		log:           raftlog.New(),
		role:          Follower,
		waiters:       make(map[uint64]*applyWaiter),
		notifyApplyCh: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}

	term, votedFor, entries, err := persistence.LoadState()
	if err != nil {
		return nil, errors.Wrap(ErrPersistenceFailure, err.Error())
	}
	n.currentTerm = term
	n.votedFor = votedFor
	if len(entries) > 0 {
		loaded := make([]raftlog.Entry, len(entries))
		for i, e := range entries {
			loaded[i] = raftlog.Entry{Index: e.Index, Term: e.Term, Command: e.Command}
		}
		n.log.Load(loaded)
	}
	n.resetElectionDeadlineLocked()
	n.reportMetricsLocked()
	return n, nil
}

// Start launches the background apply loop. It must be called once before
// Propose is used; it is safe to call RunTicker separately (or not at all,
// if the caller drives Tick itself).
func (n *Node) Start() {
	n.wg.Add(1)
	go n.applyLoop()
}

// Stop signals every background goroutine to exit and waits for them.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	close(n.stopCh)
	n.mu.Unlock()
	n.wg.Wait()
}

// RunTicker spawns a goroutine that calls Tick on the given interval until
// ctx is done or Stop is called. This is the production timer driver;
// tests typically call Tick directly against a fake Clock instead.
func (n *Node) RunTicker(ctx context.Context, interval time.Duration) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.stopCh:
				return
			case <-ticker.C:
				n.Tick()
			}
		}
	}()
}

// State returns the node's current term and whether it believes itself to
// be leader, matching the client-facing GetState query used throughout the
// spec's scenarios.
func (n *Node) State() (term uint64, isLeader bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm, n.role == Leader
}

// LeaderHint returns the best-known current leader, if any.
func (n *Node) LeaderHint() PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

func (n *Node) reportMetricsLocked() {
	if n.metrics == nil {
		return
	}
	n.metrics.SetRole(n.cfg.NodeID, n.role)
	n.metrics.SetTerm(n.cfg.NodeID, n.currentTerm)
	n.metrics.SetCommitIndex(n.cfg.NodeID, n.commitIndex)
}

func (n *Node) persistLocked() error {
	entries := n.log.Entries()
	persisted := make([]PersistedEntry, len(entries))
	for i, e := range entries {
		persisted[i] = PersistedEntry{Index: e.Index, Term: e.Term, Command: e.Command}
	}
	if err := n.persistence.SaveState(n.currentTerm, n.votedFor, persisted); err != nil {
		return errors.Wrap(ErrPersistenceFailure, err.Error())
	}
	return nil
}

// becomeFollowerLocked implements the "any RPC with term > current ->
// follower" transition. Callers must already hold mu and must call
// persistLocked afterwards before replying to whatever RPC triggered the
// transition.
func (n *Node) becomeFollowerLocked(term uint64) {
	n.role = Follower
	n.currentTerm = term
	n.votedFor = ""
	n.resetElectionDeadlineLocked()
	n.reportMetricsLocked()
}
