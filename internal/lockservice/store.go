package lockservice

import (
	"container/list"
	"encoding/gob"
	"sync"

	"go.uber.org/zap"
)

// dedupWindow bounds how many distinct request ids the store remembers so a
// retried propose after a leader failover doesn't double-apply. No
// ecosystem LRU package showed up anywhere in the retrieved dependency
// manifests, so this is a small container/list-backed ring rather than a
// third-party cache.
const dedupWindow = 4096

// LockRecord is the replicated state of a single named lock.
type LockRecord struct {
	Owner      string
	ExpiryMs   int64
	FenceToken uint64
}

// AcquireResult is the gob-encoded Apply result for a LockAcquire command.
type AcquireResult struct {
	Acquired     bool
	FenceToken   uint64
	CurrentOwner string
}

// ReleaseResult is the gob-encoded Apply result for a LockRelease command.
type ReleaseResult struct {
	Released bool
}

// SetResult is the gob-encoded Apply result for a KvSet command.
type SetResult struct{}

// DeleteResult is the gob-encoded Apply result for a KvDelete command.
type DeleteResult struct {
	Existed bool
}

func init() {
	gob.Register(AcquireResult{})
	gob.Register(ReleaseResult{})
	gob.Register(SetResult{})
	gob.Register(DeleteResult{})
}

type dedupEntry struct {
	result []byte
	err    error
}

// FenceMetrics receives the most recently issued fence token for a lock
// key. Kept as a small interface local to this package (rather than
// importing internal/telemetry) so lockservice has no dependency on how
// metrics are collected.
type FenceMetrics interface {
	SetFenceToken(key string, token uint64)
}

// Store is the deterministic state machine applied to the committed Raft
// log: it owns the lock table, a flat key/value namespace, and a bounded
// request-id dedup cache. It implements raft.StateMachine.
type Store struct {
	mu sync.Mutex

	locks map[string]*LockRecord
	kv    map[string][]byte

	dedup     map[string]dedupEntry
	dedupKeys *list.List // front = most recently inserted

	logger  *zap.Logger
	metrics FenceMetrics
}

// NewStore returns an empty Store ready to be handed to raft.New as its
// StateMachine.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		locks:     make(map[string]*LockRecord),
		kv:        make(map[string][]byte),
		dedup:     make(map[string]dedupEntry),
		dedupKeys: list.New(),
		logger:    logger,
	}
}

// SetMetrics attaches a fence-token gauge sink. Optional: a Store with no
// metrics attached behaves identically, just without the gauge updates.
func (s *Store) SetMetrics(m FenceMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Apply decodes a committed command and applies it deterministically. It
// implements raft.StateMachine.Apply, so the same sequence of committed
// entries always produces the same sequence of results on every replica.
func (s *Store) Apply(index uint64, command []byte) ([]byte, error) {
	cmd, err := Decode(command)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch c := cmd.(type) {
	case LockAcquire:
		return s.dedupApply(c.RequestID, func() ([]byte, error) {
			return s.applyAcquireLocked(c)
		})
	case LockRelease:
		return s.dedupApply(c.RequestID, func() ([]byte, error) {
			return s.applyReleaseLocked(c)
		})
	case KvSet:
		return s.dedupApply(c.RequestID, func() ([]byte, error) {
			s.kv[c.Key] = c.Value
			return encodeResult(SetResult{})
		})
	case KvDelete:
		return s.dedupApply(c.RequestID, func() ([]byte, error) {
			_, existed := s.kv[c.Key]
			delete(s.kv, c.Key)
			return encodeResult(DeleteResult{Existed: existed})
		})
	default:
		return nil, ErrUnknownKind
	}
}

// dedupApply runs fn at most once per requestID; a replayed request id
// (the client retrying the same call after a leader change) returns the
// cached result instead of re-applying.
func (s *Store) dedupApply(requestID string, fn func() ([]byte, error)) ([]byte, error) {
	if requestID == "" {
		return fn()
	}
	if cached, ok := s.dedup[requestID]; ok {
		return cached.result, cached.err
	}
	result, err := fn()
	s.rememberLocked(requestID, result, err)
	return result, err
}

func (s *Store) rememberLocked(requestID string, result []byte, err error) {
	if _, exists := s.dedup[requestID]; exists {
		return
	}
	s.dedup[requestID] = dedupEntry{result: result, err: err}
	elem := s.dedupKeys.PushFront(requestID)
	_ = elem
	for s.dedupKeys.Len() > dedupWindow {
		oldest := s.dedupKeys.Back()
		if oldest == nil {
			break
		}
		s.dedupKeys.Remove(oldest)
		delete(s.dedup, oldest.Value.(string))
	}
}

// applyAcquireLocked implements the fenced-lock acquire rule: a lock is
// free if it has never been held, has been released, has expired by the
// leader-stamped NowMillis, or is already held by the requesting owner
// (re-entrant renewal). Every successful acquire bumps the monotonic fence
// token, which is the whole point of fencing — a stale lock holder's fence
// token can never be reused by a later holder.
func (s *Store) applyAcquireLocked(c LockAcquire) ([]byte, error) {
	rec, exists := s.locks[c.Key]
	free := !exists || rec.Owner == "" || rec.ExpiryMs <= c.NowMillis || rec.Owner == c.Owner

	if !free {
		return encodeResult(AcquireResult{Acquired: false, CurrentOwner: rec.Owner, FenceToken: rec.FenceToken})
	}

	fence := uint64(1)
	if exists {
		fence = rec.FenceToken + 1
	}
	s.locks[c.Key] = &LockRecord{
		Owner:      c.Owner,
		ExpiryMs:   c.NowMillis + c.TTLMillis,
		FenceToken: fence,
	}
	if s.metrics != nil {
		s.metrics.SetFenceToken(c.Key, fence)
	}
	return encodeResult(AcquireResult{Acquired: true, FenceToken: fence})
}

// applyReleaseLocked releases a lock only if the caller is the current
// owner; releasing an already-free or foreign-owned lock is a harmless no-op
// so a retried release after a crash can never release someone else's
// subsequent acquire. A release clears the owner but keeps the record, so
// the key's fence token keeps counting up from where it was.
func (s *Store) applyReleaseLocked(c LockRelease) ([]byte, error) {
	rec, exists := s.locks[c.Key]
	if !exists || rec.Owner == "" || rec.Owner != c.Owner {
		return encodeResult(ReleaseResult{Released: false})
	}
	rec.Owner = ""
	return encodeResult(ReleaseResult{Released: true})
}

// Get returns the raw value for key from the flat kv namespace and whether
// it exists; used by the local (non-linearizable) read path of the client
// surface's get() operation.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok
}

// Inspect returns a copy of a lock's current record, used for diagnostics
// and tests; it never mutates fencing state.
func (s *Store) Inspect(key string) (LockRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.locks[key]
	if !ok {
		return LockRecord{}, false
	}
	return *rec, true
}

func encodeResult(v interface{}) ([]byte, error) {
	return gobEncode(v)
}
