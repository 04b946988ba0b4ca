package lockservice

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func applyCmd(t *testing.T, s *Store, index uint64, cmd interface{}) []byte {
	t.Helper()
	encoded, err := Encode(cmd)
	require.NoError(t, err)
	result, err := s.Apply(index, encoded)
	require.NoError(t, err)
	return result
}

func TestAcquireGrantsFenceTokenOne(t *testing.T) {
	s := NewStore(zap.NewNop())
	result := applyCmd(t, s, 1, LockAcquire{Key: "k", Owner: "a", TTLMillis: 1000, NowMillis: 0, RequestID: "r1"})
	res, err := DecodeAcquireResult(result)
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.Equal(t, uint64(1), res.FenceToken)
}

func TestAcquireFenceTokenMonotonicAcrossHolders(t *testing.T) {
	s := NewStore(zap.NewNop())
	applyCmd(t, s, 1, LockAcquire{Key: "k", Owner: "a", TTLMillis: 10, NowMillis: 0, RequestID: "r1"})

	// Before expiry, a different owner cannot acquire.
	blocked := applyCmd(t, s, 2, LockAcquire{Key: "k", Owner: "b", TTLMillis: 10, NowMillis: 5, RequestID: "r2"})
	blockedRes, err := DecodeAcquireResult(blocked)
	require.NoError(t, err)
	require.False(t, blockedRes.Acquired)
	require.Equal(t, "a", blockedRes.CurrentOwner)

	// After expiry, a new owner acquires with a strictly higher fence token.
	result := applyCmd(t, s, 3, LockAcquire{Key: "k", Owner: "b", TTLMillis: 10, NowMillis: 11, RequestID: "r3"})
	res, err := DecodeAcquireResult(result)
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.Equal(t, uint64(2), res.FenceToken)
}

func TestAcquireReentrantBySameOwnerRenews(t *testing.T) {
	s := NewStore(zap.NewNop())
	applyCmd(t, s, 1, LockAcquire{Key: "k", Owner: "a", TTLMillis: 10, NowMillis: 0, RequestID: "r1"})
	result := applyCmd(t, s, 2, LockAcquire{Key: "k", Owner: "a", TTLMillis: 10, NowMillis: 5, RequestID: "r2"})
	res, err := DecodeAcquireResult(result)
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.Equal(t, uint64(2), res.FenceToken)

	rec, ok := s.Inspect("k")
	require.True(t, ok)
	require.Equal(t, int64(15), rec.ExpiryMs)
}

func TestReleaseOnlyByCurrentOwner(t *testing.T) {
	s := NewStore(zap.NewNop())
	applyCmd(t, s, 1, LockAcquire{Key: "k", Owner: "a", TTLMillis: 100, NowMillis: 0, RequestID: "r1"})

	denied := applyCmd(t, s, 2, LockRelease{Key: "k", Owner: "b", RequestID: "r2"})
	deniedRes, err := DecodeReleaseResult(denied)
	require.NoError(t, err)
	require.False(t, deniedRes.Released)

	granted := applyCmd(t, s, 3, LockRelease{Key: "k", Owner: "a", RequestID: "r3"})
	grantedRes, err := DecodeReleaseResult(granted)
	require.NoError(t, err)
	require.True(t, grantedRes.Released)

	rec, ok := s.Inspect("k")
	require.True(t, ok)
	require.Empty(t, rec.Owner)
}

func TestApplyIsIdempotentUnderDuplicateRequestID(t *testing.T) {
	s := NewStore(zap.NewNop())
	first := applyCmd(t, s, 1, LockAcquire{Key: "k", Owner: "a", TTLMillis: 100, NowMillis: 0, RequestID: "dup"})
	// Simulate the client retrying the same propose after a leader failover:
	// same request id, re-applied at a different (hypothetical) index.
	second := applyCmd(t, s, 2, LockAcquire{Key: "k", Owner: "a", TTLMillis: 100, NowMillis: 0, RequestID: "dup"})
	require.Equal(t, first, second)

	res, err := DecodeAcquireResult(second)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.FenceToken, "replayed request must not mint a new fence token")
}

func TestKvSetGetDelete(t *testing.T) {
	s := NewStore(zap.NewNop())
	applyCmd(t, s, 1, KvSet{Key: "x", Value: []byte("v1"), RequestID: "r1"})
	v, ok := s.Get("x")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	result := applyCmd(t, s, 2, KvDelete{Key: "x", RequestID: "r2"})
	res, err := DecodeDeleteResult(result)
	require.NoError(t, err)
	require.True(t, res.Existed)

	_, ok = s.Get("x")
	require.False(t, ok)
}
