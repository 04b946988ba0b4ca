package raftlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyLog(t *testing.T) {
	l := New()
	require.Equal(t, uint64(0), l.LastIndex())
	require.Equal(t, uint64(0), l.LastTerm())
	_, ok := l.EntryAt(1)
	require.False(t, ok)
}

func TestAppendMustBeContiguous(t *testing.T) {
	l := New()
	require.NoError(t, l.Append(Entry{Index: 1, Term: 1}))
	err := l.Append(Entry{Index: 3, Term: 1})
	require.ErrorIs(t, err, ErrNonContiguousAppend)
}

func TestAppendRejectsDecreasingTerm(t *testing.T) {
	l := New()
	require.NoError(t, l.Append(Entry{Index: 1, Term: 5}))
	err := l.Append(Entry{Index: 2, Term: 4})
	require.ErrorIs(t, err, ErrNonContiguousAppend)
}

func TestTruncateAfterRefusesBelowCommitIndex(t *testing.T) {
	l := New()
	require.NoError(t, l.Append(
		Entry{Index: 1, Term: 1},
		Entry{Index: 2, Term: 1},
		Entry{Index: 3, Term: 2},
	))
	err := l.TruncateAfter(1, 2)
	require.ErrorIs(t, err, ErrLogUnderflow)
}

func TestTruncateAfterDropsTail(t *testing.T) {
	l := New()
	require.NoError(t, l.Append(
		Entry{Index: 1, Term: 1},
		Entry{Index: 2, Term: 1},
		Entry{Index: 3, Term: 2},
	))
	require.NoError(t, l.TruncateAfter(1, 0))
	require.Equal(t, uint64(1), l.LastIndex())
	_, ok := l.EntryAt(2)
	require.False(t, ok)
}

func TestSliceBoundsAndLimit(t *testing.T) {
	l := New()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, l.Append(Entry{Index: i, Term: 1}))
	}
	require.Len(t, l.Slice(2, 2), 2)
	require.Len(t, l.Slice(1, 100), 5)
	require.Empty(t, l.Slice(6, 10))
}

func TestLoadReplacesContents(t *testing.T) {
	l := New()
	require.NoError(t, l.Append(Entry{Index: 1, Term: 1}))
	l.Load([]Entry{{Index: 1, Term: 3}, {Index: 2, Term: 3}})
	require.Equal(t, uint64(2), l.LastIndex())
	require.Equal(t, uint64(3), l.LastTerm())
}
