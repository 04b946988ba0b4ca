package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	entries := []raft.PersistedEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 2, Command: []byte("b")},
	}
	require.NoError(t, s.SaveState(2, raft.PeerID("n1"), entries))

	term, votedFor, loaded, err := s.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(2), term)
	require.Equal(t, raft.PeerID("n1"), votedFor)
	require.Equal(t, entries, loaded)
}

func TestSaveStateOverwritesPreviousLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveState(1, "n1", []raft.PersistedEntry{
		{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 1},
	}))
	require.NoError(t, s.SaveState(2, "n1", []raft.PersistedEntry{
		{Index: 1, Term: 1},
	}))

	_, _, loaded, err := s.LoadState()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestLoadStateOnFreshStoreIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	term, votedFor, entries, err := s.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(0), term)
	require.Equal(t, raft.PeerID(""), votedFor)
	require.Empty(t, entries)
}

func TestReopenPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveState(5, "n2", []raft.PersistedEntry{{Index: 1, Term: 5, Command: []byte("x")}}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	term, votedFor, entries, err := reopened.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(5), term)
	require.Equal(t, raft.PeerID("n2"), votedFor)
	require.Len(t, entries, 1)
}
