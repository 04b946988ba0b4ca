package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

type fakeHandler struct {
	voteReply   *raft.RequestVoteReply
	appendReply *raft.AppendEntriesReply
}

func (f *fakeHandler) RequestVote(*raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	return f.voteReply, nil
}

func (f *fakeHandler) AppendEntries(*raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	return f.appendReply, nil
}

func TestLocalRoutesToRegisteredPeer(t *testing.T) {
	l := NewLocal()
	l.Register("n1", &fakeHandler{
		voteReply:   &raft.RequestVoteReply{Term: 3, VoteGranted: true},
		appendReply: &raft.AppendEntriesReply{Term: 3, Success: true},
	})

	reply, err := l.SendRequestVote(context.Background(), "n1", &raft.RequestVoteArgs{Term: 3})
	require.NoError(t, err)
	require.True(t, reply.VoteGranted)

	appendReply, err := l.SendAppendEntries(context.Background(), "n1", &raft.AppendEntriesArgs{Term: 3})
	require.NoError(t, err)
	require.True(t, appendReply.Success)
}

func TestLocalErrorsOnUnknownPeer(t *testing.T) {
	l := NewLocal()
	_, err := l.SendRequestVote(context.Background(), "ghost", &raft.RequestVoteArgs{})
	require.Error(t, err)
}
