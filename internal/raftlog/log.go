// Package raftlog implements the append-only log of (index, term, command)
// entries that backs a Raft node. Indices are 1-based and dense; the log
// itself holds no opinion about durability, RPC wire formats, or the state
// machine entries are eventually applied to.
package raftlog

import "github.com/pkg/errors"

// ErrLogUnderflow is returned by TruncateAfter when asked to drop entries
// that have already been committed. Seeing it indicates a protocol bug or
// corrupted persistent state, never a normal operating condition.
var ErrLogUnderflow = errors.New("raftlog: cannot truncate below commit index")

// ErrNonContiguousAppend is returned by Append when the supplied entries do
// not start at LastIndex()+1 or their terms decrease.
var ErrNonContiguousAppend = errors.New("raftlog: append is not contiguous with the log tail")

// Entry is a single replicated log entry. Command is opaque to the log and
// to Raft itself; only the state machine interprets it.
type Entry struct {
	Index   uint64
	Term    uint64
	Command []byte
}

// Log is an in-memory, 1-indexed, dense sequence of Entry values. Callers
// (the Raft node) are responsible for persisting entries durably before
// relying on any state change they imply — the log itself is a pure data
// structure, not a persistence port.
type Log struct {
	entries []Entry // entries[i] has Index == i+1
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// LastIndex returns the index of the last entry, or 0 if the log is empty.
func (l *Log) LastIndex() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Index
}

// LastTerm returns the term of the last entry, or 0 if the log is empty.
func (l *Log) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// TermAt returns the term of the entry at index, and whether one exists.
// Index 0 and indices beyond the log both report ok=false.
func (l *Log) TermAt(index uint64) (term uint64, ok bool) {
	e, ok := l.EntryAt(index)
	if !ok {
		return 0, false
	}
	return e.Term, true
}

// EntryAt returns the entry at the given 1-based index, if present.
func (l *Log) EntryAt(index uint64) (Entry, bool) {
	if index == 0 || index > uint64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[index-1], true
}

// Append adds entries to the tail of the log. The first entry must have
// Index == LastIndex()+1, indices must be dense and terms non-decreasing
// across the whole run. Callers must persist the resulting state before
// acknowledging whatever RPC triggered the append.
func (l *Log) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	next := l.LastIndex() + 1
	prevTerm := l.LastTerm()
	for i, e := range entries {
		if e.Index != next+uint64(i) {
			return errors.Wrapf(ErrNonContiguousAppend, "expected index %d, got %d", next+uint64(i), e.Index)
		}
		if e.Term < prevTerm {
			return errors.Wrapf(ErrNonContiguousAppend, "term %d at index %d precedes previous term %d", e.Term, e.Index, prevTerm)
		}
		prevTerm = e.Term
	}
	l.entries = append(l.entries, entries...)
	return nil
}

// TruncateAfter drops every entry with Index > index. It fails with
// ErrLogUnderflow if index is below commitIndex, since committed entries
// must never be discarded. Callers must persist the resulting state before
// returning success to whatever triggered the truncation.
func (l *Log) TruncateAfter(index uint64, commitIndex uint64) error {
	if index < commitIndex {
		return errors.Wrapf(ErrLogUnderflow, "truncate index %d below commit index %d", index, commitIndex)
	}
	if index >= l.LastIndex() {
		return nil
	}
	// index may be 0 (drop everything) or point past a valid entry.
	keep := index
	if keep > uint64(len(l.entries)) {
		keep = uint64(len(l.entries))
	}
	l.entries = l.entries[:keep]
	return nil
}

// Slice returns up to maxCount entries starting at fromIndex (inclusive),
// for replication to a follower. It may return fewer than maxCount entries,
// including zero if fromIndex is past the end of the log.
func (l *Log) Slice(fromIndex uint64, maxCount int) []Entry {
	if fromIndex == 0 {
		fromIndex = 1
	}
	if fromIndex > uint64(len(l.entries)) {
		return nil
	}
	start := fromIndex - 1
	end := start + uint64(maxCount)
	if end > uint64(len(l.entries)) || maxCount <= 0 {
		end = uint64(len(l.entries))
	}
	out := make([]Entry, end-start)
	copy(out, l.entries[start:end])
	return out
}

// Entries returns a copy of the full entry set, for persistence snapshots.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Load replaces the log contents wholesale, used when restoring from
// durable storage after a restart. Entries must already satisfy the log's
// invariants (dense indices, non-decreasing terms) — Load does not
// re-validate them, since they are assumed to have been validated on the
// way into the persistence layer.
func (l *Log) Load(entries []Entry) {
	l.entries = append([]Entry(nil), entries...)
}
