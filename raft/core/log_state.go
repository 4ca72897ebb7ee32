package core

import (
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/proto"
	"github.com/thinkermao/raftcore/utils"
)

// LogState is the view of the local log the core needs to decide votes,
// acknowledge appends and advance the commit index. The log itself is
// owned by the caller.
type LogState interface {
	// LastIndex returns the index of the last entry.
	LastIndex() uint64
	// Term returns the term of the entry at index, or InvalidTerm if the
	// entry is unknown.
	Term(index uint64) uint64
	// Committed returns the highest index known to be committed.
	Committed() uint64
	// CommitTo raises the commit index, it never decreases it.
	CommitTo(index uint64)
	// TryAppend applies an append request. On success it returns the index
	// of the last entry covered by m, otherwise a hint index from which
	// the leader should probe.
	TryAppend(m *raftpd.Message) (index, hint uint64, ok bool)
}

// EntryReader is implemented by a LogState which can hand entries to the
// leader, appends then carry entries in [lo, hi).
type EntryReader interface {
	Entries(lo, hi uint64) []raftpd.Entry
}

// emptyLog is a log without entries which accepts every append. It
// holds nothing, so its commit never passes LastIndex.
type emptyLog struct {
	committed uint64
}

func (l *emptyLog) LastIndex() uint64 { return conf.InvalidIndex }

func (l *emptyLog) Term(index uint64) uint64 { return conf.InvalidTerm }

func (l *emptyLog) Committed() uint64 { return l.committed }

func (l *emptyLog) CommitTo(index uint64) {
	index = utils.MinUint64(index, l.LastIndex())
	l.committed = utils.MaxUint64(l.committed, index)
}

func (l *emptyLog) TryAppend(m *raftpd.Message) (uint64, uint64, bool) {
	return m.LogIndex + uint64(len(m.Entries)), conf.InvalidIndex, true
}

func lastTerm(l LogState) uint64 {
	return l.Term(l.LastIndex())
}

// isUpToDate determines if the given (index, term) log is more up-to-date
// by comparing the index and term of the last entry in the existing logs.
// If the logs have last entry with different terms, then the log with the
// later term is more up-to-date. If the logs end with the same term, then
// whichever log has the larger last index is more up-to-date.
func isUpToDate(l LogState, index, term uint64) bool {
	last := lastTerm(l)
	return term > last || (term == last && index >= l.LastIndex())
}
