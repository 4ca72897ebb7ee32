// Package holder provides MemoryLog, an in-memory log which answers the
// questions the raft core asks about the local log.
package holder

import (
	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/proto"
	"github.com/thinkermao/raftcore/utils"
)

// MemoryLog holds log entries in memory. Here is the memory layout:
//
//	[offset, committed, last]
//	+--------------+-------------+
//	| committed    | wait commit |
//	+--------------+-------------+
//	^ offset       ^ committed   ^ last
//
// There always has a dummy entry at offset with empty data, it make
// the programming more easy.
type MemoryLog struct {
	committed uint64
	entries   []raftpd.Entry
}

// MakeMemoryLog create an empty log whose dummy entry is (index, term).
func MakeMemoryLog(index, term uint64) *MemoryLog {
	return &MemoryLog{
		committed: index,
		entries:   []raftpd.Entry{{Index: index, Term: term}},
	}
}

// RebuildMemoryLog construction log from exists entries. The first entry
// is taken as the dummy entry, so len(entries) must great than zero.
func RebuildMemoryLog(entries []raftpd.Entry) *MemoryLog {
	utils.Assert(len(entries) != 0, "required entries not empty")

	dup := make([]raftpd.Entry, len(entries))
	copy(dup, entries)
	l := &MemoryLog{committed: dup[0].Index, entries: dup}
	l.validateConsistency()
	return l
}

// offset return the dummy entry's index.
func (l *MemoryLog) offset() uint64 {
	return l.entries[0].Index
}

// LastIndex return the last index of current entries.
func (l *MemoryLog) LastIndex() uint64 {
	return l.offset() + uint64(len(l.entries)) - 1
}

// LastTerm return the last term of current entries.
func (l *MemoryLog) LastTerm() uint64 {
	return l.entries[len(l.entries)-1].Term
}

// Term return the Term of idx, if there no entry
// with these index, return InvalidTerm.
func (l *MemoryLog) Term(idx uint64) uint64 {
	if idx < l.offset() || idx > l.LastIndex() {
		return conf.InvalidTerm
	}
	return l.entries[idx-l.offset()].Term
}

// Committed return the index of the last committed entry.
func (l *MemoryLog) Committed() uint64 {
	return l.committed
}

// CommitTo change committed to `to`, it never decrease.
func (l *MemoryLog) CommitTo(to uint64) {
	if l.committed >= to {
		return
	}
	utils.Assert(l.LastIndex() >= to,
		"commit %d is out of range [last index: %d]", to, l.LastIndex())
	l.committed = to
}

// Entries return the entries between [lo, hi), no included dummy entry.
func (l *MemoryLog) Entries(lo, hi uint64) []raftpd.Entry {
	utils.Assert(lo <= hi, "invalid slice %d > %d", lo, hi)
	utils.Assert(lo > l.offset() && hi <= l.LastIndex()+1,
		"slice[%d, %d) out of bound (%d, %d]", lo, hi, l.offset(), l.LastIndex())

	entries := make([]raftpd.Entry, hi-lo)
	copy(entries, l.entries[lo-l.offset():hi-l.offset()])
	return entries
}

// Append push entries at back, and return the new last index.
func (l *MemoryLog) Append(entries ...raftpd.Entry) uint64 {
	if len(entries) == 0 {
		return l.LastIndex()
	}
	utils.Assert(entries[0].Index == l.LastIndex()+1,
		"append %d is not continuous with last index %d", entries[0].Index, l.LastIndex())
	l.entries = append(l.entries, entries...)
	return l.LastIndex()
}

// TryAppend check whether the append request matches local log. If it
// matches, conflicting entries are truncated, new entries are appended
// and the index of the last entry carried by m is returned. Otherwise it
// returns a hint from which the leader should probe.
func (l *MemoryLog) TryAppend(m *raftpd.Message) (index, hint uint64, ok bool) {
	if l.Term(m.LogIndex) != m.LogTerm {
		return conf.InvalidIndex, utils.MinUint64(m.LogIndex, l.LastIndex()), false
	}

	lastNew := m.LogIndex + uint64(len(m.Entries))
	if conflict := l.findConflict(m.Entries); conflict != 0 {
		utils.Assert(conflict > l.committed,
			"entry %d conflict with committed entry %d", conflict, l.committed)
		l.truncateAndAppend(m.Entries[conflict-m.LogIndex-1:])
	}
	return lastNew, conf.InvalidIndex, true
}

// findConflict return the first index which entries[i].Term is not equal
// to `l.Term(entries[i].Index)`, if all Term with same index are equals,
// return zero.
func (l *MemoryLog) findConflict(entries []raftpd.Entry) uint64 {
	for i := range entries {
		entry := &entries[i]
		if l.Term(entry.Index) != entry.Term {
			if entry.Index <= l.LastIndex() {
				log.Infof("found conflict at index %d [existing term: %d, conflicting term: %d]",
					entry.Index, l.Term(entry.Index), entry.Term)
			}
			return entry.Index
		}
	}
	return 0
}

func (l *MemoryLog) truncateAndAppend(entries []raftpd.Entry) {
	after := entries[0].Index
	utils.Assert(after > l.offset() && after <= l.LastIndex()+1,
		"truncate at %d out of bound (%d, %d]", after, l.offset(), l.LastIndex()+1)

	l.entries = append(l.entries[:after-l.offset()], entries...)
	l.validateConsistency()
}

func (l *MemoryLog) validateConsistency() {
	for i := 0; i+1 < len(l.entries); i++ {
		utils.Assert(l.entries[i].Index+1 == l.entries[i+1].Index,
			"index: %d at: %d not sequences", l.entries[i].Index, i)
	}
}
