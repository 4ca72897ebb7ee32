package holder

import (
	"testing"

	"github.com/thinkermao/raftcore/raft/proto"
)

func makeEntry(idx, term uint64) raftpd.Entry {
	return raftpd.Entry{
		Index: idx,
		Term:  term,
	}
}

func makeEntries(idxs ...uint64) []raftpd.Entry {
	entries := []raftpd.Entry{}
	for _, i := range idxs {
		entries = append(entries, makeEntry(i, i))
	}
	return entries
}

func compareEntries(t *testing.T, i int, a, want []raftpd.Entry) {
	if len(a) != len(want) {
		t.Fatalf("#%d: len(entries) want: %d, get: %d",
			i, len(want), len(a))
	}
	for j := 0; j < len(a); j++ {
		if a[j].Term != want[j].Term || a[j].Index != want[j].Index {
			t.Fatalf("#%d: ents[%d] want: %v, get: %v",
				i, j, want[j], a[j])
		}
	}
}

func TestMakeMemoryLog(t *testing.T) {
	tests := []struct{ idx, term uint64 }{
		{0, 0},
		{5, 2},
	}
	for i, test := range tests {
		l := MakeMemoryLog(test.idx, test.term)
		if l.LastIndex() != test.idx || l.LastTerm() != test.term ||
			l.Committed() != test.idx || l.Term(test.idx) != test.term {
			t.Fatalf("#%d: make memory log failed", i)
		}
	}
}

func TestMemoryLog_Term(t *testing.T) {
	l := RebuildMemoryLog(makeEntries(3, 4, 5))
	tests := []struct{ idx, w uint64 }{
		{2, 0}, {3, 3}, {4, 4}, {5, 5}, {6, 0},
	}
	for i, test := range tests {
		if g := l.Term(test.idx); g != test.w {
			t.Fatalf("#%d: term want: %d, get: %d", i, test.w, g)
		}
	}
}

func TestMemoryLog_Entries(t *testing.T) {
	l := RebuildMemoryLog(makeEntries(3, 4, 5, 6))
	tests := []struct {
		lo, hi uint64
		w      []raftpd.Entry
	}{
		{4, 4, []raftpd.Entry{}},
		{4, 5, makeEntries(4)},
		{4, 7, makeEntries(4, 5, 6)},
		{6, 7, makeEntries(6)},
	}
	for i, test := range tests {
		compareEntries(t, i, l.Entries(test.lo, test.hi), test.w)
	}
}

func TestMemoryLog_Entries_outOfBound(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("want panic")
		}
	}()
	l := RebuildMemoryLog(makeEntries(3, 4))
	l.Entries(3, 5)
}

func TestMemoryLog_CommitTo(t *testing.T) {
	l := RebuildMemoryLog(makeEntries(1, 2, 3))
	l.CommitTo(2)
	if l.Committed() != 2 {
		t.Fatalf("committed want: 2, get: %d", l.Committed())
	}
	// never decrease
	l.CommitTo(1)
	if l.Committed() != 2 {
		t.Fatalf("committed want: 2, get: %d", l.Committed())
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("commit past last index should panic")
		}
	}()
	l.CommitTo(4)
}

func TestMemoryLog_TryAppend(t *testing.T) {
	tests := []struct {
		logIndex, logTerm uint64
		entries           []raftpd.Entry
		windex, whint     uint64
		wok               bool
		wlast             uint64
	}{
		// match, nothing to append
		{3, 3, nil, 3, 0, true, 3},
		// match, append new
		{3, 3, makeEntries(4, 5), 5, 0, true, 5},
		// match in the middle, entries already present
		{1, 1, makeEntries(2), 2, 0, true, 3},
		// conflict with uncommitted suffix
		{1, 1, []raftpd.Entry{makeEntry(2, 4)}, 2, 0, true, 2},
		// mismatched term
		{3, 2, nil, 0, 3, false, 3},
		// beyond last index
		{5, 5, nil, 0, 3, false, 3},
	}

	for i, test := range tests {
		l := RebuildMemoryLog(makeEntries(0, 1, 2, 3))
		l.CommitTo(1)
		m := raftpd.Message{
			MsgType:  raftpd.MsgAppendRequest,
			LogIndex: test.logIndex,
			LogTerm:  test.logTerm,
			Entries:  test.entries,
		}
		index, hint, ok := l.TryAppend(&m)
		if ok != test.wok || index != test.windex || hint != test.whint {
			t.Fatalf("#%d: want: (%d, %d, %v), get: (%d, %d, %v)",
				i, test.windex, test.whint, test.wok, index, hint, ok)
		}
		if l.LastIndex() != test.wlast {
			t.Fatalf("#%d: last index want: %d, get: %d", i, test.wlast, l.LastIndex())
		}
	}
}

func TestMemoryLog_TryAppend_committedConflict(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("conflict with committed entry should panic")
		}
	}()
	l := RebuildMemoryLog(makeEntries(0, 1, 2, 3))
	l.CommitTo(2)
	l.TryAppend(&raftpd.Message{LogIndex: 1, LogTerm: 1, Entries: []raftpd.Entry{makeEntry(2, 5)}})
}

func TestMemoryLog_Append(t *testing.T) {
	l := MakeMemoryLog(0, 0)
	if last := l.Append(makeEntries(1, 2)...); last != 2 {
		t.Fatalf("last index want: 2, get: %d", last)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("append with a gap should panic")
		}
	}()
	l.Append(makeEntry(4, 4))
}
