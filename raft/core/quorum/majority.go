package quorum

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MajorityConfig is a set of voters deciding by simple majority.
type MajorityConfig map[uint64]struct{}

// MakeMajorityConfig returns a MajorityConfig holding ids.
func MakeMajorityConfig(ids ...uint64) MajorityConfig {
	c := MajorityConfig{}
	for _, id := range ids {
		c[id] = struct{}{}
	}
	return c
}

func (c MajorityConfig) String() string {
	sl := c.Slice()
	var buf strings.Builder
	buf.WriteByte('(')
	for i, id := range sl {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprint(&buf, id)
	}
	buf.WriteByte(')')
	return buf.String()
}

// Slice returns the MajorityConfig as a sorted slice.
func (c MajorityConfig) Slice() []uint64 {
	sl := make([]uint64, 0, len(c))
	for id := range c {
		sl = append(sl, id)
	}
	sort.Slice(sl, func(i, j int) bool { return sl[i] < sl[j] })
	return sl
}

// Contains test whether id is a member.
func (c MajorityConfig) Contains(id uint64) bool {
	_, ok := c[id]
	return ok
}

// Clone returns a copy of the MajorityConfig.
func (c MajorityConfig) Clone() MajorityConfig {
	if c == nil {
		return nil
	}
	cp := make(MajorityConfig, len(c))
	for id := range c {
		cp[id] = struct{}{}
	}
	return cp
}

// VoteResult counts the ballots of members, a member absent from votes
// has not voted yet.
func (c MajorityConfig) VoteResult(votes map[uint64]bool) VoteResult {
	if len(c) == 0 {
		// so a joint config with an empty half acts as a plain majority.
		return VoteWon
	}

	var granted, missing int
	for id := range c {
		v, ok := votes[id]
		if !ok {
			missing++
			continue
		}
		if v {
			granted++
		}
	}

	q := Majority(len(c))
	if granted >= q {
		return VoteWon
	}
	if granted+missing >= q {
		return VotePending
	}
	return VoteLost
}

// CommittedIndex returns the highest index acked by a majority, voters
// unknown to l count as index 0.
func (c MajorityConfig) CommittedIndex(l AckedIndexer) Index {
	n := len(c)
	if n == 0 {
		// This plays well with joint quorums which, when one half is the zero
		// MajorityConfig, should behave like the other half.
		return Index{Index: math.MaxUint64}
	}

	acked := make([]Index, 0, n)
	for _, id := range c.Slice() {
		idx, _ := l.AckedIndex(id)
		acked = append(acked, idx)
	}
	// Sort descending, the index at position q-1 is the largest one
	// acknowledged by at least q voters.
	sort.SliceStable(acked, func(i, j int) bool {
		return acked[i].Index > acked[j].Index
	})
	return acked[Majority(n)-1]
}
