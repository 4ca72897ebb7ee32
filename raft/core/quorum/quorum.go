// Package quorum implements the vote arithmetic of raft: plain majorities
// and the joint majorities used while membership is changing.
//
// The types follow go.etcd.io/raft/quorum (Apache-2.0), see NOTICE.
package quorum

import (
	"fmt"
	"math"
)

// VoteResult indicates the outcome of a vote.
type VoteResult uint8

const (
	VotePending VoteResult = 1 + iota // no decision yet
	VoteLost
	VoteWon
)

var voteResultString = []string{
	"VotePending",
	"VoteLost",
	"VoteWon",
}

func (v VoteResult) String() string {
	if v < VotePending || v > VoteWon {
		return fmt.Sprintf("VoteResult(%d)", uint8(v))
	}
	return voteResultString[v-VotePending]
}

// Majority returns the number of agreeing voters a group of n
// voters needs to make a decision.
func Majority(n int) int {
	return n/2 + 1
}

// Index is a raft log position tagged with the commit group which
// acknowledged it. GroupID 0 is ungrouped; Index math.MaxUint64 means
// acknowledged by everyone.
type Index struct {
	Index   uint64
	GroupID uint64
}

func (i Index) String() string {
	idx := fmt.Sprintf("%d", i.Index)
	if i.Index == math.MaxUint64 {
		idx = "∞"
	}
	if i.GroupID == 0 {
		return idx
	}
	return fmt.Sprintf("[%d]%s", i.GroupID, idx)
}

// AckedIndexer returns the index acked by a voter.
type AckedIndexer interface {
	AckedIndex(voterID uint64) (idx Index, found bool)
}

// AckIndexer is a map based AckedIndexer.
type AckIndexer map[uint64]Index

// AckedIndex implements AckedIndexer.
func (m AckIndexer) AckedIndex(id uint64) (Index, bool) {
	idx, ok := m[id]
	return idx, ok
}
