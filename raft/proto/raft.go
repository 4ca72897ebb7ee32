package raftpd

import (
	"fmt"
	"sort"
)

// HardState is the part of raft state that must be persisted
// by the caller before messages are sent.
type HardState struct {
	Vote   uint64
	Term   uint64
	Commit uint64
}

func (e HardState) String() string {
	return fmt.Sprintf("raftpd.HardState{vote: %d, term: %d, commit: %d}",
		e.Vote, e.Term, e.Commit)
}

// IsEmpty test whether all fields are zero.
func (e HardState) IsEmpty() bool {
	return e == HardState{}
}

// Entry is a log entry carried by append messages.
type Entry struct {
	Index uint64
	Term  uint64
	Data  []byte
}

func (e Entry) String() string {
	return fmt.Sprintf("raftpd.Entry{idx: %d, term: %d, data: %v}",
		e.Index, e.Term, e.Data)
}

// ConfState describes a (possibly joint) membership.
//
// Voters are the incoming voters, VotersOutgoing the voters of the
// configuration being left (empty unless joint). LearnersNext are
// outgoing voters that become learners when the joint state is left.
type ConfState struct {
	Voters         []uint64
	VotersOutgoing []uint64
	Learners       []uint64
	LearnersNext   []uint64
	AutoLeave      bool
}

func (cs ConfState) String() string {
	return fmt.Sprintf("raftpd.ConfState{voters: %v, outgoing: %v, learners: %v, next: %v, autoleave: %v}",
		cs.Voters, cs.VotersOutgoing, cs.Learners, cs.LearnersNext, cs.AutoLeave)
}

// Equivalent test whether two ConfStates describe the same membership,
// ignoring order of ids.
func (cs ConfState) Equivalent(other ConfState) bool {
	eq := func(a, b []uint64) bool {
		if len(a) != len(b) {
			return false
		}
		a = append([]uint64(nil), a...)
		b = append([]uint64(nil), b...)
		sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
		sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return cs.AutoLeave == other.AutoLeave &&
		eq(cs.Voters, other.Voters) &&
		eq(cs.VotersOutgoing, other.VotersOutgoing) &&
		eq(cs.Learners, other.Learners) &&
		eq(cs.LearnersNext, other.LearnersNext)
}

// ConfChangeType is the kind of a single membership operation.
type ConfChangeType int

// Membership operations.
const (
	ConfChangeAddNode ConfChangeType = iota
	ConfChangeRemoveNode
	ConfChangeAddLearnerNode
	ConfChangeUpdateNode
)

var confChangeString = []string{
	"AddNode",
	"RemoveNode",
	"AddLearnerNode",
	"UpdateNode",
}

func (t ConfChangeType) String() string {
	if int(t) < 0 || int(t) >= len(confChangeString) {
		return fmt.Sprintf("ConfChangeType(%d)", int(t))
	}
	return confChangeString[t]
}

// ConfChangeSingle is an atomic membership operation on one node.
type ConfChangeSingle struct {
	Type   ConfChangeType
	NodeID uint64
}

func (cc ConfChangeSingle) String() string {
	return fmt.Sprintf("%s(%d)", cc.Type, cc.NodeID)
}

// ConfChangeTransition selects how a multi-operation change
// moves through joint consensus.
type ConfChangeTransition int

// Transitions.
const (
	// ConfChangeTransitionAuto uses joint consensus only when more than
	// one voter changes, and leaves it automatically.
	ConfChangeTransitionAuto ConfChangeTransition = iota
	// ConfChangeTransitionJointImplicit always enters joint consensus
	// and marks it to be left automatically.
	ConfChangeTransitionJointImplicit
	// ConfChangeTransitionJointExplicit always enters joint consensus and
	// waits for an explicit empty change to leave.
	ConfChangeTransitionJointExplicit
)

// ConfChangeV2 is a batch of single changes. An empty Changes slice
// means "leave the joint configuration".
type ConfChangeV2 struct {
	Transition ConfChangeTransition
	Changes    []ConfChangeSingle
	Context    []byte
}

// EnterJoint returns two bools. The second bool is true if and only if
// this change will use joint consensus, which is the case if it contains
// more than one change or if the use of joint consensus was requested
// explicitly. The first bool can only be true if second one is, and
// indicates whether the joint state will be left automatically.
func (c ConfChangeV2) EnterJoint() (autoLeave bool, ok bool) {
	if c.Transition != ConfChangeTransitionAuto || len(c.Changes) > 1 {
		switch c.Transition {
		case ConfChangeTransitionAuto, ConfChangeTransitionJointImplicit:
			autoLeave = true
		case ConfChangeTransitionJointExplicit:
		default:
			panic(fmt.Sprintf("unknown transition: %+v", c))
		}
		return autoLeave, true
	}
	return false, false
}

// LeaveJoint is true if the change leaves a joint configuration.
func (c ConfChangeV2) LeaveJoint() bool {
	return c.Transition == ConfChangeTransitionAuto && len(c.Changes) == 0
}
