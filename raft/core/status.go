package core

import (
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
)

// SoftState gives some raft runtime information. It is not
// required to be persisted.
type SoftState struct {
	// LeaderID return current node's leader ID.
	LeaderID uint64
	// State return current node's state role.
	State StateRole
}

// Status contains information about this raft peer and, when it is
// leader, the progress of its followers.
type Status struct {
	ID uint64
	raftpd.HardState
	SoftState

	Config         tracker.Configuration
	Progress       map[uint64]tracker.Progress
	LeadTransferee uint64
}

func getStatus(c *core) Status {
	cfg := c.prs.Conf()
	s := Status{
		ID:             c.id,
		HardState:      c.hardState(),
		SoftState:      c.softState(),
		Config:         cfg.Clone(),
		LeadTransferee: c.leadTransferee,
	}
	if s.State == RoleLeader {
		s.Progress = make(map[uint64]tracker.Progress)
		c.prs.Visit(func(id uint64, pr *tracker.Progress) {
			s.Progress[id] = *pr.Clone()
		})
	}
	return s
}
