package quorum

// JointConfig is the incoming and the outgoing majority, decisions need
// both of them.
type JointConfig [2]MajorityConfig

// MakeJointConfig returns a non-joint config over the incoming voters.
func MakeJointConfig(incoming ...uint64) JointConfig {
	return JointConfig{MakeMajorityConfig(incoming...), nil}
}

// Incoming returns the majority config being transitioned to.
func (c JointConfig) Incoming() MajorityConfig { return c[0] }

// Outgoing returns the majority config being left.
func (c JointConfig) Outgoing() MajorityConfig { return c[1] }

// IsJoint test whether the outgoing half is populated.
func (c JointConfig) IsJoint() bool { return len(c[1]) > 0 }

func (c JointConfig) String() string {
	if len(c[1]) > 0 {
		return c[0].String() + "&&" + c[1].String()
	}
	return c[0].String()
}

// IDs returns the union of both halves.
func (c JointConfig) IDs() map[uint64]struct{} {
	m := map[uint64]struct{}{}
	for _, cc := range c {
		for id := range cc {
			m[id] = struct{}{}
		}
	}
	return m
}

// Contains test whether id is a voter in either half.
func (c JointConfig) Contains(id uint64) bool {
	return c[0].Contains(id) || c[1].Contains(id)
}

// Clone returns a copy of the JointConfig.
func (c JointConfig) Clone() JointConfig {
	return JointConfig{c[0].Clone(), c[1].Clone()}
}

// VoteResult wins when both halves win and loses when either loses.
func (c JointConfig) VoteResult(votes map[uint64]bool) VoteResult {
	in, out := c[0].VoteResult(votes), c[1].VoteResult(votes)
	switch {
	case in == VoteWon && out == VoteWon:
		return VoteWon
	case in == VoteLost || out == VoteLost:
		return VoteLost
	default:
		return VotePending
	}
}

// CommittedIndex is the lower of the two halves.
func (c JointConfig) CommittedIndex(l AckedIndexer) Index {
	idx0 := c[0].CommittedIndex(l)
	idx1 := c[1].CommittedIndex(l)
	if idx0.Index < idx1.Index {
		return idx0
	}
	return idx1
}
