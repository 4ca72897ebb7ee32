// Package tracker keeps the membership configuration of a raft group,
// the replication progress of every member and the ballots of the
// election in flight.
//
// Configuration and ProgressTracker follow go.etcd.io/raft/tracker
// (Apache-2.0), see NOTICE.
package tracker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thinkermao/raftcore/raft/core/quorum"
	"github.com/thinkermao/raftcore/raft/proto"
)

// Configuration is the membership of a raft group.
//
// Learners never intersect Voters. Demoting a voter of the outgoing half
// would break that, so the demotion is staged in LearnersNext and done
// by LeaveJoint:
//
//	voters: (1 2 3)             learners: ()  next: ()
//	voters: (1 2)&&(1 2 3)      learners: ()  next: (3)
//	voters: (1 2)               learners: (3) next: ()
type Configuration struct {
	Voters quorum.JointConfig
	// AutoLeave tells the application to leave the joint config as soon
	// as it is committed.
	AutoLeave    bool
	Learners     map[uint64]struct{}
	LearnersNext map[uint64]struct{}
}

func (c Configuration) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "voters=%s", c.Voters)
	if c.Learners != nil {
		fmt.Fprintf(&buf, " learners=%s", quorum.MajorityConfig(c.Learners).String())
	}
	if c.LearnersNext != nil {
		fmt.Fprintf(&buf, " learners_next=%s", quorum.MajorityConfig(c.LearnersNext).String())
	}
	if c.AutoLeave {
		fmt.Fprint(&buf, " autoleave")
	}
	return buf.String()
}

// Clone copies a Configuration.
func (c *Configuration) Clone() Configuration {
	clone := func(m map[uint64]struct{}) map[uint64]struct{} {
		if m == nil {
			return nil
		}
		mm := make(map[uint64]struct{}, len(m))
		for k := range m {
			mm[k] = struct{}{}
		}
		return mm
	}
	return Configuration{
		Voters:       c.Voters.Clone(),
		AutoLeave:    c.AutoLeave,
		Learners:     clone(c.Learners),
		LearnersNext: clone(c.LearnersNext),
	}
}

// ProgressTracker holds the configuration, the progress of every member
// and the ballots of current election.
type ProgressTracker struct {
	config   Configuration
	progress ProgressMap

	votes map[uint64]bool

	maxInflight int
}

// MakeProgressTracker initializes a ProgressTracker with an empty configuration.
func MakeProgressTracker(maxInflight int) *ProgressTracker {
	return &ProgressTracker{
		maxInflight: maxInflight,
		config: Configuration{
			Voters: quorum.JointConfig{
				quorum.MajorityConfig{},
				nil, // only populated when used
			},
			Learners:     nil, // only populated when used
			LearnersNext: nil, // only populated when used
		},
		votes:    map[uint64]bool{},
		progress: map[uint64]*Progress{},
	}
}

// Conf returns the active configuration. Callers must not mutate it,
// use ApplyConf to install a new one.
func (p *ProgressTracker) Conf() Configuration {
	return p.config
}

// ProgressMap returns the tracked progresses. Callers must not add or
// remove entries.
func (p *ProgressTracker) ProgressMap() ProgressMap {
	return p.progress
}

// Progress returns the progress of id, or nil if id is not tracked.
func (p *ProgressTracker) Progress(id uint64) *Progress {
	return p.progress[id]
}

// MaxInflight returns the inflight window size of new progresses.
func (p *ProgressTracker) MaxInflight() int {
	return p.maxInflight
}

// ApplyConf installs a configuration and the matching progress map,
// usually produced by confchange.Changer.
func (p *ProgressTracker) ApplyConf(cfg Configuration, prs ProgressMap) {
	p.config = cfg
	p.progress = prs
}

// ConfState returns a ConfState representing the active configuration.
func (p *ProgressTracker) ConfState() raftpd.ConfState {
	return raftpd.ConfState{
		Voters:         p.config.Voters.Incoming().Slice(),
		VotersOutgoing: p.config.Voters.Outgoing().Slice(),
		Learners:       quorum.MajorityConfig(p.config.Learners).Slice(),
		LearnersNext:   quorum.MajorityConfig(p.config.LearnersNext).Slice(),
		AutoLeave:      p.config.AutoLeave,
	}
}

// IsSingleton test whether the leader is the only voter.
func (p *ProgressTracker) IsSingleton() bool {
	return len(p.config.Voters.Incoming()) == 1 && len(p.config.Voters.Outgoing()) == 0
}

type matchAckIndexer map[uint64]*Progress

var _ quorum.AckedIndexer = matchAckIndexer(nil)

// AckedIndex implements AckedIndexer interface.
func (l matchAckIndexer) AckedIndex(id uint64) (quorum.Index, bool) {
	pr, ok := l[id]
	if !ok {
		return quorum.Index{}, false
	}
	return quorum.Index{Index: pr.Match}, true
}

// Committed returns the highest index matched by a quorum of voters.
func (p *ProgressTracker) Committed() uint64 {
	return p.config.Voters.CommittedIndex(matchAckIndexer(p.progress)).Index
}

// Visit invokes the supplied closure for all tracked progresses in stable order.
func (p *ProgressTracker) Visit(f func(id uint64, pr *Progress)) {
	for _, id := range p.progress.ids() {
		f(id, p.progress[id])
	}
}

// QuorumActive test whether a quorum of voters was active recently.
func (p *ProgressTracker) QuorumActive() bool {
	votes := map[uint64]bool{}
	p.Visit(func(id uint64, pr *Progress) {
		if pr.IsLearner {
			return
		}
		votes[id] = pr.RecentActive
	})

	return p.config.Voters.VoteResult(votes) == quorum.VoteWon
}

// VoterNodes returns a sorted slice of voters.
func (p *ProgressTracker) VoterNodes() []uint64 {
	m := p.config.Voters.IDs()
	nodes := make([]uint64, 0, len(m))
	for id := range m {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// LearnerNodes returns a sorted slice of learners.
func (p *ProgressTracker) LearnerNodes() []uint64 {
	if len(p.config.Learners) == 0 {
		return nil
	}
	return quorum.MajorityConfig(p.config.Learners).Slice()
}

// ResetVotes prepares for a new round of vote counting via RecordVote.
func (p *ProgressTracker) ResetVotes() {
	p.votes = map[uint64]bool{}
}

// RecordVote records the first ballot of id in this election.
func (p *ProgressTracker) RecordVote(id uint64, v bool) {
	_, ok := p.votes[id]
	if !ok {
		p.votes[id] = v
	}
}

// TallyVotes counts the ballots of voters. Ballots of non-members are
// kept but not counted.
func (p *ProgressTracker) TallyVotes() (granted int, rejected int, _ quorum.VoteResult) {
	for id, v := range p.votes {
		if !p.config.Voters.Contains(id) {
			continue
		}
		if v {
			granted++
		} else {
			rejected++
		}
	}
	result := p.config.Voters.VoteResult(p.votes)
	return granted, rejected, result
}

// ResetProgress moves every tracked peer to StateProbe with Next just
// past lastIndex; self is marked as matching lastIndex. Called when a
// node becomes leader.
func (p *ProgressTracker) ResetProgress(self, lastIndex uint64) {
	p.Visit(func(id uint64, pr *Progress) {
		pr.ResetState(StateProbe)
		pr.Match = 0
		pr.Next = lastIndex + 1
		pr.RecentActive = false
		if id == self {
			pr.Match = lastIndex
			pr.RecentActive = true
		}
	})
}
