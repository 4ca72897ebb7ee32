package core

import (
	"math/rand"

	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
)

type core struct {
	// Fields need to be persistent.
	term uint64 // current term
	vote uint64 // vote for

	// Fields just keep in memory.
	id uint64 // raft id

	// last leader id. If the long time did not
	// receive the leader's message, set InvalidID.
	leaderID uint64
	state    StateRole // current state role

	log LogState                  // view of local log
	prs *tracker.ProgressTracker // configuration, progress and votes

	// Fields for time.
	electionElapsed        int // ticks since last election reset
	heartbeatElapsed       int // ticks since last heartbeat, leader only
	randomizedElectionTick int // randomized election tick
	electionTick           int // basis election tick
	minElectionTick        int
	maxElectionTick        int
	heartbeatTick          int // heartbeat timeout tick

	checkQuorum bool
	preVote     bool

	// leadTransferee is id of the leader transfer target when its
	// value is not InvalidID.
	leadTransferee uint64

	// outbound messages, drained by RawNode.Ready.
	msgs []raftpd.Message

	rand     *rand.Rand
	logger   log.FieldLogger
	observer Observer
}

func makeCore(config *conf.Config, o *options) *core {
	c := new(core)

	c.id = config.ID
	c.term = conf.InvalidTerm
	c.vote = conf.InvalidID
	c.leaderID = conf.InvalidID
	c.state = RoleFollower
	c.log = o.log
	c.prs = tracker.MakeProgressTracker(config.MaxInflightMsgs)

	c.electionTick = config.ElectionTick
	c.heartbeatTick = config.HeartbeatTick
	c.minElectionTick = config.MinElectionTick
	c.maxElectionTick = config.MaxElectionTick
	c.checkQuorum = config.CheckQuorum
	c.preVote = config.PreVote

	c.rand = o.rand
	c.observer = o.observer
	c.logger = o.logger.WithField("raft", c.id)

	c.resetRandomizedElectionTimeout()

	return c
}

func (c *core) softState() SoftState {
	return SoftState{
		LeaderID: c.leaderID,
		State:    c.state,
	}
}

func (c *core) hardState() raftpd.HardState {
	return raftpd.HardState{
		Vote:   c.vote,
		Term:   c.term,
		Commit: c.log.Committed(),
	}
}

// promotable indicates whether state machine can be promoted to leader,
// which is true when its own id is in progress list as a voter.
func (c *core) promotable() bool {
	pr := c.prs.Progress(c.id)
	return pr != nil && !pr.IsLearner
}

func (c *core) pastElectionTimeout() bool {
	return c.electionElapsed >= c.randomizedElectionTick
}

// tick advances the internal logical clock by a single tick.
func (c *core) tick() {
	switch c.state {
	case RoleLeader:
		c.tickHeartbeat()
	default:
		c.tickElection()
	}
}

// tickElection is run by followers and candidates.
func (c *core) tickElection() {
	c.electionElapsed++

	if c.promotable() && c.pastElectionTimeout() {
		c.electionElapsed = 0
		c.step(&raftpd.Message{From: c.id, MsgType: raftpd.MsgHup})
	}
}

// tickHeartbeat is run by leaders to send a MsgBeat after heartbeatTick.
func (c *core) tickHeartbeat() {
	c.heartbeatElapsed++
	c.electionElapsed++

	if c.electionElapsed >= c.electionTick {
		c.electionElapsed = 0
		if c.checkQuorum {
			c.step(&raftpd.Message{From: c.id, MsgType: raftpd.MsgCheckQuorum})
		}
		// If current leader cannot transfer leadership in electionTick,
		// it becomes leader again.
		if c.state == RoleLeader && c.leadTransferee != conf.InvalidID {
			c.abortLeaderTransfer()
		}
	}

	if c.state != RoleLeader {
		return
	}

	if c.heartbeatElapsed >= c.heartbeatTick {
		c.heartbeatElapsed = 0
		c.step(&raftpd.Message{From: c.id, MsgType: raftpd.MsgBeat})
	}
}

func (c *core) step(msg *raftpd.Message) {
	c.logger.Debugf("received msg: %v", msg)

	switch {
	case msg.Term == conf.InvalidTerm:
		// local message
	case msg.Term > c.term:
		if msg.MsgType == raftpd.MsgVoteRequest || msg.MsgType == raftpd.MsgPreVoteRequest {
			force := string(msg.Context) == CampaignTransfer
			inLease := c.leaderID != conf.InvalidID && c.electionElapsed < c.electionTick
			if !force && inLease {
				// If a server receives a RequestVote request within the minimum
				// election timeout of hearing from a current leader, it does not
				// update its term or grant its vote.
				c.logger.Infof("[logterm: %d, index: %d, vote: %d] ignored %s from %d "+
					"[logterm: %d, index: %d] at term %d: lease is not expired (remaining ticks: %d)",
					lastTerm(c.log), c.log.LastIndex(), c.vote, msg.MsgType, msg.From,
					msg.LogTerm, msg.LogIndex, c.term, c.electionTick-c.electionElapsed)
				return
			}
		}

		switch {
		case msg.MsgType == raftpd.MsgPreVoteRequest:
			// currentTerm never changes when receiving a PreVote.
		case msg.MsgType == raftpd.MsgPreVoteResponse && !msg.Reject:
			// We send pre-vote requests with a term in our future. If the
			// pre-vote is granted, we will increment our term when we get a
			// quorum. If it is not, the term comes from the node that
			// rejected our vote so we should become a follower at the new
			// term.
		default:
			c.logger.Infof("[term: %d] received a %s message with higher term from %d [term: %d]",
				c.term, msg.MsgType, msg.From, msg.Term)
			// leader id will set after received really msg from leader.
			if msg.MsgType == raftpd.MsgHeartbeatRequest {
				c.becomeFollower(msg.Term, msg.From)
			} else {
				c.becomeFollower(msg.Term, conf.InvalidID)
			}
		}
	case msg.Term < c.term:
		if c.checkQuorum && (msg.MsgType == raftpd.MsgHeartbeatRequest ||
			msg.MsgType == raftpd.MsgAppendRequest) {
			// Answer with our term so the stale leader steps down.
			c.send(&raftpd.Message{To: msg.From, MsgType: raftpd.MsgAppendResponse})
		} else {
			c.logger.Infof("[term: %d] ignored a %s message with lower term from %d [term: %d]",
				c.term, msg.MsgType, msg.From, msg.Term)
		}
		return
	}

	switch msg.MsgType {
	case raftpd.MsgHup:
		if c.preVote {
			c.hup(campaignPreElection)
		} else {
			c.hup(campaignElection)
		}
	case raftpd.MsgPreVoteRequest, raftpd.MsgVoteRequest:
		c.handleVote(msg)
	default:
		c.dispatch(msg)
	}
}

func (c *core) dispatch(msg *raftpd.Message) {
	switch c.state {
	case RoleLeader:
		c.stepLeader(msg)
	case RoleFollower:
		c.stepFollower(msg)
	case RolePreCandidate, RoleCandidate:
		c.stepCandidate(msg)
	default:
		c.logger.Panicf("unexpected state role %v", c.state)
	}
}
