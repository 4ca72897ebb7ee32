package core

import (
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/core/confchange"
	"github.com/thinkermao/raftcore/raft/core/quorum"
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
	"github.com/thinkermao/raftcore/utils"
)

// send queues message to remote peers. Vote messages carry the term
// chosen by the caller, every other message is stamped with current term.
func (c *core) send(msg *raftpd.Message) {
	if msg.From == conf.InvalidID {
		msg.From = c.id
	}
	switch msg.MsgType {
	case raftpd.MsgVoteRequest, raftpd.MsgPreVoteRequest,
		raftpd.MsgVoteResponse, raftpd.MsgPreVoteResponse:
		// pre-vote requests carry a future term, responses the term
		// they answer.
	default:
		msg.Term = c.term
	}
	c.msgs = append(c.msgs, *msg)
}

func (c *core) resetRandomizedElectionTimeout() {
	previousTimeout := c.randomizedElectionTick
	c.randomizedElectionTick = c.minElectionTick +
		c.rand.Intn(c.maxElectionTick-c.minElectionTick)

	c.logger.Debugf("reset randomized election timeout [%d => %d]",
		previousTimeout, c.randomizedElectionTick)
}

func (c *core) resetTerm(term uint64) {
	if c.term != term {
		c.term = term
		c.vote = conf.InvalidID
	}
	c.leaderID = conf.InvalidID

	c.electionElapsed = 0
	c.heartbeatElapsed = 0
	c.resetRandomizedElectionTimeout()

	c.abortLeaderTransfer()
	c.prs.ResetVotes()
}

func (c *core) notify(from StateRole) {
	if c.observer == nil {
		return
	}
	c.observer.OnRoleChange(RoleEvent{
		ID:   c.id,
		Term: c.term,
		Lead: c.leaderID,
		From: from,
		To:   c.state,
	})
}

func (c *core) becomeFollower(term, leaderID uint64) {
	from := c.state
	c.resetTerm(term)
	c.leaderID = leaderID
	c.state = RoleFollower

	if leaderID != conf.InvalidID {
		c.logger.Infof("become %d's follower at %d", leaderID, c.term)
	} else {
		c.logger.Infof("become follower at %d, without leader", c.term)
	}
	c.notify(from)
}

func (c *core) becomePreCandidate() {
	utils.Assert(c.state != RoleLeader,
		"%d invalid transition [Leader => PreCandidate]", c.id)

	// Becoming a pre-candidate changes our state, but doesn't change
	// anything else. In particular it does not increase currentTerm
	// or change votedFor.
	from := c.state
	c.prs.ResetVotes()
	c.leaderID = conf.InvalidID
	c.state = RolePreCandidate

	c.logger.Infof("become pre-candidate at %d", c.term)
	c.notify(from)
}

func (c *core) becomeCandidate() {
	utils.Assert(c.state != RoleLeader,
		"%d invalid transition [Leader => Candidate]", c.id)

	from := c.state
	c.resetTerm(c.term + 1)
	c.vote = c.id
	c.state = RoleCandidate

	c.logger.Infof("become candidate at %d", c.term)
	c.notify(from)
}

func (c *core) becomeLeader() {
	utils.Assert(c.state != RoleFollower,
		"%d invalid transition [Follower => Leader]", c.id)

	from := c.state
	c.resetTerm(c.term)
	c.leaderID = c.id
	c.state = RoleLeader

	// When a leader first comes to power, it initializes all next
	// index values to the index just after the last one in its log.
	c.prs.ResetProgress(c.id, c.log.LastIndex())

	c.logger.Infof("become leader at %d [lastIdx: %d]", c.term, c.log.LastIndex())
	c.notify(from)

	c.broadcastAppend()
}

func (c *core) hup(t campaignType) {
	if c.state == RoleLeader {
		c.logger.Debugf("ignoring Hup because already leader")
		return
	}
	if !c.promotable() {
		c.logger.Warnf("is unpromotable and can not campaign")
		return
	}

	c.logger.Infof("is starting a new election at term %d", c.term)
	c.campaign(t)
}

// campaign transitions the node to candidate (or pre-candidate) and
// requests votes from every other voter.
func (c *core) campaign(t campaignType) {
	var term uint64
	var voteMsg raftpd.MessageType
	if t == campaignPreElection {
		c.becomePreCandidate()
		voteMsg = raftpd.MsgPreVoteRequest
		// PreVote RPCs are sent for the next term before we've incremented c.term.
		term = c.term + 1
	} else {
		c.becomeCandidate()
		voteMsg = raftpd.MsgVoteRequest
		term = c.term
	}

	if res := c.poll(c.id, raftpd.VoteResponseType(voteMsg), true); res == quorum.VoteWon {
		// We won the election after voting for ourselves (which must mean that
		// this is a single-node cluster). Advance to the next state.
		if t == campaignPreElection {
			c.campaign(campaignElection)
		} else {
			c.becomeLeader()
		}
		return
	}

	var ctx []byte
	if t == campaignTransfer {
		ctx = []byte(CampaignTransfer)
	}
	for _, id := range c.prs.VoterNodes() {
		if id == c.id {
			continue
		}
		c.logger.Infof("[logterm: %d, index: %d] sent %s request to %d at term %d",
			lastTerm(c.log), c.log.LastIndex(), voteMsg, id, c.term)

		c.send(&raftpd.Message{
			To:       id,
			Term:     term,
			MsgType:  voteMsg,
			LogIndex: c.log.LastIndex(),
			LogTerm:  lastTerm(c.log),
			Context:  ctx,
		})
	}
}

// poll records the ballot of id and returns the election outcome.
func (c *core) poll(id uint64, tp raftpd.MessageType, granted bool) quorum.VoteResult {
	if granted {
		c.logger.Infof("received %s from %d at term %d", tp, id, c.term)
	} else {
		c.logger.Infof("received %s rejection from %d at term %d", tp, id, c.term)
	}
	c.prs.RecordVote(id, granted)
	gr, rj, res := c.prs.TallyVotes()
	c.logger.Infof("has received %d %s votes and %d vote rejections", gr, tp, rj)
	return res
}

func (c *core) abortLeaderTransfer() {
	c.leadTransferee = conf.InvalidID
}

// maybeCommit attempts to advance the commit index. Returns true if
// the commit index changed. Only entries of current term are committed
// by counting replicas.
func (c *core) maybeCommit() bool {
	// The leader holds its whole log.
	if pr := c.prs.Progress(c.id); pr != nil {
		pr.MaybeUpdate(c.log.LastIndex())
	}

	mci := c.prs.Committed()
	if mci <= c.log.Committed() || c.log.Term(mci) != c.term {
		/* maybe committed, or old term's log entry */
		return false
	}
	c.log.CommitTo(mci)
	c.logger.Debugf("commit entries to index: %d", mci)
	return true
}

// applyConfChange compiles cc against the active configuration and
// switches to the result. On error the active configuration is kept.
func (c *core) applyConfChange(cc raftpd.ConfChangeV2) (raftpd.ConfState, error) {
	chg := confchange.Changer{
		Tracker:   c.prs,
		LastIndex: c.log.LastIndex(),
	}

	var cfg tracker.Configuration
	var prs tracker.ProgressMap
	var err error
	if cc.LeaveJoint() {
		cfg, prs, err = chg.LeaveJoint()
	} else if autoLeave, ok := cc.EnterJoint(); ok {
		cfg, prs, err = chg.EnterJoint(autoLeave, cc.Changes...)
	} else {
		cfg, prs, err = chg.Simple(cc.Changes...)
	}
	if err != nil {
		c.logger.Warnf("rejected conf change %s: %v", confchange.Describe(cc.Changes...), err)
		return c.prs.ConfState(), err
	}

	return c.switchToConfig(cfg, prs), nil
}

// restoreConfState replaces the active configuration with cs.
func (c *core) restoreConfState(cs raftpd.ConfState) error {
	prs := tracker.MakeProgressTracker(c.prs.MaxInflight())
	chg := confchange.Changer{
		Tracker:   prs,
		LastIndex: c.log.LastIndex(),
	}
	if err := confchange.Restore(chg, cs); err != nil {
		c.logger.Warnf("unable to restore config %v: %v", cs, err)
		return err
	}
	c.switchToConfig(prs.Conf(), prs.ProgressMap())
	return nil
}

// switchToConfig reconfigures this node to use the provided configuration.
// It updates the in-memory state and, when necessary, carries out
// additional actions such as reacting to the removal of nodes or changed
// quorum requirements.
func (c *core) switchToConfig(cfg tracker.Configuration, prs tracker.ProgressMap) raftpd.ConfState {
	c.prs.ApplyConf(cfg, prs)

	c.logger.Infof("switched to configuration %s", cfg)
	cs := c.prs.ConfState()

	if c.state != RoleLeader {
		return cs
	}

	if !c.promotable() {
		// This node is leader and was removed or demoted.
		c.logger.Infof("removed from voters, step down at term %d", c.term)
		c.becomeFollower(c.term, conf.InvalidID)
		return cs
	}

	// The quorum may have shrunk, and new peers need a probe.
	if c.maybeCommit() {
		c.broadcastAppend()
	} else {
		c.prs.Visit(func(id uint64, pr *tracker.Progress) {
			if id != c.id {
				c.sendAppend(id)
			}
		})
	}

	// If the leadTransferee was removed or demoted, abort the leadership transfer.
	if _, ok := c.prs.Conf().Voters.IDs()[c.leadTransferee]; !ok && c.leadTransferee != conf.InvalidID {
		c.abortLeaderTransfer()
	}
	return cs
}
