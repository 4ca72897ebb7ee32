package core

import (
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/core/quorum"
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
	"github.com/thinkermao/raftcore/utils"
)

func (c *core) stepLeader(msg *raftpd.Message) {
	// These message types do not require any progress for msg.From.
	switch msg.MsgType {
	case raftpd.MsgBeat:
		c.broadcastHeartbeat()
		return
	case raftpd.MsgCheckQuorum:
		c.handleCheckQuorum()
		return
	}

	// All other message types require a progress for msg.From.
	pr := c.prs.Progress(msg.From)
	if pr == nil {
		c.logger.Debugf("no progress available for %d", msg.From)
		return
	}

	switch msg.MsgType {
	case raftpd.MsgAppendResponse:
		c.handleAppendEntriesResponse(msg, pr)
	case raftpd.MsgHeartbeatResponse:
		c.handleHeartbeatResponse(msg, pr)
	case raftpd.MsgUnreachable:
		c.handleUnreachable(msg, pr)
	case raftpd.MsgSnapStatus:
		c.handleSnapshotStatus(msg, pr)
	case raftpd.MsgTransferLeader:
		c.handleTransferLeader(msg, pr)
	}
}

func (c *core) stepFollower(msg *raftpd.Message) {
	switch msg.MsgType {
	case raftpd.MsgAppendRequest:
		c.electionElapsed = 0
		c.leaderID = msg.From
		c.handleAppendEntries(msg)
	case raftpd.MsgHeartbeatRequest:
		c.electionElapsed = 0
		c.leaderID = msg.From
		c.handleHeartbeat(msg)
	case raftpd.MsgTransferLeader:
		if c.leaderID == conf.InvalidID {
			c.logger.Infof("no leader at term %d; dropping leader transfer msg", c.term)
			return
		}
		c.send(&raftpd.Message{
			From:    msg.From,
			To:      c.leaderID,
			MsgType: raftpd.MsgTransferLeader,
		})
	case raftpd.MsgTimeoutNow:
		c.logger.Infof("[term %d] received MsgTimeoutNow from %d and starts an election to get leadership",
			c.term, msg.From)
		// Leadership transfers never use pre-vote even if c.preVote is true; we
		// know we are not recovering from a partition so there is no need for the
		// extra round trip.
		c.hup(campaignTransfer)
	}
}

func (c *core) stepCandidate(msg *raftpd.Message) {
	// Only handle vote responses corresponding to our candidacy (while in
	// candidate state, we may get stale pre-vote responses in this term from
	// our pre-candidate state).
	var myVoteRespType raftpd.MessageType
	if c.state == RolePreCandidate {
		myVoteRespType = raftpd.MsgPreVoteResponse
	} else {
		myVoteRespType = raftpd.MsgVoteResponse
	}

	switch msg.MsgType {
	// If a candidate receives an AppendEntries RPC from another server claiming
	// to be leader whose term is at least as large as the candidate's current term,
	// it recognizes the leader as legitimate and returns to follower state.
	case raftpd.MsgAppendRequest:
		c.becomeFollower(msg.Term, msg.From)
		c.handleAppendEntries(msg)
	case raftpd.MsgHeartbeatRequest:
		c.becomeFollower(msg.Term, msg.From)
		c.handleHeartbeat(msg)
	case myVoteRespType:
		c.handleVoteResponse(msg)
	case raftpd.MsgTimeoutNow:
		c.logger.Debugf("[term %d state %v] ignored MsgTimeoutNow from %d", c.term, c.state, msg.From)
	case raftpd.MsgTransferLeader:
		c.logger.Infof("no leader at term %d; dropping leader transfer msg", c.term)
	}
}

// handleVote answers a (pre-)vote request at a term not lower than ours.
func (c *core) handleVote(msg *raftpd.Message) {
	reply := raftpd.Message{
		To:      msg.From,
		MsgType: raftpd.VoteResponseType(msg.MsgType),
	}

	// We can vote if this is a repeat of a vote we've already cast, or we
	// haven't voted and we don't think there's a leader yet in this term,
	// or this is a pre-vote for a future term.
	canVote := c.vote == msg.From ||
		(c.vote == conf.InvalidID && c.leaderID == conf.InvalidID) ||
		(msg.MsgType == raftpd.MsgPreVoteRequest && msg.Term > c.term)

	// ...and we believe the candidate is up to date.
	if canVote && isUpToDate(c.log, msg.LogIndex, msg.LogTerm) {
		c.logger.Infof("[logterm: %d, index: %d, vote: %d] cast %s for %d [logterm: %d, index: %d] at term %d",
			lastTerm(c.log), c.log.LastIndex(), c.vote, msg.MsgType, msg.From, msg.LogTerm, msg.LogIndex, c.term)
		// When responding to pre-vote requests we include the term from the
		// message, not the local term, so the pre-candidate can tell the
		// response belongs to its campaign.
		reply.Term = msg.Term
		c.send(&reply)
		if msg.MsgType == raftpd.MsgVoteRequest {
			// Only record real votes.
			c.electionElapsed = 0
			c.vote = msg.From
		}
		return
	}

	c.logger.Infof("[logterm: %d, index: %d, vote: %d] rejected %s from %d [logterm: %d, index: %d] at term %d",
		lastTerm(c.log), c.log.LastIndex(), c.vote, msg.MsgType, msg.From, msg.LogTerm, msg.LogIndex, c.term)
	reply.Term = c.term
	reply.Reject = true
	c.send(&reply)
}

func (c *core) handleVoteResponse(msg *raftpd.Message) {
	switch c.poll(msg.From, msg.MsgType, !msg.Reject) {
	case quorum.VoteWon:
		if c.state == RolePreCandidate {
			c.campaign(campaignElection)
		} else {
			c.becomeLeader()
		}
	case quorum.VoteLost:
		c.becomeFollower(c.term, conf.InvalidID)
	}
}

// RPC:
// - AppendEntries(commit, prevLogIndex, prevLogTerm, entries)
// - AppendEntriesReply(index, hint, reject)
func (c *core) handleAppendEntries(msg *raftpd.Message) {
	reply := raftpd.Message{
		To:      msg.From,
		MsgType: raftpd.MsgAppendResponse,
	}

	committed := c.log.Committed()
	if msg.LogIndex < committed {
		// expired append entries has been committed,
		// so it reply same with success append.
		reply.Index = committed
		c.send(&reply)
		return
	}

	if idx, hint, ok := c.log.TryAppend(msg); ok {
		c.log.CommitTo(utils.MinUint64(msg.Commit, idx))
		reply.Index = idx
		c.logger.Debugf("[term: %d, commit: %d] accept append entries from %d [logterm: %d, idx: %d]",
			c.term, c.log.Committed(), msg.From, msg.LogTerm, msg.LogIndex)
	} else {
		c.logger.Debugf("[logterm: %d, idx: %d] rejected append [logterm: %d, idx: %d] from %d",
			c.log.Term(msg.LogIndex), msg.LogIndex, msg.LogTerm, msg.LogIndex, msg.From)
		reply.Index = msg.LogIndex
		reply.RejectHint = hint
		reply.Reject = true
	}
	c.send(&reply)
}

func (c *core) handleAppendEntriesResponse(msg *raftpd.Message, pr *tracker.Progress) {
	pr.RecentActive = true

	if !pr.HandleAppendEntries(msg.Reject, msg.Index, msg.RejectHint) {
		/* stale response */
		return
	}

	if msg.Reject {
		c.logger.Debugf("received append rejection (lastindex: %d) from %d for index %d, now %v",
			msg.RejectHint, msg.From, msg.Index, pr)
		c.sendAppend(msg.From)
		return
	}

	if c.maybeCommit() {
		c.broadcastAppend()
	} else if pr.Match < c.log.LastIndex() {
		c.sendAppend(msg.From)
	}

	// Transfer leadership is in progress.
	if msg.From == c.leadTransferee && pr.Match == c.log.LastIndex() {
		c.logger.Infof("sent MsgTimeoutNow to %d after received append response", msg.From)
		c.sendTimeoutNow(msg.From)
	}
}

func (c *core) handleHeartbeat(msg *raftpd.Message) {
	c.log.CommitTo(msg.Commit)

	reply := raftpd.Message{
		To:      msg.From,
		MsgType: raftpd.MsgHeartbeatResponse,
		Context: msg.Context,
	}
	c.send(&reply)
}

func (c *core) handleHeartbeatResponse(msg *raftpd.Message, pr *tracker.Progress) {
	pr.RecentActive = true
	pr.ProbeSent = false

	// free one slot for the full inflights window so that progress can
	// continue after lost appends.
	if pr.State == tracker.StateReplicate && pr.Inflights.Full() {
		pr.Inflights.FreeFirstOne()
	}
	if pr.Match < c.log.LastIndex() {
		c.sendAppend(msg.From)
	}
}

func (c *core) handleUnreachable(msg *raftpd.Message, pr *tracker.Progress) {
	pr.HandleUnreachable()
	c.logger.Debugf("failed to send message to %d because it is unreachable [%v]", msg.From, pr)
}

func (c *core) handleSnapshotStatus(msg *raftpd.Message, pr *tracker.Progress) {
	if pr.State != tracker.StateSnapshot {
		return
	}
	pr.HandleSnapshot(msg.Reject)
	if msg.Reject {
		c.logger.Debugf("snapshot failed, resumed sending replication messages to %d [%v]", msg.From, pr)
	} else {
		c.logger.Debugf("snapshot succeeded, resumed sending replication messages to %d [%v]", msg.From, pr)
	}
}

func (c *core) handleCheckQuorum() {
	if !c.prs.QuorumActive() {
		c.logger.Warnf("stepped down to follower since quorum is not active")
		c.becomeFollower(c.term, conf.InvalidID)
	}
	// Mark everyone (but ourselves) as inactive in preparation for the next
	// CheckQuorum.
	c.prs.Visit(func(id uint64, pr *tracker.Progress) {
		if id != c.id {
			pr.RecentActive = false
		}
	})
}

func (c *core) handleTransferLeader(msg *raftpd.Message, pr *tracker.Progress) {
	if pr.IsLearner {
		c.logger.Debugf("is learner. Ignored transferring leadership")
		return
	}
	leadTransferee := msg.From
	lastLeadTransferee := c.leadTransferee
	if lastLeadTransferee != conf.InvalidID {
		if lastLeadTransferee == leadTransferee {
			c.logger.Infof("[term %d] transfer leadership to %d is in progress, ignores request to same node %d",
				c.term, leadTransferee, leadTransferee)
			return
		}
		c.abortLeaderTransfer()
		c.logger.Infof("[term %d] abort previous transferring leadership to %d", c.term, lastLeadTransferee)
	}
	if leadTransferee == c.id {
		c.logger.Debugf("is already leader. Ignored transferring leadership to self")
		return
	}
	// Transfer leadership to third party.
	c.logger.Infof("[term %d] starts to transfer leadership to %d", c.term, leadTransferee)
	// Transfer leadership should be finished in one electionTick, so reset
	// electionElapsed.
	c.electionElapsed = 0
	c.leadTransferee = leadTransferee
	if pr.Match == c.log.LastIndex() {
		c.sendTimeoutNow(leadTransferee)
		c.logger.Infof("sends MsgTimeoutNow to %d immediately as %d already has up-to-date log",
			leadTransferee, leadTransferee)
	} else {
		c.sendAppend(leadTransferee)
	}
}

func (c *core) sendTimeoutNow(to uint64) {
	c.send(&raftpd.Message{To: to, MsgType: raftpd.MsgTimeoutNow})
}

func (c *core) broadcastHeartbeat() {
	c.prs.Visit(func(id uint64, pr *tracker.Progress) {
		if id != c.id {
			c.sendHeartbeat(id, pr)
		}
	})
}

func (c *core) sendHeartbeat(to uint64, pr *tracker.Progress) {
	// Attach the commit as min(to.matched, raftlog.committed).
	// When the leader sends out heartbeat message,
	// the receiver(follower) might not be matched with the leader
	// or it might not have all the committed entries.
	// The leader MUST NOT forward the follower's commit to
	// an unmatched index, in order to preserving Log Matching Property.
	msg := raftpd.Message{
		To:      to,
		MsgType: raftpd.MsgHeartbeatRequest,
		Commit:  utils.MinUint64(pr.Match, c.log.Committed()),
	}
	c.send(&msg)
}

// broadcastAppend send append to followers which are not paused.
func (c *core) broadcastAppend() {
	c.prs.Visit(func(id uint64, _ *tracker.Progress) {
		if id != c.id {
			c.sendAppend(id)
		}
	})
}

func (c *core) sendAppend(to uint64) {
	pr := c.prs.Progress(to)
	if pr == nil || pr.IsPaused() {
		/* ignore paused node */
		return
	}

	lastIndex := c.log.LastIndex()
	msg := raftpd.Message{
		To:       to,
		MsgType:  raftpd.MsgAppendRequest,
		LogIndex: pr.Next - 1,
		LogTerm:  c.log.Term(pr.Next - 1),
		Commit:   c.log.Committed(),
	}
	if reader, ok := c.log.(EntryReader); ok && pr.Next <= lastIndex {
		msg.Entries = reader.Entries(pr.Next, lastIndex+1)
	}

	c.logger.Debugf("[term: %d] send append [idx: %d, term: %d, entries: %d] to %d [%v]",
		c.term, msg.LogIndex, msg.LogTerm, len(msg.Entries), to, pr)

	pr.SentEntries(msg.LogIndex+uint64(len(msg.Entries)), len(msg.Entries))
	c.send(&msg)
}
