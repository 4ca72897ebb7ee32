package core

import (
	"testing"

	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/proto"
)

func TestCore_resetTerm(t *testing.T) {
	tests := []struct {
		term  uint64
		wvote uint64
	}{
		// same term keeps the vote
		{2, 3},
		// new term forgets it
		{3, conf.InvalidID},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
			term(2), vote(3), leaderID(2), electionElapsed(5))
		c := r.core
		c.leadTransferee = 3
		c.resetTerm(test.term)

		if c.term != test.term {
			t.Fatalf("#%d: term want: %d, get: %d", i, test.term, c.term)
		}
		if c.vote != test.wvote {
			t.Fatalf("#%d: vote want: %d, get: %d", i, test.wvote, c.vote)
		}
		if c.leaderID != conf.InvalidID {
			t.Fatalf("#%d: leader want: %d, get: %d", i, conf.InvalidID, c.leaderID)
		}
		if c.electionElapsed != 0 || c.heartbeatElapsed != 0 {
			t.Fatalf("#%d: elapsed want: 0, get: %d/%d",
				i, c.electionElapsed, c.heartbeatElapsed)
		}
		if c.leadTransferee != conf.InvalidID {
			t.Fatalf("#%d: lead transferee want: %d, get: %d",
				i, conf.InvalidID, c.leadTransferee)
		}
	}
}

func TestCore_randomizedElectionTimeout(t *testing.T) {
	c := conf.Config{
		ID:              1,
		HeartbeatTick:   1,
		ElectionTick:    10,
		MinElectionTick: 15,
		MaxElectionTick: 20,
	}
	r, err := NewRawNode(&c, WithPeers(1, 2, 3))
	if err != nil {
		t.Fatalf("build raft: %v", err)
	}

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		r.core.resetTerm(r.core.term)
		tick := r.core.randomizedElectionTick
		if tick < c.MinElectionTick || tick >= c.MaxElectionTick {
			t.Fatalf("#%d: timeout want in [%d, %d), get: %d",
				i, c.MinElectionTick, c.MaxElectionTick, tick)
		}
		seen[tick] = true
	}
	if len(seen) < 2 {
		t.Fatalf("timeout is not randomized: %v", seen)
	}
}

func TestCore_becomeCandidate(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, term(4), vote(2))
	r.core.becomeCandidate()

	c := r.core
	if c.state != RoleCandidate {
		t.Fatalf("state want: %v, get: %v", RoleCandidate, c.state)
	}
	if c.term != 5 {
		t.Fatalf("term want: %d, get: %d", 5, c.term)
	}
	if c.vote != c.id {
		t.Fatalf("vote want: %d, get: %d", c.id, c.vote)
	}
}

func TestCore_invalidTransition(t *testing.T) {
	tests := []struct {
		prepare func(c *core)
		step    func(c *core)
	}{
		{func(c *core) { c.becomeCandidate(); c.becomeLeader() }, func(c *core) { c.becomeCandidate() }},
		{func(c *core) { c.becomeCandidate(); c.becomeLeader() }, func(c *core) { c.becomePreCandidate() }},
		{func(c *core) {}, func(c *core) { c.becomeLeader() }},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1)
		test.prepare(r.core)
		func() {
			defer func() {
				if err := recover(); err == nil {
					t.Fatalf("#%d: expect panic, but nothing happens", i)
				}
			}()
			test.step(r.core)
		}()
	}
}

func TestCore_preCandidateKeepsTerm(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, term(2), vote(3), preVote())
	r.Campaign()

	c := r.core
	if c.state != RolePreCandidate {
		t.Fatalf("state want: %v, get: %v", RolePreCandidate, c.state)
	}
	if c.term != 2 || c.vote != 3 {
		t.Fatalf("term/vote want: 2/3, get: %d/%d", c.term, c.vote)
	}

	msgs := r.Ready().Messages
	if len(msgs) != 2 {
		t.Fatalf("msgs want: 2, get: %d", len(msgs))
	}
	for i, msg := range msgs {
		if msg.MsgType != raftpd.MsgPreVoteRequest || msg.Term != 3 {
			t.Fatalf("#%d: msg want: %v at 3, get: %v at %d",
				i, raftpd.MsgPreVoteRequest, msg.MsgType, msg.Term)
		}
	}
}

func TestCore_singleNodeElection(t *testing.T) {
	tests := []struct {
		opts []raftOpt
	}{
		{nil},
		{[]raftOpt{preVote()}},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1}, 10, 1, test.opts...)
		for j := 0; j < 20 && r.core.state != RoleLeader; j++ {
			r.Tick()
		}
		if r.core.state != RoleLeader {
			t.Fatalf("#%d: state want: %v, get: %v", i, RoleLeader, r.core.state)
		}
		if r.core.term != 1 {
			t.Fatalf("#%d: term want: 1, get: %d", i, r.core.term)
		}
		if r.core.leaderID != 1 {
			t.Fatalf("#%d: leader want: 1, get: %d", i, r.core.leaderID)
		}
	}
}

func TestCore_tickElection(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, randTick(12))
	for i := 0; i < 11; i++ {
		if r.Tick() {
			t.Fatalf("#%d: unexpected output before timeout", i)
		}
	}
	if !r.Tick() {
		t.Fatalf("want output at timeout")
	}
	if r.core.state != RoleCandidate {
		t.Fatalf("state want: %v, get: %v", RoleCandidate, r.core.state)
	}
}

func TestCore_tickHeartbeat(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 3)
	r.core.becomeCandidate()
	r.core.becomeLeader()
	r.Ready()

	for i := 0; i < 2; i++ {
		r.Tick()
	}
	if msgs := r.Ready().Messages; len(msgs) != 0 {
		t.Fatalf("msgs want: 0, get: %d", len(msgs))
	}
	r.Tick()
	msgs := r.Ready().Messages
	if len(msgs) != 2 {
		t.Fatalf("msgs want: 2, get: %d", len(msgs))
	}
	for i, msg := range msgs {
		if msg.MsgType != raftpd.MsgHeartbeatRequest {
			t.Fatalf("#%d: msg type want: %v, get: %v", i, raftpd.MsgHeartbeatRequest, msg.MsgType)
		}
	}
}

func TestCore_poll(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3, 4, 5}, 10, 1)
	r.Campaign()

	tests := []struct {
		from    uint64
		reject  bool
		wgrant  int
		wreject int
		wstate  StateRole
	}{
		{2, true, 1, 1, RoleCandidate},
		// the first ballot of a voter counts
		{2, false, 1, 1, RoleCandidate},
		{3, false, 2, 1, RoleCandidate},
		{4, false, 3, 1, RoleLeader},
	}

	for i, test := range tests {
		if err := r.Step(&raftpd.Message{
			From:    test.from,
			To:      1,
			Term:    1,
			MsgType: raftpd.MsgVoteResponse,
			Reject:  test.reject,
		}); err != nil {
			t.Fatalf("#%d: step: %v", i, err)
		}
		if r.core.state != test.wstate {
			t.Fatalf("#%d: state want: %v, get: %v", i, test.wstate, r.core.state)
		}
		if test.wstate == RoleLeader {
			continue
		}
		gr, rj, _ := r.Tracker().TallyVotes()
		if gr != test.wgrant || rj != test.wreject {
			t.Fatalf("#%d: votes want: %d/%d, get: %d/%d",
				i, test.wgrant, test.wreject, gr, rj)
		}
	}
}

func TestCore_voteLost(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1)
	r.Campaign()
	for _, id := range []uint64{2, 3} {
		r.Step(&raftpd.Message{From: id, To: 1, Term: 1, MsgType: raftpd.MsgVoteResponse, Reject: true})
	}
	if r.core.state != RoleFollower {
		t.Fatalf("state want: %v, get: %v", RoleFollower, r.core.state)
	}
	if r.core.term != 1 {
		t.Fatalf("term want: 1, get: %d", r.core.term)
	}
}

func TestCore_preVoteResponse(t *testing.T) {
	tests := []struct {
		term   uint64
		reject bool
		wterm  uint64
		wstate StateRole
	}{
		// granted pre-votes do not move our term, winning starts a real election.
		{2, false, 2, RoleCandidate},
		// a rejection from the future makes us follower at its term.
		{3, true, 3, RoleFollower},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, term(1), preVote())
		r.Campaign()
		r.Step(&raftpd.Message{
			From:    2,
			To:      1,
			Term:    test.term,
			MsgType: raftpd.MsgPreVoteResponse,
			Reject:  test.reject,
		})
		if r.core.term != test.wterm {
			t.Fatalf("#%d: term want: %d, get: %d", i, test.wterm, r.core.term)
		}
		if r.core.state != test.wstate {
			t.Fatalf("#%d: state want: %v, get: %v", i, test.wstate, r.core.state)
		}
	}
}

func TestCore_stepHigherTerm(t *testing.T) {
	tests := []struct {
		tp      raftpd.MessageType
		wleader uint64
	}{
		{raftpd.MsgHeartbeatRequest, 2},
		{raftpd.MsgAppendResponse, conf.InvalidID},
		{raftpd.MsgVoteResponse, conf.InvalidID},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, term(1))
		r.core.becomeCandidate()
		r.core.becomeLeader()
		r.Step(&raftpd.Message{From: 2, To: 1, Term: 5, MsgType: test.tp})

		if r.core.state != RoleFollower {
			t.Fatalf("#%d: state want: %v, get: %v", i, RoleFollower, r.core.state)
		}
		if r.core.term != 5 {
			t.Fatalf("#%d: term want: 5, get: %d", i, r.core.term)
		}
		if r.core.leaderID != test.wleader {
			t.Fatalf("#%d: leader want: %d, get: %d", i, test.wleader, r.core.leaderID)
		}
	}
}

func TestCore_stepLowerTerm(t *testing.T) {
	tests := []struct {
		checkQuorum bool
		tp          raftpd.MessageType
		wmsgs       int
	}{
		{true, raftpd.MsgHeartbeatRequest, 1},
		{true, raftpd.MsgAppendRequest, 1},
		{true, raftpd.MsgPreVoteRequest, 0},
		{true, raftpd.MsgVoteResponse, 0},
		{false, raftpd.MsgHeartbeatRequest, 0},
		{false, raftpd.MsgAppendRequest, 0},
	}

	for i, test := range tests {
		opts := []raftOpt{term(5)}
		if test.checkQuorum {
			opts = append(opts, checkQuorum())
		}
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, opts...)
		r.Step(&raftpd.Message{From: 2, To: 1, Term: 3, MsgType: test.tp})

		msgs := r.Ready().Messages
		if len(msgs) != test.wmsgs {
			t.Fatalf("#%d: msgs want: %d, get: %d", i, test.wmsgs, len(msgs))
		}
		if r.core.term != 5 || r.core.state != RoleFollower {
			t.Fatalf("#%d: want follower at 5, get: %v at %d", i, r.core.state, r.core.term)
		}
		for _, msg := range msgs {
			if msg.MsgType != raftpd.MsgAppendResponse || msg.Term != 5 || msg.To != 2 {
				t.Fatalf("#%d: reply want: %v to 2 at 5, get: %v to %d at %d",
					i, raftpd.MsgAppendResponse, msg.MsgType, msg.To, msg.Term)
			}
		}
	}
}

func TestCore_leaseIgnoresVote(t *testing.T) {
	tests := []struct {
		elapsed int
		lead    uint64
		context []byte
		wterm   uint64
		wmsgs   int
	}{
		// heard from the leader recently
		{0, 2, nil, 1, 0},
		{9, 2, nil, 1, 0},
		// lease expired
		{10, 2, nil, 2, 1},
		// no leader known
		{0, conf.InvalidID, nil, 2, 1},
		// leader transfer is not bound by the lease
		{0, 2, []byte(CampaignTransfer), 2, 1},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
			term(1), leaderID(test.lead), electionElapsed(test.elapsed))
		r.Step(&raftpd.Message{
			From:    3,
			To:      1,
			Term:    2,
			MsgType: raftpd.MsgVoteRequest,
			Context: test.context,
		})

		if r.core.term != test.wterm {
			t.Fatalf("#%d: term want: %d, get: %d", i, test.wterm, r.core.term)
		}
		msgs := r.Ready().Messages
		if len(msgs) != test.wmsgs {
			t.Fatalf("#%d: msgs want: %d, get: %d", i, test.wmsgs, len(msgs))
		}
		if test.wmsgs == 0 {
			continue
		}
		if msgs[0].Reject || msgs[0].Term != 2 {
			t.Fatalf("#%d: want vote granted at 2, get: %+v", i, msgs[0])
		}
		if r.core.vote != 3 {
			t.Fatalf("#%d: vote want: 3, get: %d", i, r.core.vote)
		}
	}
}

func TestCore_checkQuorum(t *testing.T) {
	tests := []struct {
		active []uint64
		wstate StateRole
	}{
		{nil, RoleFollower},
		{[]uint64{2}, RoleLeader},
		{[]uint64{2, 3}, RoleLeader},
	}

	for i, test := range tests {
		r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, checkQuorum())
		r.core.becomeCandidate()
		r.core.becomeLeader()
		for _, id := range test.active {
			r.Step(&raftpd.Message{From: id, To: 1, Term: 1, MsgType: raftpd.MsgHeartbeatResponse})
		}
		for j := 0; j < 10; j++ {
			r.Tick()
		}
		if r.core.state != test.wstate {
			t.Fatalf("#%d: state want: %v, get: %v", i, test.wstate, r.core.state)
		}
		if r.core.term != 1 {
			t.Fatalf("#%d: term want: 1, get: %d", i, r.core.term)
		}
	}
}

// TestCore_checkQuorumNeedsFreshResponses tests that the activity seen
// by one check does not count for the next one.
func TestCore_checkQuorumNeedsFreshResponses(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, checkQuorum())
	r.core.becomeCandidate()
	r.core.becomeLeader()
	r.Step(&raftpd.Message{From: 2, To: 1, Term: 1, MsgType: raftpd.MsgHeartbeatResponse})

	for j := 0; j < 10; j++ {
		r.Tick()
	}
	if r.core.state != RoleLeader {
		t.Fatalf("state want: %v, get: %v", RoleLeader, r.core.state)
	}
	for j := 0; j < 10; j++ {
		r.Tick()
	}
	if r.core.state != RoleFollower {
		t.Fatalf("state want: %v, get: %v", RoleFollower, r.core.state)
	}
}

func TestCore_learnerNeverCampaigns(t *testing.T) {
	r := makeTestRaft(2, []uint64{1}, 10, 1)
	if err := r.RestoreConfState(raftpd.ConfState{Voters: []uint64{1}, Learners: []uint64{2}}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for i := 0; i < 100; i++ {
		r.Tick()
	}
	r.Campaign()
	if r.core.state != RoleFollower {
		t.Fatalf("state want: %v, get: %v", RoleFollower, r.core.state)
	}
	if r.core.term != 0 {
		t.Fatalf("term want: 0, get: %d", r.core.term)
	}
	if msgs := r.Ready().Messages; len(msgs) != 0 {
		t.Fatalf("msgs want: 0, get: %d", len(msgs))
	}
}

func TestCore_send(t *testing.T) {
	r := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, term(4))
	c := r.core

	c.send(&raftpd.Message{To: 2, MsgType: raftpd.MsgHeartbeatRequest})
	c.send(&raftpd.Message{To: 2, Term: 7, MsgType: raftpd.MsgPreVoteRequest})
	c.send(&raftpd.Message{From: 3, To: 2, MsgType: raftpd.MsgTransferLeader})

	tests := []struct {
		from, term uint64
	}{
		{1, 4},
		{1, 7},
		{3, 4},
	}
	msgs := r.Ready().Messages
	for i, test := range tests {
		if msgs[i].From != test.from || msgs[i].Term != test.term {
			t.Fatalf("#%d: from/term want: %d/%d, get: %d/%d",
				i, test.from, test.term, msgs[i].From, msgs[i].Term)
		}
	}
}
