package core

import (
	"container/list"
	"math/rand"
	"os"

	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/proto"
	rlog "github.com/thinkermao/raftcore/utils/log"
)

type raftOpt func(c *core)

func vote(idx uint64) raftOpt {
	return func(c *core) {
		c.vote = idx
	}
}

func term(idx uint64) raftOpt {
	return func(c *core) {
		c.term = idx
	}
}

func randTick(tick int) raftOpt {
	return func(c *core) {
		c.randomizedElectionTick = tick
	}
}

func electionElapsed(elapsed int) raftOpt {
	return func(c *core) {
		c.electionElapsed = elapsed
	}
}

func leaderID(idx uint64) raftOpt {
	return func(c *core) {
		c.leaderID = idx
	}
}

func preVote() raftOpt {
	return func(c *core) {
		c.preVote = true
	}
}

func checkQuorum() raftOpt {
	return func(c *core) {
		c.checkQuorum = true
	}
}

func logState(l LogState) raftOpt {
	return func(c *core) {
		c.log = l
	}
}

func makeTestRaft(
	id uint64,
	peers []uint64,
	election, heartbeat int,
	opts ...raftOpt,
) *RawNode {
	c := conf.Config{
		ID:            id,
		ElectionTick:  election,
		HeartbeatTick: heartbeat,
	}

	raft, err := NewRawNode(&c,
		WithPeers(peers...),
		WithRand(rand.New(rand.NewSource(int64(id)))),
		WithLogger(rlog.New(rlog.WarnLevel, os.Stderr)))
	if err != nil {
		panic(err)
	}

	for _, opt := range opts {
		opt(raft.core)
	}
	return raft
}

type connem struct {
	from, to uint64
}

type network struct {
	peers      map[uint64]*RawNode
	msgs       *list.List
	cutMap     map[connem]struct{}
	ignoreType map[raftpd.MessageType]struct{}
}

func makeNetwork(prs ...*RawNode) *network {
	net := network{
		peers:      make(map[uint64]*RawNode),
		msgs:       list.New(),
		cutMap:     make(map[connem]struct{}),
		ignoreType: make(map[raftpd.MessageType]struct{}),
	}
	for i := 0; i < len(prs); i++ {
		net.peers[prs[i].core.id] = prs[i]
	}
	return &net
}

func (n *network) send(msgs ...raftpd.Message) {
	for i := 0; i < len(msgs); i++ {
		n.msgs.PushBack(msgs[i])
	}
	n.dispatchMessages()
}

func (n *network) transferMessages(node uint64) {
	peer, ok := n.peers[node]
	if !ok {
		return
	}
	rd := peer.Ready()
	for i := 0; i < len(rd.Messages); i++ {
		n.msgs.PushBack(rd.Messages[i])
	}
}

func (n *network) dispatchMessages() {
	for n.msgs.Len() > 0 {
		first := n.msgs.Front()
		msg := first.Value.(raftpd.Message)
		n.msgs.Remove(first)

		// Drop the message if the remote peer is dead or
		// the connection to remote is cut down.
		peer, ok := n.peers[msg.To]
		if !ok {
			continue
		}
		if _, ok := n.cutMap[connem{msg.From, msg.To}]; ok {
			continue
		}
		// ignore the message
		if _, ok := n.ignoreType[msg.MsgType]; ok {
			continue
		}
		_ = peer.Step(&msg)
		n.transferMessages(msg.To)
	}
}

func (n *network) startElection(node uint64) {
	n.peers[node].Campaign()
	n.transferMessages(node)
	n.dispatchMessages()
}

func (n *network) transferLeader(from, to uint64) {
	n.peers[from].TransferLeader(to)
	n.transferMessages(from)
	n.dispatchMessages()
}

// tick advances the clock of node and delivers its output.
func (n *network) tick(node uint64) {
	n.peers[node].Tick()
	n.transferMessages(node)
	n.dispatchMessages()
}

func (n *network) peer(node uint64) *RawNode {
	return n.peers[node]
}

func (n *network) down(node uint64) {
	delete(n.peers, node)
}

// Cut down the connection between n1 and n2.
func (n *network) cut(c1, c2 uint64) {
	n.cutMap[connem{c1, c2}] = struct{}{}
	n.cutMap[connem{c2, c1}] = struct{}{}
}

// isolate cut down all connections of node.
func (n *network) isolate(node uint64) {
	for id := range n.peers {
		if id != node {
			n.cut(node, id)
		}
	}
}

// ignore a specified type of message
func (n *network) ignore(tp raftpd.MessageType) {
	n.ignoreType[tp] = struct{}{}
}

// recover the whole network to normal
func (n *network) recover() {
	n.ignoreType = make(map[raftpd.MessageType]struct{})
	n.cutMap = make(map[connem]struct{})
}

// return the leader of group, if no leader here, return InvalidID
func (n *network) leader() uint64 {
	for _, rf := range n.peers {
		if rf.core.state == RoleLeader {
			return rf.core.id
		}
	}
	return conf.InvalidID
}

func (n *network) allCommitted(idx uint64) bool {
	for _, peer := range n.peers {
		if peer.core.log.Committed() < idx {
			return false
		}
	}
	return true
}
