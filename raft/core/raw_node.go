package core

import (
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
)

// ErrStepLocalMsg is returned when try to step a local raft message.
var ErrStepLocalMsg = errors.New("raft: cannot step raft local message")

type options struct {
	log      LogState
	observer Observer
	rand     *rand.Rand
	logger   log.FieldLogger
	peers    []uint64
}

// Option configures a RawNode.
type Option func(o *options)

// WithLogState sets the view of local log, the default is a log
// without entries.
func WithLogState(l LogState) Option {
	return func(o *options) { o.log = l }
}

// WithObserver sets the sink notified on role transitions.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithRand sets the random source of election timeouts.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

// WithLogger sets the logger, the default is logrus standard logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPeers bootstraps the configuration with peers as voters.
func WithPeers(peers ...uint64) Option {
	return func(o *options) { o.peers = peers }
}

// Ready encapsulates the entries and messages that are ready to send
// out.
type Ready struct {
	// The current volatile state of a Node.
	// SoftState will be nil if there is no update.
	// It is not required to consume or store SoftState.
	SS *SoftState

	// The current state of a Node to be saved to stable storage BEFORE
	// Messages are sent.
	// HardState will be nil if there is no update.
	HS *raftpd.HardState

	// Messages specifies outbound messages to be sent AFTER HardState
	// is saved to stable storage.
	Messages []raftpd.Message
}

// RawNode is a thread-unsafe raft node. Tick, Step and Ready must be
// called from one goroutine.
type RawNode struct {
	core   *core
	prevSS SoftState
	prevHS raftpd.HardState
}

// NewRawNode validates config and returns a follower at term 0.
func NewRawNode(config *conf.Config, opts ...Option) (*RawNode, error) {
	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = &emptyLog{}
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.logger == nil {
		o.logger = log.StandardLogger()
	}

	c := makeCore(&cfg, o)
	if len(o.peers) > 0 {
		if err := c.restoreConfState(raftpd.ConfState{Voters: o.peers}); err != nil {
			return nil, err
		}
	}

	c.logger.Infof("build raft at term: %d [lastIdx: %d, commitIdx: %d, peers: %v]",
		c.term, c.log.LastIndex(), c.log.Committed(), o.peers)

	node := &RawNode{core: c}
	node.prevSS = c.softState()
	node.prevHS = c.hardState()
	return node, nil
}

// Tick advances the internal logical clock by a single tick. It returns
// whether any output was produced.
func (node *RawNode) Tick() bool {
	n := len(node.core.msgs)
	ss := node.core.softState()
	node.core.tick()
	return len(node.core.msgs) > n || ss != node.core.softState()
}

// Step advances the state machine using the given message.
func (node *RawNode) Step(msg *raftpd.Message) error {
	// Ignore unexpected local messages receiving over network.
	if msg.MsgType.IsLocal() {
		return ErrStepLocalMsg
	}
	node.core.step(msg)
	return nil
}

// Campaign causes this RawNode to transition to candidate state.
func (node *RawNode) Campaign() {
	node.core.step(&raftpd.Message{MsgType: raftpd.MsgHup})
}

// TransferLeader tries to transfer leadership to the given transferee.
func (node *RawNode) TransferLeader(transferee uint64) {
	node.core.step(&raftpd.Message{From: transferee, MsgType: raftpd.MsgTransferLeader})
}

// ReportUnreachable reports the given node is not reachable for the last send.
func (node *RawNode) ReportUnreachable(id uint64) {
	node.core.step(&raftpd.Message{From: id, MsgType: raftpd.MsgUnreachable})
}

// ReportSnapshot reports the status of the sent snapshot.
func (node *RawNode) ReportSnapshot(id uint64, failed bool) {
	node.core.step(&raftpd.Message{From: id, MsgType: raftpd.MsgSnapStatus, Reject: failed})
}

// SendingSnapshot tells the leader that a snapshot at index is on its way
// to id, replication to id pauses until ReportSnapshot. It returns false
// when this node is not leader or does not track id.
func (node *RawNode) SendingSnapshot(id uint64, index uint64) bool {
	c := node.core
	pr := c.prs.Progress(id)
	if c.state != RoleLeader || pr == nil || id == c.id {
		return false
	}
	pr.BecomeSnapshot(index)
	c.logger.Debugf("paused sending replication messages to %d [%v]", id, pr)
	return true
}

// ApplyConfChange applies a config change to the local node. The
// returned ConfState describes the configuration in effect afterwards.
func (node *RawNode) ApplyConfChange(cc raftpd.ConfChangeV2) (raftpd.ConfState, error) {
	return node.core.applyConfChange(cc)
}

// RestoreConfState replaces the configuration with cs, usually after
// restart or snapshot installation.
func (node *RawNode) RestoreConfState(cs raftpd.ConfState) error {
	return node.core.restoreConfState(cs)
}

// HasReady called when RawNode user need to check if any Ready pending.
func (node *RawNode) HasReady() bool {
	c := node.core
	if c.softState() != node.prevSS {
		return true
	}
	if hs := c.hardState(); !hs.IsEmpty() && hs != node.prevHS {
		return true
	}
	return len(c.msgs) > 0
}

// Ready returns the outstanding work that the application needs to handle,
// and drains outbound messages.
func (node *RawNode) Ready() Ready {
	c := node.core
	ready := Ready{}

	if ss := c.softState(); ss != node.prevSS {
		ready.SS = &ss
		node.prevSS = ss
	}
	if hs := c.hardState(); hs != node.prevHS {
		ready.HS = &hs
		node.prevHS = hs
	}
	ready.Messages = c.msgs
	c.msgs = nil

	c.logger.Debugf("handle ready: [msg: %d]", len(ready.Messages))
	return ready
}

// Status returns the current status of the given group.
func (node *RawNode) Status() Status {
	return getStatus(node.core)
}

// Tracker returns the progress tracker. Callers must not mutate it.
func (node *RawNode) Tracker() *tracker.ProgressTracker {
	return node.core.prs
}
