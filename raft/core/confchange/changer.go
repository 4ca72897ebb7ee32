// Package confchange compiles and applies membership changes to a
// tracker.ProgressTracker, moving through joint consensus when more
// than one voter changes at once.
//
// The Changer follows the design of go.etcd.io/raft/confchange
// (Apache-2.0), see NOTICE.
package confchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thinkermao/raftcore/raft/core/quorum"
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
	"github.com/thinkermao/raftcore/utils"
)

// Changer compiles configuration changes against the tracker. The
// tracker is never mutated, the caller installs the returned
// configuration with ApplyConf.
type Changer struct {
	Tracker   *tracker.ProgressTracker
	LastIndex uint64
}

// EnterJoint copies the incoming voters into the empty outgoing half,
// (1 2 3)&&() => (1 2 3)&&(1 2 3), then applies ccs to the incoming
// half.
func (c Changer) EnterJoint(autoLeave bool, ccs ...raftpd.ConfChangeSingle) (tracker.Configuration, tracker.ProgressMap, error) {
	cfg, prs, err := c.snapshot()
	if err != nil {
		return failed(err)
	}
	if isJoint(cfg) {
		return failed(errors.New("config is already joint"))
	}
	if len(cfg.Voters[0]) == 0 {
		// an empty config may grow by simple changes only.
		return failed(errors.New("can't make a zero-voter config joint"))
	}

	cfg.Voters[1] = cfg.Voters[0].Clone()
	if err := c.apply(&cfg, prs, ccs...); err != nil {
		return failed(err)
	}
	cfg.AutoLeave = autoLeave
	return verified(cfg, prs)
}

// LeaveJoint drops the outgoing half and promotes LearnersNext. Peers
// which are neither voter nor learner afterwards lose their progress.
func (c Changer) LeaveJoint() (tracker.Configuration, tracker.ProgressMap, error) {
	cfg, prs, err := c.snapshot()
	if err != nil {
		return failed(err)
	}
	if !isJoint(cfg) {
		return failed(errors.New("can't leave a non-joint config"))
	}

	for id := range cfg.LearnersNext {
		addID(&cfg.Learners, id)
		prs[id].IsLearner = true
	}
	cfg.LearnersNext = nil

	for id := range cfg.Voters[1] {
		if cfg.Voters[0].Contains(id) {
			continue
		}
		if _, ok := cfg.Learners[id]; !ok {
			delete(prs, id)
		}
	}
	cfg.Voters[1] = nil
	cfg.AutoLeave = false

	return verified(cfg, prs)
}

// Simple applies ccs outside of a joint config. At most one voter may
// be added or removed in total.
func (c Changer) Simple(ccs ...raftpd.ConfChangeSingle) (tracker.Configuration, tracker.ProgressMap, error) {
	cfg, prs, err := c.snapshot()
	if err != nil {
		return failed(err)
	}
	if isJoint(cfg) {
		return failed(errors.New("can't apply simple config change in joint config"))
	}
	if err := c.apply(&cfg, prs, ccs...); err != nil {
		return failed(err)
	}
	if changedVoters(c.Tracker.Conf().Voters[0], cfg.Voters[0]) > 1 {
		return failed(errors.New("more than one voter changed without entering joint config"))
	}
	return verified(cfg, prs)
}

// apply changes the incoming half, the outgoing half is only written by
// EnterJoint and LeaveJoint.
func (c Changer) apply(cfg *tracker.Configuration, prs tracker.ProgressMap, ccs ...raftpd.ConfChangeSingle) error {
	for _, cc := range ccs {
		if cc.NodeID == 0 {
			// skipped by the application
			continue
		}
		switch cc.Type {
		case raftpd.ConfChangeAddNode:
			c.makeVoter(cfg, prs, cc.NodeID)
		case raftpd.ConfChangeAddLearnerNode:
			c.makeLearner(cfg, prs, cc.NodeID)
		case raftpd.ConfChangeRemoveNode:
			c.remove(cfg, prs, cc.NodeID)
		case raftpd.ConfChangeUpdateNode:
		default:
			return fmt.Errorf("unexpected conf type %d", cc.Type)
		}
	}
	if len(cfg.Voters[0]) == 0 {
		return errors.New("removed all voters")
	}
	return nil
}

func (c Changer) makeVoter(cfg *tracker.Configuration, prs tracker.ProgressMap, id uint64) {
	pr, ok := prs[id]
	if !ok {
		c.track(cfg, prs, id, false)
		return
	}
	pr.IsLearner = false
	removeID(&cfg.Learners, id)
	removeID(&cfg.LearnersNext, id)
	cfg.Voters[0][id] = struct{}{}
}

// makeLearner adds or demotes id to a learner. A voter of the outgoing
// half cannot be a learner at the same time, so it is staged in
// LearnersNext until LeaveJoint.
func (c Changer) makeLearner(cfg *tracker.Configuration, prs tracker.ProgressMap, id uint64) {
	pr, ok := prs[id]
	if !ok {
		c.track(cfg, prs, id, true)
		return
	}
	if pr.IsLearner {
		return
	}

	c.remove(cfg, prs, id)
	prs[id] = pr
	if cfg.Voters[1].Contains(id) {
		addID(&cfg.LearnersNext, id)
	} else {
		pr.IsLearner = true
		addID(&cfg.Learners, id)
	}
}

// remove drops id from the incoming half and the learners. The progress
// is kept while id still votes in the outgoing half.
func (c Changer) remove(cfg *tracker.Configuration, prs tracker.ProgressMap, id uint64) {
	if _, ok := prs[id]; !ok {
		return
	}
	delete(cfg.Voters[0], id)
	removeID(&cfg.Learners, id)
	removeID(&cfg.LearnersNext, id)
	if !cfg.Voters[1].Contains(id) {
		delete(prs, id)
	}
}

// track starts the progress of a new peer. It probes from the last
// index and counts as active, so check quorum does not depose the
// leader right after the change.
func (c Changer) track(cfg *tracker.Configuration, prs tracker.ProgressMap, id uint64, isLearner bool) {
	if isLearner {
		addID(&cfg.Learners, id)
	} else {
		cfg.Voters[0][id] = struct{}{}
	}
	pr := tracker.MakeProgress(utils.MaxUint64(c.LastIndex, 1), c.Tracker.MaxInflight())
	pr.IsLearner = isLearner
	pr.RecentActive = true
	prs[id] = pr
}

// verify checks that cfg and prs agree with each other:
//   - every member has a progress;
//   - LearnersNext is a subset of the outgoing voters, not yet learners;
//   - learners are no voters and are marked as learners;
//   - outside a joint config the outgoing half and LearnersNext are nil
//     and AutoLeave is false.
//
// The empty config is legal, it is the starting point of bootstrap.
func verify(cfg tracker.Configuration, prs tracker.ProgressMap) error {
	for _, ids := range []map[uint64]struct{}{cfg.Voters.IDs(), cfg.Learners, cfg.LearnersNext} {
		for id := range ids {
			if _, ok := prs[id]; !ok {
				return fmt.Errorf("no progress for %d", id)
			}
		}
	}

	for id := range cfg.LearnersNext {
		if !cfg.Voters[1].Contains(id) {
			return fmt.Errorf("%d is in LearnersNext, but not Voters[1]", id)
		}
		if prs[id].IsLearner {
			return fmt.Errorf("%d is in LearnersNext, but is already marked as learner", id)
		}
	}
	for id := range cfg.Learners {
		if cfg.Voters[1].Contains(id) {
			return fmt.Errorf("%d is in Learners and Voters[1]", id)
		}
		if cfg.Voters[0].Contains(id) {
			return fmt.Errorf("%d is in Learners and Voters[0]", id)
		}
		if !prs[id].IsLearner {
			return fmt.Errorf("%d is in Learners, but is not marked as learner", id)
		}
	}

	if isJoint(cfg) {
		return nil
	}
	switch {
	case cfg.Voters[1] != nil:
		return errors.New("cfg.Voters[1] must be nil when not joint")
	case cfg.LearnersNext != nil:
		return errors.New("cfg.LearnersNext must be nil when not joint")
	case cfg.AutoLeave:
		return errors.New("AutoLeave must be false when not joint")
	}
	return nil
}

// snapshot returns verified copies of the tracker's config and progress.
func (c Changer) snapshot() (tracker.Configuration, tracker.ProgressMap, error) {
	conf := c.Tracker.Conf()
	return verified(conf.Clone(), c.Tracker.ProgressMap().Clone())
}

func verified(cfg tracker.Configuration, prs tracker.ProgressMap) (tracker.Configuration, tracker.ProgressMap, error) {
	if err := verify(cfg, prs); err != nil {
		return failed(err)
	}
	return cfg, prs, nil
}

func failed(err error) (tracker.Configuration, tracker.ProgressMap, error) {
	return tracker.Configuration{}, nil, err
}

// addID inserts id, allocating the set on first use.
func addID(set *map[uint64]struct{}, id uint64) {
	if *set == nil {
		*set = make(map[uint64]struct{})
	}
	(*set)[id] = struct{}{}
}

// removeID deletes id, an emptied set becomes nil.
func removeID(set *map[uint64]struct{}, id uint64) {
	delete(*set, id)
	if len(*set) == 0 {
		*set = nil
	}
}

// changedVoters counts the ids present in exactly one of before and after.
func changedVoters(before, after quorum.MajorityConfig) int {
	n := 0
	for id := range before {
		if !after.Contains(id) {
			n++
		}
	}
	for id := range after {
		if !before.Contains(id) {
			n++
		}
	}
	return n
}

func isJoint(cfg tracker.Configuration) bool {
	return len(cfg.Voters[1]) > 0
}

// Describe prints the type and NodeID of the configuration changes as a
// space-delimited string.
func Describe(ccs ...raftpd.ConfChangeSingle) string {
	var buf strings.Builder
	for _, cc := range ccs {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%s(%d)", cc.Type, cc.NodeID)
	}
	return buf.String()
}
