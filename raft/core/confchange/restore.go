package confchange

import (
	"github.com/thinkermao/raftcore/raft/core/tracker"
	"github.com/thinkermao/raftcore/raft/proto"
)

// ToConfChangeSingle compiles a ConfState into the two ordered sequences
// of single changes which, applied to an empty configuration, rebuild it:
// first outgoing (one simple change at a time), then incoming (entering
// the joint state when outgoing is not empty).
//
// Example, voters=(1 2 3) learners=(5) outgoing=(1 2 4 6) learners_next=(4):
// before entering the joint config the voters were (1 2 4 6). The new
// voters are (1 2 3), so (1 2) were kept and (4 6) leave; 4 becomes a
// learner once the joint state is left. Whether 5 was a learner before
// entering the joint config cannot be told, and does not matter.
//
//	outgoing = add 1; add 2; add 4; add 6
//	incoming = remove 1; remove 2; remove 4; remove 6
//	           add 1;    add 2;    add 3;
//	           add-learner 5;
//	           add-learner 4;
//
// Applying outgoing to an empty config gives quorum=(1 2 4 6), from which
// incoming enters
//
//	quorum=(1 2 3)&&(1 2 4 6) learners=(5) learners_next=(4)
func ToConfChangeSingle(cs raftpd.ConfState) (outgoing, incoming []raftpd.ConfChangeSingle) {
	for _, id := range cs.VotersOutgoing {
		outgoing = append(outgoing, raftpd.ConfChangeSingle{
			Type:   raftpd.ConfChangeAddNode,
			NodeID: id,
		})
	}

	// incoming applies on top of outgoing: drop the outgoing voters, then
	// add voters, learners and staged learners.
	for _, id := range cs.VotersOutgoing {
		incoming = append(incoming, raftpd.ConfChangeSingle{
			Type:   raftpd.ConfChangeRemoveNode,
			NodeID: id,
		})
	}
	for _, id := range cs.Voters {
		incoming = append(incoming, raftpd.ConfChangeSingle{
			Type:   raftpd.ConfChangeAddNode,
			NodeID: id,
		})
	}
	for _, id := range cs.Learners {
		incoming = append(incoming, raftpd.ConfChangeSingle{
			Type:   raftpd.ConfChangeAddLearnerNode,
			NodeID: id,
		})
	}
	for _, id := range cs.LearnersNext {
		incoming = append(incoming, raftpd.ConfChangeSingle{
			Type:   raftpd.ConfChangeAddLearnerNode,
			NodeID: id,
		})
	}
	return outgoing, incoming
}

// Restore rebuilds cs on the empty tracker of chg. Each step is installed
// into the tracker, on error it holds the last legal configuration.
func Restore(chg Changer, cs raftpd.ConfState) error {
	outgoing, incoming := ToConfChangeSingle(cs)

	var ops []func(Changer) error
	step := func(f func(Changer) (tracker.Configuration, tracker.ProgressMap, error)) func(Changer) error {
		return func(chg Changer) error {
			cfg, prs, err := f(chg)
			if err != nil {
				return err
			}
			chg.Tracker.ApplyConf(cfg, prs)
			return nil
		}
	}

	if len(outgoing) == 0 {
		for _, cc := range incoming {
			cc := cc
			ops = append(ops, step(func(chg Changer) (tracker.Configuration, tracker.ProgressMap, error) {
				return chg.Simple(cc)
			}))
		}
	} else {
		// (1 2 3)&&(2 3 4): build (2 3 4) first, then enter joint with the
		// incoming changes.
		for _, cc := range outgoing {
			cc := cc
			ops = append(ops, step(func(chg Changer) (tracker.Configuration, tracker.ProgressMap, error) {
				return chg.Simple(cc)
			}))
		}
		ops = append(ops, step(func(chg Changer) (tracker.Configuration, tracker.ProgressMap, error) {
			return chg.EnterJoint(cs.AutoLeave, incoming...)
		}))
	}

	for _, op := range ops {
		if err := op(chg); err != nil {
			return err
		}
	}
	return nil
}
