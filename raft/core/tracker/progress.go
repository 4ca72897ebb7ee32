package tracker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thinkermao/raftcore/utils"
)

// Progress is the state of one follower in the view of leader.
//
//	Probe:     at most one append per heartbeat, until the follower matches.
//	Replicate: Next advances optimistically, bounded by Inflights.
//	Snapshot:  appends pause until PendingSnapshot is reported.
type Progress struct {
	Match uint64 // highest index known to be replicated
	Next  uint64 // next index to send

	State StateType

	// index of the snapshot in flight, StateSnapshot only.
	PendingSnapshot uint64

	// set by any message of the follower, cleared at each check quorum.
	RecentActive bool

	// an append is outstanding in StateProbe, sending pauses until reset.
	ProbeSent bool

	Inflights *Inflights

	IsLearner bool
}

// MakeProgress create progress for remote peer, starting in StateProbe.
func MakeProgress(next uint64, maxInflight int) *Progress {
	return &Progress{
		Next:      next,
		State:     StateProbe,
		Inflights: NewInflights(maxInflight),
	}
}

// Clone returns a deep copy of the progress.
func (pr *Progress) Clone() *Progress {
	cp := *pr
	if pr.Inflights != nil {
		cp.Inflights = pr.Inflights.Clone()
	}
	return &cp
}

// ResetState switches to state with empty window, no pending snapshot
// and no outstanding probe.
func (pr *Progress) ResetState(state StateType) {
	pr.ProbeSent = false
	pr.PendingSnapshot = 0
	pr.State = state
	pr.Inflights.Reset()
}

// BecomeProbe probes from Match+1, or after the pending snapshot when
// leaving StateSnapshot.
func (pr *Progress) BecomeProbe() {
	if pr.State == StateSnapshot {
		pendingSnapshot := pr.PendingSnapshot
		pr.ResetState(StateProbe)
		pr.Next = utils.MaxUint64(pr.Match+1, pendingSnapshot+1)
	} else {
		pr.ResetState(StateProbe)
		pr.Next = pr.Match + 1
	}
}

// BecomeReplicate starts streaming from Match+1.
func (pr *Progress) BecomeReplicate() {
	pr.ResetState(StateReplicate)
	pr.Next = pr.Match + 1
}

// BecomeSnapshot pauses appends until snapshoti is reported.
func (pr *Progress) BecomeSnapshot(snapshoti uint64) {
	pr.ResetState(StateSnapshot)
	pr.PendingSnapshot = snapshoti
}

// MaybeUpdate raises Match to n, it returns false when n is stale.
func (pr *Progress) MaybeUpdate(n uint64) bool {
	var updated bool
	if pr.Match < n {
		pr.Match = n
		updated = true
		pr.ProbeSent = false
	}
	pr.Next = utils.MaxUint64(pr.Next, n+1)
	return updated
}

// OptimisticUpdate moves Next past n, which is in flight.
func (pr *Progress) OptimisticUpdate(n uint64) { pr.Next = n + 1 }

// MaybeDecrTo lowers Next after the follower rejected an append at
// rejected, hint is its last index. Stale rejections return false.
func (pr *Progress) MaybeDecrTo(rejected, hint uint64) bool {
	if pr.State == StateReplicate {
		if rejected <= pr.Match {
			return false
		}
		pr.Next = pr.Match + 1
		return true
	}

	// a probe only covers Next-1.
	if pr.Next == 0 || pr.Next-1 != rejected {
		return false
	}

	pr.Next = utils.MaxUint64(utils.MinUint64(rejected, hint+1), 1)
	pr.ProbeSent = false
	return true
}

// SentEntries updates the progress after an append carrying entries up to
// lastIndex was handed to the transport.
func (pr *Progress) SentEntries(lastIndex uint64, entries int) {
	switch pr.State {
	case StateProbe:
		pr.ProbeSent = true
	case StateReplicate:
		if entries > 0 {
			pr.OptimisticUpdate(lastIndex)
			pr.Inflights.Add(lastIndex)
		}
	default:
		panic(fmt.Sprintf("sending append in unhandled state %s", pr.State))
	}
}

// IsPaused test whether appends to the follower are throttled: a probe
// is outstanding, the window is full or a snapshot is in flight.
func (pr *Progress) IsPaused() bool {
	switch pr.State {
	case StateProbe:
		return pr.ProbeSent
	case StateReplicate:
		return pr.Inflights.Full()
	case StateSnapshot:
		return true
	default:
		panic("unexpected state")
	}
}

// HandleUnreachable trigger unreachable event.
func (pr *Progress) HandleUnreachable() {
	switch pr.State {
	case StateReplicate:
		// appends in flight are likely lost.
		pr.BecomeProbe()
	case StateProbe:
		pr.ProbeSent = false
	case StateSnapshot:
		pr.BecomeProbe()
	}
}

// HandleAppendEntries trigger append response event. For an accepted
// append it returns whether Match advanced, for a rejected one whether
// Next was lowered and the peer should be probed again.
func (pr *Progress) HandleAppendEntries(reject bool, index, hint uint64) bool {
	if reject {
		if !pr.MaybeDecrTo(index, hint) {
			return false
		}
		if pr.State == StateReplicate {
			pr.BecomeProbe()
		}
		return true
	}

	// A probe acknowledged at Match is not stale, it proves Next is right.
	if !pr.MaybeUpdate(index) && !(pr.State == StateProbe && pr.Match == index) {
		return false
	}

	switch pr.State {
	case StateProbe:
		pr.BecomeReplicate()
	case StateSnapshot:
		if pr.Match >= pr.PendingSnapshot {
			pr.BecomeProbe()
		}
	case StateReplicate:
		pr.Inflights.FreeLE(index)
	}
	return true
}

// HandleSnapshot trigger snapshot status report. A failed snapshot
// clears the pending index; either way the peer is probed again
// after the next heartbeat response.
func (pr *Progress) HandleSnapshot(failed bool) {
	if pr.State != StateSnapshot {
		return
	}
	if failed {
		pr.PendingSnapshot = 0
	}
	pr.BecomeProbe()
	pr.ProbeSent = true
}

func (pr *Progress) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s match=%d next=%d", pr.State, pr.Match, pr.Next)
	if pr.IsLearner {
		fmt.Fprint(&buf, " learner")
	}
	if pr.IsPaused() {
		fmt.Fprint(&buf, " paused")
	}
	if pr.PendingSnapshot > 0 {
		fmt.Fprintf(&buf, " pendingSnap=%d", pr.PendingSnapshot)
	}
	if !pr.RecentActive {
		fmt.Fprint(&buf, " inactive")
	}
	if n := pr.Inflights.Count(); pr.Inflights.Full() {
		fmt.Fprintf(&buf, " inflight=%d[full]", n)
	} else if n > 0 {
		fmt.Fprintf(&buf, " inflight=%d", n)
	}
	return buf.String()
}

// ProgressMap is a map of *Progress.
type ProgressMap map[uint64]*Progress

// Clone returns a deep copy of the map.
func (m ProgressMap) Clone() ProgressMap {
	cp := make(ProgressMap, len(m))
	for id, pr := range m {
		cp[id] = pr.Clone()
	}
	return cp
}

func (m ProgressMap) ids() []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// String prints one progress per line ordered by id.
func (m ProgressMap) String() string {
	var buf strings.Builder
	for _, id := range m.ids() {
		fmt.Fprintf(&buf, "%d: %s\n", id, m[id])
	}
	return buf.String()
}
