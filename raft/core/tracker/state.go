package tracker

import "fmt"

// StateType is the state of a tracked follower.
type StateType uint64

// State transfer graph.
//
// Default state => probe (m: 0, n: log.lastIdx+1)
//
// probe:
// 		send log entries (probeSent: true)
// 		unreachable (probeSent: false)
// 		receive append response
//			success: => replicate (m: idx, n: idx+1)
// 			failed: => probe (n: max{1, min{rejectIdx, hintIdx+1}})
//			ignore on rejectIdx != n-1
// 		send snapshot => snapshot (p: snapshot idx)
//
// snapshot:
// 		receive append response with idx >= p => probe (m: idx, n: idx+1)
// 		snapshot status report
//			success: => probe (n: max{m+1, p+1})
//			failed: => probe (p: 0, n: m+1)
//		unreachable => probe (n: max{m+1, p+1})
//
// replicate:
// 		send log entries (inflights.add, n: lastIndex send + 1)
// 		unreachable => probe (n: m + 1)
// 		receive append response:
//			success (m: max{m, idx}, inflights.freeLE(idx))
// 			failed => probe (n: m + 1)
const (
	// StateProbe indicates a follower whose last index isn't known. Such a
	// follower is "probed" (i.e. an append sent periodically) to narrow down
	// its last index. In the ideal (and common) case, only one round of probing
	// is necessary as the follower will react with a hint.
	StateProbe StateType = iota
	// StateReplicate is the state steady in which a follower eagerly receives
	// log entries to append to its log.
	StateReplicate
	// StateSnapshot indicates a follower that needs log entries not available
	// from the leader's raft log. Such a follower needs a full snapshot to
	// return to StateReplicate.
	StateSnapshot
)

var stateTypeString = []string{
	"StateProbe",
	"StateReplicate",
	"StateSnapshot",
}

func (st StateType) String() string {
	if st > StateSnapshot {
		return fmt.Sprintf("StateType(%d)", uint64(st))
	}
	return stateTypeString[st]
}
