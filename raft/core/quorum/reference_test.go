package quorum

import (
	"math/rand"
	"testing"

	etcdquorum "go.etcd.io/raft/v3/quorum"
)

type etcdAcks map[uint64]etcdquorum.Index

func (m etcdAcks) AckedIndex(id uint64) (etcdquorum.Index, bool) {
	idx, ok := m[id]
	return idx, ok
}

func fromEtcdResult(r etcdquorum.VoteResult) VoteResult {
	switch r {
	case etcdquorum.VoteWon:
		return VoteWon
	case etcdquorum.VoteLost:
		return VoteLost
	default:
		return VotePending
	}
}

// TestJointConfig_againstEtcd cross checks vote and commit decisions
// with etcd's quorum package over random joint configurations.
func TestJointConfig_againstEtcd(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	randomHalf := func() ([]uint64, etcdquorum.MajorityConfig) {
		n := rnd.Intn(6)
		var ids []uint64
		ref := etcdquorum.MajorityConfig{}
		for len(ids) < n {
			id := uint64(1 + rnd.Intn(8))
			if _, ok := ref[id]; ok {
				continue
			}
			ref[id] = struct{}{}
			ids = append(ids, id)
		}
		return ids, ref
	}

	for i := 0; i < 1000; i++ {
		inIDs, inRef := randomHalf()
		outIDs, outRef := randomHalf()
		c := JointConfig{MakeMajorityConfig(inIDs...), MakeMajorityConfig(outIDs...)}
		ref := etcdquorum.JointConfig{inRef, outRef}

		votes := map[uint64]bool{}
		acks := AckIndexer{}
		refAcks := etcdAcks{}
		for id := uint64(1); id <= 8; id++ {
			switch rnd.Intn(3) {
			case 0:
				votes[id] = true
			case 1:
				votes[id] = false
			}
			if rnd.Intn(4) != 0 {
				idx := uint64(rnd.Intn(20))
				acks[id] = Index{Index: idx}
				refAcks[id] = etcdquorum.Index(idx)
			}
		}

		if r, w := c.VoteResult(votes), fromEtcdResult(ref.VoteResult(votes)); r != w {
			t.Fatalf("#%d: %v votes %v want: %v, get: %v", i, c, votes, w, r)
		}
		if idx, w := c.CommittedIndex(acks), ref.CommittedIndex(refAcks); idx.Index != uint64(w) {
			t.Fatalf("#%d: %v committed want: %d, get: %v", i, c, w, idx)
		}
	}
}
