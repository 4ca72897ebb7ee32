package envior

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/thinkermao/raftcore/raft/proto"
	"github.com/thinkermao/raftcore/simu/raft"
)

// dropRate is the percentage of messages lost by an unreliable network.
const dropRate = 10

// Environment support Environment for test. It drives a cluster of raft
// applications by logical ticks over an in-memory network, so every run
// with the same seed is the same.
type Environment struct {
	t          *testing.T
	rnd        *rand.Rand
	totalNodes int
	apps       []raft.Application

	enabled    []bool
	unreliable bool
	count      []int

	// leader ever seen of each term
	termLeaders map[uint64]int
}

// MakeEnvironment return instance of Environment.
func MakeEnvironment(t *testing.T, num int, unreliable bool) *Environment {
	return MakeEnvironmentWithSeed(t, num, unreliable, 1)
}

// MakeEnvironmentWithSeed return instance of Environment whose network
// and election timeouts are driven by seed.
func MakeEnvironmentWithSeed(t *testing.T, num int, unreliable bool, seed int64) *Environment {
	env := &Environment{
		t:          t,
		rnd:        rand.New(rand.NewSource(seed)),
		totalNodes: num,
		enabled:    make([]bool, num),
		unreliable: unreliable,
		count:      make([]int, num),

		termLeaders: make(map[uint64]int),
	}

	// create a full set of Rafts.
	for i := 0; i < num; i++ {
		env.apps = append(env.apps, raft.MakeApp(uint64(i+1), seed*int64(num)+int64(i), env))
	}

	// Connect everyone
	for i := 0; i < num; i++ {
		env.Start1(i)
		env.Connect(i)
	}

	return env
}

// CheckApply check consistency of applied entries.
func (env *Environment) CheckApply(id, index, value int) error {
	for j := 0; j < len(env.apps); j++ {
		app := env.apps[j]
		if v, ok := app.LogAt(index); ok && v != value {
			// some server has already committed a different value for this entry!
			return fmt.Errorf("commit index=%v server=%v %v != server=%v %v",
				index, id, value, app.ID(), v)
		}
	}
	return nil
}

// Crash1 shut down a Raft server.
func (env *Environment) Crash1(i int) {
	env.Disconnect(i)
	env.apps[i].Shutdown()
}

// Start1 start a Raft.
func (env *Environment) Start1(i int) {
	/* read all nodes netId */
	ns := make([]uint64, 0)
	for i := 0; i < len(env.apps); i++ {
		ns = append(ns, uint64(env.apps[i].ID()))
	}

	if err := env.apps[i].Start(ns); err != nil {
		env.t.Fatalf("start server %d: %v", i, err)
	}
}

// IsCrash reports whether server i has been shut down.
func (env *Environment) IsCrash(i int) bool {
	return env.apps[i].IsCrash()
}

// LogLength returns how many entries server i has applied.
func (env *Environment) LogLength(i int) int {
	return env.apps[i].LogLength()
}

// Propose send propose to raft.
func (env *Environment) Propose(id int, num int) (uint64, uint64, bool) {
	return env.apps[id].Propose(num)
}

// GetState return the state of raft.
func (env *Environment) GetState(id int) (uint64, bool) {
	return env.apps[id].GetState()
}

// Cleanup kill all servers.
func (env *Environment) Cleanup() {
	for i := 0; i < len(env.apps); i++ {
		if env.apps[i] != nil {
			env.apps[i].Shutdown()
		}
	}
}

// Connect attach server i to the net.
func (env *Environment) Connect(i int) {
	env.enabled[i] = true
}

// Disconnect detach server i from the net.
func (env *Environment) Disconnect(i int) {
	env.enabled[i] = false
}

// IsConnected reports whether server i is attached to the net.
func (env *Environment) IsConnected(i int) bool {
	return env.enabled[i]
}

// GetCount how many messages server has received.
func (env *Environment) GetCount(server int) int {
	return env.count[server]
}

// SetUnreliable make network become unrealiable.
func (env *Environment) SetUnreliable(unrel bool) {
	env.unreliable = unrel
}

// Tick advances every server by one tick and delivers the messages
// until the network is quiet. Crashed and detached servers still tick.
func (env *Environment) Tick() {
	for i := 0; i < env.totalNodes; i++ {
		env.apps[i].Tick()
	}

	var queue []raftpd.Message
	for i := 0; i < env.totalNodes; i++ {
		queue = append(queue, env.apps[i].Messages()...)
	}
	for len(queue) > 0 {
		msg := queue[0]
		queue = queue[1:]

		from, to := int(msg.From)-1, int(msg.To)-1
		if from < 0 || from >= env.totalNodes || to < 0 || to >= env.totalNodes ||
			!env.enabled[from] || !env.enabled[to] {
			continue
		}
		if env.unreliable && env.rnd.Intn(100) < dropRate {
			continue
		}

		env.count[to]++
		env.apps[to].Step(&msg)
		queue = append(queue, env.apps[to].Messages()...)
	}

	for i := 0; i < env.totalNodes; i++ {
		if err := env.apps[i].ApplyError(); err != nil {
			env.t.Fatal(err)
		}
	}
	env.checkElectionSafety()
}

// checkElectionSafety fails the test once two servers have been leader
// of the same term, detached servers included.
func (env *Environment) checkElectionSafety() {
	for i := 0; i < env.totalNodes; i++ {
		term, isLeader := env.apps[i].GetState()
		if !isLeader {
			continue
		}
		if l, ok := env.termLeaders[term]; ok && l != i {
			env.t.Fatalf("term %d has two leaders: %d and %d", term, l, i)
		}
		env.termLeaders[term] = i
	}
}

// MaxTerm returns the highest term of all servers.
func (env *Environment) MaxTerm() uint64 {
	var max uint64
	for i := 0; i < env.totalNodes; i++ {
		if term, _ := env.apps[i].GetState(); term > max {
			max = term
		}
	}
	return max
}

// Run ticks the environment n times.
func (env *Environment) Run(n int) {
	for i := 0; i < n; i++ {
		env.Tick()
	}
}

// leaders returns the connected leaders by term.
func (env *Environment) leaders() map[int][]int {
	leaders := make(map[int][]int)
	for i := 0; i < env.totalNodes; i++ {
		if env.enabled[i] {
			if t, leader := env.apps[i].GetState(); leader {
				leaders[int(t)] = append(leaders[int(t)], i)
			}
		}
	}
	return leaders
}

// CheckOneLeader check that there's exactly One leader.
// try a few times in case re-elections are needed.
func (env *Environment) CheckOneLeader() int {
	for iters := 0; iters < 10; iters++ {
		env.Run(2 * raft.ElectionTimeout)
		leaders := env.leaders()

		lastTermWithLeader := -1
		for t, leaders := range leaders {
			if len(leaders) > 1 {
				env.t.Fatalf("term %d has %d (>1) leaders", t, len(leaders))
			}
			if t > lastTermWithLeader {
				lastTermWithLeader = t
			}
		}

		if len(leaders) != 0 {
			return leaders[lastTermWithLeader][0]
		}
	}
	env.t.Fatalf("expected One leader, got none")
	return -1
}

// CheckTerms check that everyone agrees on the term.
func (env *Environment) CheckTerms() int {
	term := -1
	for i := 0; i < env.totalNodes; i++ {
		if env.enabled[i] {
			xterm, _ := env.apps[i].GetState()
			if term == -1 {
				term = int(xterm)
			} else if term != int(xterm) {
				env.t.Fatalf("servers disagree on term")
			}
		}
	}
	return term
}

// CheckNoLeader check that there's no leader
func (env *Environment) CheckNoLeader() {
	for i := 0; i < env.totalNodes; i++ {
		if env.enabled[i] {
			_, isLeader := env.apps[i].GetState()
			if isLeader {
				env.t.Fatalf("expected no leader, but %v claims to be leader", i)
			}
		}
	}
}

// CommittedNumber how many servers think a log entry is committed?
func (env *Environment) CommittedNumber(index int) (int, int) {
	count := 0
	cmd := -1
	for i := 0; i < len(env.apps); i++ {
		if err := env.apps[i].ApplyError(); err != nil {
			env.t.Fatal(err)
		}

		value, ok := env.apps[i].LogAt(index)
		if ok {
			if count > 0 && cmd != value {
				env.t.Fatalf("committed values do not match: index %v, %v, %v\n",
					index, cmd, value)
			}
			count++
			cmd = value
		}
	}
	return count, cmd
}

// Wait for at least n servers to commit.
// but don't Wait forever.
func (env *Environment) Wait(index int, n int, startTerm int) int {
	for iters := 0; iters < 30; iters++ {
		nd, _ := env.CommittedNumber(index)
		if nd >= n {
			break
		}
		env.Run(raft.HeartbeatTimeout)
		if startTerm > -1 {
			for _, r := range env.apps {
				if t, _ := r.GetState(); int(t) > startTerm {
					// someone has moved on
					// can no longer guarantee that we'll "win"
					return -1
				}
			}
		}
	}
	nd, cmd := env.CommittedNumber(index)
	if nd < n {
		env.t.Fatalf("only %d decided for index %d; wanted %d\n",
			nd, index, n)
	}
	return cmd
}

// One do a complete agreement.
// it might choose the wrong leader initially,
// and have to re-submit after giving up.
// indirectly checks that the servers agree on the
// same value, since CommittedNumber() checks this.
// returns index.
func (env *Environment) One(cmd int, expectedServers int) int {
	starts := 0
	for round := 0; round < 10; round++ {
		// try all the servers, maybe One is the leader.
		index := -1
		for si := 0; si < env.totalNodes; si++ {
			starts = (starts + 1) % env.totalNodes
			if !env.enabled[starts] {
				continue
			}
			index1, _, ok := env.apps[starts].Propose(cmd)
			if ok {
				index = int(index1)
				break
			}
		}

		if index != -1 {
			// somebody claimed to be the leader and to have
			// submitted our command; Wait a while for agreement.
			for iters := 0; iters < 2*raft.ElectionTimeout; iters++ {
				env.Run(raft.HeartbeatTimeout)
				nd, cmd1 := env.CommittedNumber(index)
				if nd > 0 && nd >= expectedServers && cmd1 == cmd {
					// committed, and it was the command we submitted.
					return index
				}
			}
		} else {
			env.Run(raft.ElectionTimeout)
		}
	}
	env.t.Fatalf("One(%v) failed to reach agreement", cmd)
	return -1
}
