package raft

import "github.com/thinkermao/raftcore/raft/proto"

// Application is a simple replicated register log built on a raft node.
type Application interface {
	ID() int
	Start(nodes []uint64) error
	Shutdown()
	IsCrash() bool

	// Tick advances the logical clock of the node.
	Tick()
	// Step delivers msg to the node.
	Step(msg *raftpd.Message)
	// Messages drains the messages the node wants to send.
	Messages() []raftpd.Message

	Propose(data int) (uint64, uint64, bool)
	GetState() (uint64, bool)
	ApplyError() error

	LogLength() int
	LogAt(index int) (int, bool)
}
