package raftpd

import "fmt"

// MessageType is the kind of a raft message.
type MessageType int

// Message from local:
// - Hup			start an election, generated by tick or Campaign.
// - Beat			leader should broadcast heartbeat, generated by tick.
// - CheckQuorum	leader should verify it still hears from a quorum.
// - Unreachable	transport failed to deliver to a remote.
// - SnapStatus		snapshot transfer finished or failed.
// - TransferLeader	ask leader to hand over leadership.
//
// Message from leader:
// - Append request
// - Heartbeat request
// - TimeoutNow
//
// Message from follower:
// - Append response
// - Heartbeat response
//
// Message from candidate:
// - PreVote request
// - Vote request
//
// Message from all server:
// - PreVote response
// - Vote response
//
// Local messages carry term 0 and bypass term checks.
const (
	MsgHup MessageType = iota
	MsgBeat
	MsgCheckQuorum
	MsgUnreachable
	MsgSnapStatus
	MsgTransferLeader
	MsgAppendRequest
	MsgAppendResponse
	MsgPreVoteRequest
	MsgPreVoteResponse
	MsgVoteRequest
	MsgVoteResponse
	MsgHeartbeatRequest
	MsgHeartbeatResponse
	MsgTimeoutNow
)

var messageTypeString = []string{
	"Hup",
	"Beat",
	"CheckQuorum",
	"Unreachable",
	"SnapStatus",
	"TransferLeader",
	"Append request",
	"Append response",
	"PreVote request",
	"PreVote response",
	"Vote request",
	"Vote response",
	"Heartbeat request",
	"Heartbeat response",
	"TimeoutNow",
}

func (tp MessageType) String() string {
	if int(tp) < 0 || int(tp) >= len(messageTypeString) {
		return fmt.Sprintf("MessageType(%d)", int(tp))
	}
	return messageTypeString[tp]
}

// IsLocal reports whether messages of this type are generated
// by the node itself and never travel over the wire.
func (tp MessageType) IsLocal() bool {
	switch tp {
	case MsgHup, MsgBeat, MsgCheckQuorum, MsgUnreachable, MsgSnapStatus:
		return true
	}
	return false
}

// VoteResponseType returns the response type for a (pre-)vote request.
func VoteResponseType(tp MessageType) MessageType {
	switch tp {
	case MsgVoteRequest:
		return MsgVoteResponse
	case MsgPreVoteRequest:
		return MsgPreVoteResponse
	default:
		panic(fmt.Sprintf("not a vote message: %s", tp))
	}
}

// Message is the unit exchanged between raft nodes. Entries are
// opaque to the decision core, it never inspects them.
type Message struct {
	MsgType    MessageType
	From, To   uint64
	Term       uint64
	LogIndex   uint64 // index of log entry immediately preceding new ones
	LogTerm    uint64 // term of LogIndex entry
	Index      uint64 // acknowledged or snapshot index
	Commit     uint64
	Reject     bool
	RejectHint uint64
	Entries    []Entry
	Context    []byte
}

func (m Message) String() string {
	return fmt.Sprintf("raftpd.Message{%s %d->%d term: %d, log: %d/%d, idx: %d, commit: %d, reject: %v}",
		m.MsgType, m.From, m.To, m.Term, m.LogIndex, m.LogTerm, m.Index, m.Commit, m.Reject)
}
