// Package core provides the decision core of a raft replica: who leads,
// what is acknowledged and what the legal membership is.
//
// It provides `RawNode` to operate the raft state machine. Caller
// must call `RawNode.Tick` in stable time interval, pass every message
// received from other nodes to `RawNode.Step`, and call `RawNode.Ready`
// to achieve ready datas and dispatch them: persist the hard state, then
// send the messages to other nodes.
//
// The core neither stores entries nor applies them. The local log is
// seen through `LogState`, given by `WithLogState`; without it the node
// runs on an empty log which accepts every append.
//
// Membership is changed by `RawNode.ApplyConfChange`, which moves
// through a joint configuration when more than one voter changes, and
// restored by `RawNode.RestoreConfState`.
//
// Finaly, role transitions are reported to an optional `Observer`,
// `LogrusObserver` and `ZapObserver` write them to a logger.
package core
