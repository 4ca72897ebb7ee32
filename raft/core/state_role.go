package core

import "fmt"

// StateRole said the state role of raft.
type StateRole int

// Role enum constants.
const (
	RoleFollower StateRole = iota
	RolePreCandidate
	RoleCandidate
	RoleLeader
)

var stateRoleString = []string{
	"Follower",
	"PreCandidate",
	"Candidate",
	"Leader",
}

func (role StateRole) String() string {
	if role < RoleFollower || role > RoleLeader {
		return fmt.Sprintf("StateRole(%d)", int(role))
	}
	return stateRoleString[role]
}

// IsLeader test whether role is leader.
func (role StateRole) IsLeader() bool {
	return role == RoleLeader
}

// IsCandidate test whether role is candidate.
func (role StateRole) IsCandidate() bool {
	return role == RoleCandidate
}

// IsPreCandidate test whether role is pre candidate.
func (role StateRole) IsPreCandidate() bool {
	return role == RolePreCandidate
}

// IsFollower test whether role is follower.
func (role StateRole) IsFollower() bool {
	return role == RoleFollower
}

// CampaignTransfer is the context of vote requests sent by a campaign
// started from MsgTimeoutNow. Such requests bypass the leader lease.
const CampaignTransfer = "CampaignTransfer"

type campaignType int

const (
	campaignPreElection campaignType = iota
	campaignElection
	campaignTransfer
)
