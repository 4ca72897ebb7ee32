package conf

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Invalid value for raft.
const (
	InvalidIndex uint64 = 0
	InvalidID    uint64 = 0
	InvalidTerm  uint64 = 0
)

// Defaults applied by SetDefaults.
const (
	DefaultMaxInflightMsgs = 256
)

// ErrConfigInvalid is returned when a Config breaks one of the
// tick relationships or names an invalid node.
var ErrConfigInvalid = errors.New("raft: invalid config")

// Config given information to build raft algorithm.
type Config struct {
	// ID is the identity of the local raft. ID cannot be 0.
	ID uint64 `toml:"id"`

	// HeartbeatTick is the number of Tick invocations that must pass between
	// heartbeats. That is, a leader sends heartbeat messages to maintain its
	// leadership every HeartbeatTick ticks.
	HeartbeatTick int `toml:"heartbeat_tick"`

	// ElectionTick is the number of Tick invocations that must pass between
	// elections. That is, if a follower does not receive any message from the
	// leader of current term before ElectionTick has elapsed, it will become
	// candidate and start an election. ElectionTick must be greater than
	// HeartbeatTick. We suggest ElectionTick = 10 * HeartbeatTick to avoid
	// unnecessary leader switching.
	ElectionTick int `toml:"election_tick"`

	// MinElectionTick and MaxElectionTick bound the randomized election
	// timeout, drawn from [MinElectionTick, MaxElectionTick). Zero means
	// ElectionTick and 2 * ElectionTick.
	MinElectionTick int `toml:"min_election_tick"`
	MaxElectionTick int `toml:"max_election_tick"`

	// CheckQuorum makes the leader step down when it does not hear from
	// a quorum within an election timeout, and makes the node answer
	// stale leaders so they step down.
	CheckQuorum bool `toml:"check_quorum"`

	// PreVote enables the pre-vote phase, which keeps a partitioned node
	// from bumping the term of the cluster when it rejoins.
	PreVote bool `toml:"pre_vote"`

	// MaxInflightMsgs limits the number of in-flight append messages
	// to one peer during optimistic replication.
	MaxInflightMsgs int `toml:"max_inflight_msgs"`
}

// LoadFile decodes a TOML file into a Config, fills defaults and
// validates the result.
func LoadFile(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("load raft config %s: %w", path, err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDefaults fills zero value fields which have defaults.
func (c *Config) SetDefaults() {
	if c.MinElectionTick == 0 {
		c.MinElectionTick = c.ElectionTick
	}
	if c.MaxElectionTick == 0 {
		c.MaxElectionTick = 2 * c.ElectionTick
	}
	if c.MaxInflightMsgs == 0 {
		c.MaxInflightMsgs = DefaultMaxInflightMsgs
	}
}

// Validate check whether fields of Config is valid. It requires
// heartbeat < election <= min election < max election.
func (c *Config) Validate() error {
	if c.ID == InvalidID {
		return fmt.Errorf("%w: invalid node id", ErrConfigInvalid)
	}

	if c.HeartbeatTick <= 0 {
		return fmt.Errorf("%w: heartbeat tick must be greater than 0", ErrConfigInvalid)
	}

	if c.ElectionTick <= c.HeartbeatTick {
		return fmt.Errorf("%w: election tick must be greater than heartbeat tick", ErrConfigInvalid)
	}

	if c.MinElectionTick < c.ElectionTick {
		return fmt.Errorf("%w: min election tick %d must not be less than election tick %d",
			ErrConfigInvalid, c.MinElectionTick, c.ElectionTick)
	}

	if c.MinElectionTick >= c.MaxElectionTick {
		return fmt.Errorf("%w: min election tick %d should be less than max election tick %d",
			ErrConfigInvalid, c.MinElectionTick, c.MaxElectionTick)
	}

	if c.MaxInflightMsgs < 0 {
		return fmt.Errorf("%w: max inflight messages cannot be negative", ErrConfigInvalid)
	}

	return nil
}
