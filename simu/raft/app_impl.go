package raft

import (
	"encoding/binary"
	"errors"
	"math/rand"

	log "github.com/sirupsen/logrus"
	"github.com/thinkermao/raftcore/raft/core"
	"github.com/thinkermao/raftcore/raft/core/conf"
	"github.com/thinkermao/raftcore/raft/core/holder"
	"github.com/thinkermao/raftcore/raft/proto"
)

var errRestart = errors.New("simu: restart a crashed node is not supported")

// a simple application base on raft,
type application struct {
	id       uint64
	seed     int64
	logger   *log.Logger
	callback AppCallback

	node    *core.RawNode
	log     *holder.MemoryLog
	crashed bool

	applyErr error       // from apply of committed entries
	logs     map[int]int // copy of each server's committed entries
	applied  uint64
}

// MakeApp return instance of Application. seed drives the randomized
// election timeout of the node.
func MakeApp(id uint64, seed int64, callback AppCallback) Application {
	return &application{
		id:       id,
		seed:     seed,
		logger:   newLogger(),
		callback: callback,
		logs:     make(map[int]int),
	}
}

// Start allocate new raft node over an empty log.
func (app *application) Start(nodes []uint64) error {
	if app.crashed {
		return errRestart
	}
	if app.node != nil {
		return nil
	}

	c := conf.Config{
		ID:              app.id,
		ElectionTick:    ElectionTimeout,
		HeartbeatTick:   HeartbeatTimeout,
		PreVote:         true,
		CheckQuorum:     true,
		MaxInflightMsgs: maxInflight,
	}
	app.log = holder.MakeMemoryLog(conf.InvalidIndex, conf.InvalidTerm)
	node, err := core.NewRawNode(&c,
		core.WithPeers(nodes...),
		core.WithLogState(app.log),
		core.WithLogger(app.logger),
		core.WithRand(rand.New(rand.NewSource(app.seed))),
		core.WithObserver(core.ZapObserver{Logger: newEventLogger()}))
	if err != nil {
		return err
	}
	app.node = node
	return nil
}

// Shutdown release raft node of current application.
func (app *application) Shutdown() {
	if app.node == nil {
		return
	}
	app.node = nil
	app.crashed = true
}

func (app *application) IsCrash() bool {
	return app.node == nil
}

func (app *application) ID() int {
	return int(app.id)
}

func (app *application) Tick() {
	if app.node == nil {
		return
	}
	app.node.Tick()
	app.applyCommitted()
}

func (app *application) Step(msg *raftpd.Message) {
	if app.node == nil {
		return
	}
	if err := app.node.Step(msg); err != nil {
		app.logger.Debugf("app id: %d drop %v: %v", app.id, msg.MsgType, err)
		return
	}
	app.applyCommitted()
}

func (app *application) Messages() []raftpd.Message {
	if app.node == nil {
		return nil
	}
	return app.node.Ready().Messages
}

// Propose appends num to the log of leader, it is replicated on the
// following heartbeat rounds.
func (app *application) Propose(num int) (uint64, uint64, bool) {
	if app.node == nil {
		return 0, 0, false
	}
	st := app.node.Status()
	if st.State != core.RoleLeader {
		return 0, 0, false
	}

	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, uint64(num))
	idx := app.log.Append(raftpd.Entry{
		Index: app.log.LastIndex() + 1,
		Term:  st.Term,
		Data:  bytes,
	})
	return idx, st.Term, true
}

func (app *application) GetState() (uint64, bool) {
	if app.node == nil {
		return 0, false
	}
	st := app.node.Status()
	return st.Term, st.State == core.RoleLeader
}

func (app *application) ApplyError() error {
	return app.applyErr
}

func (app *application) LogLength() int {
	return len(app.logs)
}

func (app *application) LogAt(index int) (int, bool) {
	value, ok := app.logs[index]
	return value, ok
}

func (app *application) applyCommitted() {
	committed := app.log.Committed()
	if committed <= app.applied {
		return
	}
	for _, entry := range app.log.Entries(app.applied+1, committed+1) {
		entry := entry
		app.applyEntry(&entry)
	}
	app.applied = committed
}
