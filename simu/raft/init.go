package raft

import (
	"os"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	rlog "github.com/thinkermao/raftcore/utils/log"
)

// Timeouts in ticks, one tick is one round of message delivery.
const (
	ElectionTimeout  = 10
	HeartbeatTimeout = 1
)

// maxInflight is kept small so tests exercise the flow control.
const maxInflight = 16

// newLogger returns the logger shared by simulated nodes. Set
// RAFT_SIMU_LOG to a level name to see their output.
func newLogger() *log.Logger {
	return rlog.New(logLevel(), os.Stderr)
}

// newEventLogger returns the zap logger receiving role transitions.
func newEventLogger() *zap.Logger {
	logger, err := rlog.NewZap(logLevel())
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func logLevel() rlog.Level {
	if s := os.Getenv("RAFT_SIMU_LOG"); s != "" {
		if l, err := rlog.ParseLevel(s); err == nil {
			return l
		}
	}
	return rlog.WarnLevel
}
