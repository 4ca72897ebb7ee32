package raft

import (
	"encoding/binary"
	"fmt"

	"github.com/thinkermao/raftcore/raft/proto"
)

// AppCallback Used by environment to check applied entries.
type AppCallback interface {
	CheckApply(id, index, value int) error
}

func (app *application) applyEntry(entry *raftpd.Entry) {
	app.logger.Debugf("[test] id: %d apply entry: %v", app.id, entry)

	value := int(binary.LittleEndian.Uint64(entry.Data))
	index := int(entry.Index)

	err := app.callback.CheckApply(app.ID(), index, value)
	if err == nil {
		if lastValue, ok := app.logs[index]; !ok {
			app.logs[index] = value
		} else {
			err = fmt.Errorf("%d apply same index: %d twice : %d, last: %d",
				app.id, index, value, lastValue)
		}
	}
	if err != nil && app.applyErr == nil {
		app.applyErr = err
	}
}
