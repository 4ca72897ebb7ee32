package tracker

import "github.com/thinkermao/raftcore/utils"

// Inflights is a sliding window for the inflight messages.
// When Inflights is full, no more message should be sent.
// When a leader sends out a message, the index of the last
// entry should be added to Inflights. The index MUST be added
// into Inflights in order.
// When a leader receives a reply, the previous inflights should
// be freed by calling FreeLE with the index of the last
// received entry.
type Inflights struct {
	start  uint
	count  uint
	buffer []uint64
}

// NewInflights sets up an Inflights that allows up to size inflight messages.
func NewInflights(size int) *Inflights {
	return &Inflights{
		buffer: make([]uint64, size),
	}
}

// Clone returns a deep copy.
func (in *Inflights) Clone() *Inflights {
	ins := *in
	ins.buffer = append([]uint64(nil), in.buffer...)
	return &ins
}

// Full returns true if no more messages can be sent at the moment.
func (in *Inflights) Full() bool {
	return in.count == in.cap()
}

// Count returns the number of inflight messages.
func (in *Inflights) Count() int {
	return int(in.count)
}

func (in *Inflights) cap() uint {
	return uint(len(in.buffer))
}

func (in *Inflights) mod(idx uint) uint {
	for idx >= in.cap() {
		idx -= in.cap()
	}
	return idx
}

// Add records an append ending at index, indexes must increase and the
// window must not be full.
func (in *Inflights) Add(inflight uint64) {
	utils.Assert(!in.Full(), "cannot add into a full inflights")

	next := in.mod(in.start + in.count)
	in.buffer[next] = inflight
	in.count++
}

// FreeLE frees the inflights smaller or equal to the given `to` flight.
func (in *Inflights) FreeLE(to uint64) {
	if in.count == 0 || to < in.buffer[in.start] {
		// out of the left side of the window
		return
	}

	for j := uint(0); j < in.count; j++ {
		idx := in.mod(in.start + j)
		if to >= in.buffer[idx] {
			continue
		}

		// found the first large inflight,
		// free j inflights and set new start index
		in.count -= j
		in.start = idx
		return
	}
	// all need free
	in.Reset()
}

// FreeFirstOne releases the first inflight. This is a no-op if nothing is
// inflight.
func (in *Inflights) FreeFirstOne() {
	if in.count == 0 {
		return
	}
	in.FreeLE(in.buffer[in.start])
}

// Reset frees all inflights.
func (in *Inflights) Reset() {
	in.count = 0
	in.start = 0
}
