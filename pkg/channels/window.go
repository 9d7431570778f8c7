package channels

import "github.com/parity-daq/decoder_go/pkg/errflag"

// Window is a moving running sum over the last Size events. It holds
// copies of the pushed channels so the caller may reuse its own.
type Window struct {
	sum     Channel
	entries []Channel
	next    int
	full    bool
	mask    uint32
}

// NewWindow builds an empty window shaped like proto.
func NewWindow(proto Channel, size int) *Window {
	if size < 1 {
		size = 1
	}
	sum := proto.Clone()
	sum.ClearEventData()
	return &Window{
		sum:     sum,
		entries: make([]Channel, size),
		mask:    errflag.DefaultMask,
	}
}

func (w *Window) Size() int { return len(w.entries) }

func (w *Window) Len() int {
	if w.full {
		return len(w.entries)
	}
	return w.next
}

// Push adds the event to the window, dropping the oldest once full.
func (w *Window) Push(value Channel) error {
	if old := w.entries[w.next]; old != nil {
		if err := w.sum.DeaccumulateChannel(old, w.mask); err != nil {
			return err
		}
	}
	if err := w.sum.AccumulateChannel(value, 0, w.mask); err != nil {
		return err
	}
	w.entries[w.next] = value.Clone()
	w.next++
	if w.next == len(w.entries) {
		w.next = 0
		w.full = true
	}
	return nil
}

// RunningMean makes the window usable as a stability reference.
func (w *Window) RunningMean() (float64, int) {
	return w.sum.Value(), w.sum.GoodEventCount()
}

func (w *Window) Sum() Channel { return w.sum }
