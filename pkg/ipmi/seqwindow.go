package ipmi

// seqWindowSize is how far an inbound sequence number may lead or trail the
// highest one accepted so far.
const seqWindowSize = 16

// seqWindow tracks inbound session sequence numbers and rejects replays.
// Bit n of seen marks last-n as already accepted.
type seqWindow struct {
	last uint32
	seen uint32
}

// reset expects first as the next inbound sequence number.
func (w *seqWindow) reset(first uint32) {
	w.last = first - 1
	w.seen = 1
}

// accept reports whether seq is new and inside the window, recording it if so.
func (w *seqWindow) accept(seq uint32) bool {
	if seq == 0 {
		return false
	}

	ahead := seq - w.last
	back := w.last - seq
	switch {
	case ahead > 0 && ahead <= seqWindowSize:
		w.seen = w.seen<<ahead | 1
		w.last = seq
		return true
	case back < seqWindowSize:
		bit := uint32(1) << back
		if w.seen&bit != 0 {
			return false
		}
		w.seen |= bit
		return true
	default:
		return false
	}
}
