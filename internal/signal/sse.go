package signal

import "bytes"

type framerState int

const (
	// frameIdle: no event name is pending; data lines are forwarded.
	frameIdle framerState = iota
	// frameEventPending: an `event:` line was seen; data lines are suppressed
	// until a blank line ends the frame.
	frameEventPending
)

var (
	eventPrefix = []byte("event: ")
	dataPrefix  = []byte("data: ")
)

// sseFramer is the byte-wise line framer for the relay's event stream.
//
// Only data lines that arrive while no event name is pending are forwarded;
// event-named frames are never dispatched. This matches the relay's historic
// behavior (event-typed frames are keep-alives as far as the rig is
// concerned) and must not be "fixed" to dispatch them.
type sseFramer struct {
	state framerState
	line  []byte
}

// Feed consumes a chunk of stream bytes, invoking emit once per forwardable
// data payload. Partial lines are buffered across calls. The emitted slice
// is only valid for the duration of the callback.
func (f *sseFramer) Feed(chunk []byte, emit func(data []byte)) {
	for _, b := range chunk {
		if b != '\n' {
			f.line = append(f.line, b)
			continue
		}
		f.endLine(emit)
	}
}

func (f *sseFramer) endLine(emit func(data []byte)) {
	switch {
	case len(f.line) == 0:
		f.state = frameIdle
	case bytes.HasPrefix(f.line, eventPrefix):
		f.state = frameEventPending
	case bytes.HasPrefix(f.line, dataPrefix) && f.state == frameIdle:
		emit(f.line[len(dataPrefix):])
	}
	f.line = f.line[:0]
}
