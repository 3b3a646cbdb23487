package p2core

import (
	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/tag"
)

// Window rendering itself is out of scope; these are thin adapters a real
// GUI layer implements against. Each wraps a deliver function so a test
// double or a future window implementation can be built without depending
// on any GUI toolkit.

// DeliverFunc is called once per routed message; it must call release
// exactly once when done consuming msg.Payload.
type DeliverFunc func(msg interfaces.Message, release func())

// TerminalSink adapts TERMINAL_OUTPUT (and COG_MESSAGE*, INVALID_COG)
// messages to a terminal window.
type TerminalSink struct {
	SinkName string
	Deliver_ DeliverFunc
}

func (s *TerminalSink) Name() string { return s.SinkName }
func (s *TerminalSink) Deliver(msg interfaces.Message, release func()) {
	if s.Deliver_ != nil {
		s.Deliver_(msg, release)
		return
	}
	release()
}

// DebuggerWindowSink adapts DEBUGGER_416{core} messages to a single core's
// debugger window.
type DebuggerWindowSink struct {
	SinkName string
	Core     int
	Deliver_ DeliverFunc
}

func (s *DebuggerWindowSink) Name() string { return s.SinkName }
func (s *DebuggerWindowSink) Deliver(msg interfaces.Message, release func()) {
	if s.Deliver_ != nil {
		s.Deliver_(msg, release)
		return
	}
	release()
}

// BacktickWindowSink adapts one BACKTICK_* kind (LOGIC, SCOPE, SCOPE_XY,
// FFT, SPECTRO, PLOT, TERM, BITMAP, MIDI, UPDATE) to its visualization
// window.
type BacktickWindowSink struct {
	SinkName string
	Kind     tag.Tag
	Deliver_ DeliverFunc
}

func (s *BacktickWindowSink) Name() string { return s.SinkName }
func (s *BacktickWindowSink) Deliver(msg interfaces.Message, release func()) {
	if s.Deliver_ != nil {
		s.Deliver_(msg, release)
		return
	}
	release()
}

// LoggerSink adapts any tag to the reset-history / diagnostic log; unlike
// USBTrafficLogger it observes *decoded* messages, not raw USB buffers.
type LoggerSink struct {
	SinkName string
	Logger   interfaces.Logger
}

func (s *LoggerSink) Name() string { return s.SinkName }
func (s *LoggerSink) Deliver(msg interfaces.Message, release func()) {
	defer release()
	if s.Logger != nil {
		s.Logger.Debugw("message logged", "tag", msg.Tag.String(), "len", len(msg.Payload))
	}
}

var (
	_ interfaces.Destination = (*TerminalSink)(nil)
	_ interfaces.Destination = (*DebuggerWindowSink)(nil)
	_ interfaces.Destination = (*BacktickWindowSink)(nil)
	_ interfaces.Destination = (*LoggerSink)(nil)
)
