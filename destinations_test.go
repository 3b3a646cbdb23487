package p2core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/tag"
)

func TestTerminalSinkDeliversAndReleases(t *testing.T) {
	var got interfaces.Message
	released := false
	sink := &TerminalSink{
		SinkName: "term",
		Deliver_: func(msg interfaces.Message, release func()) {
			got = msg
			release()
		},
	}

	sink.Deliver(interfaces.Message{Tag: tag.TerminalOutput, Payload: []byte("hi")}, func() { released = true })

	assert.Equal(t, "term", sink.Name())
	assert.Equal(t, []byte("hi"), got.Payload)
	assert.True(t, released)
}

func TestTerminalSinkReleasesWhenDeliverFuncNil(t *testing.T) {
	sink := &TerminalSink{SinkName: "term"}
	released := false

	sink.Deliver(interfaces.Message{}, func() { released = true })

	assert.True(t, released, "a sink with no Deliver_ must still release the slot")
}

func TestDebuggerWindowSinkNamesAndReleases(t *testing.T) {
	sink := &DebuggerWindowSink{SinkName: "dbg3", Core: 3}
	released := false

	sink.Deliver(interfaces.Message{Tag: tag.Debugger4163}, func() { released = true })

	assert.Equal(t, "dbg3", sink.Name())
	assert.Equal(t, 3, sink.Core)
	assert.True(t, released)
}

func TestBacktickWindowSinkNamesAndReleases(t *testing.T) {
	sink := &BacktickWindowSink{SinkName: "scope", Kind: tag.BacktickScope}
	released := false

	sink.Deliver(interfaces.Message{Tag: tag.BacktickScope}, func() { released = true })

	assert.Equal(t, "scope", sink.Name())
	assert.True(t, released)
}

type recordingSinkLogger struct {
	calls []string
}

func (l *recordingSinkLogger) Debugw(msg string, kv ...interface{}) { l.calls = append(l.calls, msg) }
func (l *recordingSinkLogger) Infow(msg string, kv ...interface{})  {}
func (l *recordingSinkLogger) Warnw(msg string, kv ...interface{})  {}
func (l *recordingSinkLogger) Errorw(msg string, kv ...interface{}) {}

func TestLoggerSinkLogsAndReleases(t *testing.T) {
	logger := &recordingSinkLogger{}
	sink := &LoggerSink{SinkName: "diag", Logger: logger}
	released := false

	sink.Deliver(interfaces.Message{Tag: tag.CogMessage2, Payload: []byte("x")}, func() { released = true })

	assert.True(t, released)
	assert.Len(t, logger.calls, 1)
}

func TestLoggerSinkReleasesWithoutLogger(t *testing.T) {
	sink := &LoggerSink{SinkName: "diag"}
	released := false

	sink.Deliver(interfaces.Message{Tag: tag.CogMessage2}, func() { released = true })

	assert.True(t, released)
}
