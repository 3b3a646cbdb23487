// Package tag defines the Message Tag enumeration that the framer stamps
// on every extracted message and that the router uses to pick destinations.
package tag

import "fmt"

// Tag identifies both the category of a message and, where applicable, the
// originating core index (0..7). Tags 1..8 embed a core message index and
// tags 9..16 embed a debugger-frame core index by construction;
// IsCogMessage and IsDebugger416 extract it.
type Tag uint8

const (
	Invalid Tag = iota
	DBPacket
	CogMessage0
	CogMessage1
	CogMessage2
	CogMessage3
	CogMessage4
	CogMessage5
	CogMessage6
	CogMessage7
	Debugger4160
	Debugger4161
	Debugger4162
	Debugger4163
	Debugger4164
	Debugger4165
	Debugger4166
	Debugger4167
	P2SystemInit
	BacktickLogic
	BacktickScope
	BacktickScopeXY
	BacktickFFT
	BacktickSpectro
	BacktickPlot
	BacktickTerm
	BacktickBitmap
	BacktickMIDI
	BacktickUpdate
	TerminalOutput
	InvalidCog
)

var names = map[Tag]string{
	Invalid:         "INVALID",
	DBPacket:        "DB_PACKET",
	CogMessage0:     "COG_MESSAGE0",
	CogMessage1:     "COG_MESSAGE1",
	CogMessage2:     "COG_MESSAGE2",
	CogMessage3:     "COG_MESSAGE3",
	CogMessage4:     "COG_MESSAGE4",
	CogMessage5:     "COG_MESSAGE5",
	CogMessage6:     "COG_MESSAGE6",
	CogMessage7:     "COG_MESSAGE7",
	Debugger4160:    "DEBUGGER_416_0",
	Debugger4161:    "DEBUGGER_416_1",
	Debugger4162:    "DEBUGGER_416_2",
	Debugger4163:    "DEBUGGER_416_3",
	Debugger4164:    "DEBUGGER_416_4",
	Debugger4165:    "DEBUGGER_416_5",
	Debugger4166:    "DEBUGGER_416_6",
	Debugger4167:    "DEBUGGER_416_7",
	P2SystemInit:    "P2_SYSTEM_INIT",
	BacktickLogic:   "BACKTICK_LOGIC",
	BacktickScope:   "BACKTICK_SCOPE",
	BacktickScopeXY: "BACKTICK_SCOPE_XY",
	BacktickFFT:     "BACKTICK_FFT",
	BacktickSpectro: "BACKTICK_SPECTRO",
	BacktickPlot:    "BACKTICK_PLOT",
	BacktickTerm:    "BACKTICK_TERM",
	BacktickBitmap:  "BACKTICK_BITMAP",
	BacktickMIDI:    "BACKTICK_MIDI",
	BacktickUpdate:  "BACKTICK_UPDATE",
	TerminalOutput:  "TERMINAL_OUTPUT",
	InvalidCog:      "INVALID_COG",
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// CogMessageForCore returns the COG_MESSAGE{n} tag for core index n (0..7).
func CogMessageForCore(core int) Tag {
	return CogMessage0 + Tag(core)
}

// Debugger416ForCore returns the DEBUGGER_416{n} tag for core index n (0..7).
func Debugger416ForCore(core int) Tag {
	return Debugger4160 + Tag(core)
}

// IsCogMessage reports whether t is one of the COG_MESSAGE{0..7} tags and,
// if so, returns its core index.
func IsCogMessage(t Tag) (core int, ok bool) {
	if t >= CogMessage0 && t <= CogMessage7 {
		return int(t - CogMessage0), true
	}
	return 0, false
}

// IsDebugger416 reports whether t is one of the DEBUGGER_416{0..7} tags and,
// if so, returns its core index.
func IsDebugger416(t Tag) (core int, ok bool) {
	if t >= Debugger4160 && t <= Debugger4167 {
		return int(t - Debugger4160), true
	}
	return 0, false
}

// IsBacktick reports whether t is one of the BACKTICK_* tags.
func IsBacktick(t Tag) bool {
	return t >= BacktickLogic && t <= BacktickUpdate
}
