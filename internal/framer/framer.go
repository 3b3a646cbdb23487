// Package framer implements the opportunistic parser: the state machine
// that decides what the next bytes sitting in the ring represent — a
// terminal text line, a 0xDB-framed protocol packet, or an 80-byte core
// status snapshot — and extracts exactly one typed message per call.
//
// Next is written as close to the pure-function shape the design
// notes recommend (ring_view, state) -> (emit, advance) as the ring's
// peek/consume API allows: Next() only ever reads via Peek and commits
// via Consume, so its decisions are fully determined by ring contents.
package framer

import (
	"strings"

	"github.com/parallax-p2/p2term-core/internal/ring"
	"github.com/parallax-p2/p2term-core/internal/tag"
)

// smallTextThreshold bounds how many buffered text-looking bytes with no
// terminator yet Next will wait on before giving up and emitting a
// truncated line rather than stalling forever.
const smallTextThreshold = 64

// StaleGarbageBytes is the unclassifiable-byte threshold past which Next
// flushes what it has as a single degraded TERMINAL_OUTPUT so a mid-stream
// attach onto garbage eventually recovers.
const StaleGarbageBytes = 256

// maxDBPayload is the noise threshold for a 0xDB frame's declared payload
// length: a frame claiming more than this is treated as noise, not a real
// protocol frame.
const maxDBPayload = 4096

// Message is one opportunistically extracted unit, ready to be copied
// into a pool slot by the Worker.
type Message struct {
	Tag      tag.Tag
	Payload  []byte
	Subtype  byte // meaningful only when Tag == tag.DBPacket
	Degraded bool // set on the stale-garbage recovery path
}

// Framer holds the synchronization flag the design calls out as the only
// mutable state a classifying pass needs beyond the ring itself.
type Framer struct {
	ring       *ring.Buffer
	synced     bool
	syncSource string
	onSync     func(source string)
}

// New constructs a Framer reading from r. onSync, if non-nil, is invoked
// on each transition from unsynchronized to synchronized (once, unless
// ClearSync drops synchronization in between), with the source that
// triggered it ("text", "protocol", "snapshot", or the reset source passed
// to NoteReset).
func New(r *ring.Buffer, onSync func(source string)) *Framer {
	return &Framer{ring: r, onSync: onSync}
}

// Synchronized reports the Framer's current belief that it has locked
// onto valid message boundaries. Informational only.
func (f *Framer) Synchronized() bool { return f.synced }

// SyncSource returns what triggered synchronization, or "" if not yet
// synchronized.
func (f *Framer) SyncSource() string { return f.syncSource }

// NoteReset lets the reset manager flip synchronization directly: a DTR
// or RTS reset puts the target in a known initial state regardless of
// what the Framer has parsed so far.
func (f *Framer) NoteReset(source string) {
	f.noteSync(source)
}

// ClearSync drops the synchronized belief without touching ring contents
// (used after a ring overflow, where the oldest buffered bytes are gone
// but sync can no longer be trusted): classification rules still run
// unsynchronized, and the next successful text/protocol/snapshot match (or
// reset) flips it back.
func (f *Framer) ClearSync() {
	f.synced = false
	f.syncSource = ""
}

func (f *Framer) noteSync(source string) {
	if f.synced {
		return
	}
	f.synced = true
	f.syncSource = source
	if f.onSync != nil {
		f.onSync(source)
	}
}

// Next classifies and extracts exactly one message from the ring, or
// returns ok=false if the ring does not yet hold enough bytes to decide.
func (f *Framer) Next() (*Message, bool) {
	for {
		used := f.ring.Used()
		if used == 0 {
			return nil, false
		}

		if f.looksLikeText(used) {
			msg, advance, waiting := f.classifyText(used)
			if waiting {
				return nil, false
			}
			f.ring.Consume(advance)
			f.noteSync("text")
			return msg, true
		}

		if first, ok := f.ring.Peek(0, 1); ok && first[0] == 0xDB {
			if used < 4 {
				return nil, false
			}
			hdr, _ := f.ring.Peek(0, 4)
			payloadLen := int(hdr[2]) | int(hdr[3])<<8
			if payloadLen > maxDBPayload {
				f.ring.Consume(1)
				continue // transient noise: one byte consumed, retry classification
			}
			total := 4 + payloadLen
			if used < total {
				return nil, false
			}
			view, _ := f.ring.Peek(0, total)
			payload := append([]byte(nil), view[4:]...)
			f.ring.Consume(total)
			f.noteSync("protocol")
			return &Message{Tag: tag.DBPacket, Subtype: hdr[1], Payload: payload}, true
		}

		if msg, ok := f.trySnapshot(used); ok {
			f.noteSync("snapshot")
			return msg, true
		}

		if used >= StaleGarbageBytes {
			view, _ := f.ring.Peek(0, StaleGarbageBytes)
			payload := append([]byte(nil), view...)
			f.ring.Consume(StaleGarbageBytes)
			return &Message{Tag: tag.TerminalOutput, Payload: payload, Degraded: true}, true
		}

		return nil, false
	}
}

func (f *Framer) trySnapshot(used int) (*Message, bool) {
	if used < 80 {
		return nil, false
	}
	view80, _ := f.ring.Peek(0, 80)
	core := int(view80[0])
	if core > 7 {
		return nil, false
	}

	switch {
	case used >= 81:
		next, _ := f.ring.Peek(80, 1)
		if !looksLikeTextByte(next[0]) || !validateSnapshot(view80) {
			return nil, false
		}
	case used == 80:
		if !validateSnapshot(view80) {
			return nil, false
		}
	default:
		return nil, false
	}

	payload := append([]byte(nil), view80...)
	f.ring.Consume(80)
	return &Message{Tag: tag.Debugger416ForCore(core), Payload: payload}, true
}

// looksLikeText reports whether the first N = min(10, used) buffered bytes
// look like text: at least 80% printable ASCII or TAB/CR/LF, or the span
// starts with "Cog<digit>" or a backtick.
func (f *Framer) looksLikeText(used int) bool {
	n := used
	if n > 10 {
		n = 10
	}
	view, ok := f.ring.Peek(0, n)
	if !ok || n == 0 {
		return false
	}

	if view[0] == '`' {
		return true
	}
	if n >= 4 && view[0] == 'C' && view[1] == 'o' && view[2] == 'g' && isDigit(view[3]) {
		return true
	}

	printable := 0
	for _, b := range view {
		if looksLikeTextByte(b) {
			printable++
		}
	}
	return float64(printable)/float64(n) >= 0.8
}

func looksLikeTextByte(b byte) bool {
	return (b >= 0x20 && b <= 0x7E) || b == 0x09 || b == 0x0D || b == 0x0A
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// classifyText scans for an end-of-line terminator (CR, LF, CRLF, or
// LFCR) within the currently buffered span. If none is found and the
// span is still short, it asks the caller to wait for more bytes;
// otherwise it emits the whole accumulated run as an unterminated line
// rather than buffering indefinitely.
func (f *Framer) classifyText(used int) (msg *Message, advance int, waiting bool) {
	view, _ := f.ring.Peek(0, used)

	if n, found := findEOL(view); found {
		line := append([]byte(nil), view[:n]...)
		return classifyLine(line), n, false
	}

	if used < smallTextThreshold {
		return nil, 0, true
	}

	line := append([]byte(nil), view...)
	return &Message{Tag: tag.TerminalOutput, Payload: line}, used, false
}

func findEOL(view ring.View) (n int, found bool) {
	for i := 0; i < len(view); i++ {
		switch view[i] {
		case '\r':
			if i+1 < len(view) && view[i+1] == '\n' {
				return i + 2, true
			}
			return i + 1, true
		case '\n':
			if i+1 < len(view) && view[i+1] == '\r' {
				return i + 2, true
			}
			return i + 1, true
		}
	}
	return 0, false
}

func classifyLine(line []byte) *Message {
	if len(line) >= 1 && line[0] == '`' {
		return &Message{Tag: backtickTag(line[1:]), Payload: line}
	}

	if len(line) >= 4 && line[0] == 'C' && line[1] == 'o' && line[2] == 'g' && isDigit(line[3]) {
		d := int(line[3] - '0')
		if d <= 7 {
			return &Message{Tag: tag.CogMessageForCore(d), Payload: line}
		}
		return &Message{Tag: tag.InvalidCog, Payload: line}
	}

	return &Message{Tag: tag.TerminalOutput, Payload: line}
}

func backtickTag(rest []byte) tag.Tag {
	word := leadingWord(rest)
	switch strings.ToUpper(word) {
	case "LOGIC":
		return tag.BacktickLogic
	case "SCOPE":
		return tag.BacktickScope
	case "SCOPE_XY":
		return tag.BacktickScopeXY
	case "FFT":
		return tag.BacktickFFT
	case "SPECTRO":
		return tag.BacktickSpectro
	case "PLOT":
		return tag.BacktickPlot
	case "TERM":
		return tag.BacktickTerm
	case "BITMAP":
		return tag.BacktickBitmap
	case "MIDI":
		return tag.BacktickMIDI
	case "UPDATE":
		return tag.BacktickUpdate
	default:
		return tag.TerminalOutput
	}
}

func leadingWord(rest []byte) string {
	i := 0
	for i < len(rest) && !isSpace(rest[i]) {
		i++
	}
	return string(rest[:i])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// validateSnapshot checks an 80-byte core status snapshot: 20 little-endian
// u32 fields, in order core index, program counter, call depth, stack-A
// start, stack-B start, pointer-A, pointer-B, followed by 13 unconstrained
// fields.
func validateSnapshot(b ring.View) bool {
	if len(b) < 80 {
		return false
	}
	u32 := func(i int) uint32 {
		off := i * 4
		return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	}
	core := u32(0)
	pc := u32(1)
	depth := u32(2)
	stackA := u32(3)
	stackB := u32(4)
	ptrA := u32(5)
	ptrB := u32(6)

	return core <= 7 &&
		pc <= 0x80000 &&
		depth <= 32 &&
		stackA <= 0x7FFFF &&
		stackB <= 0x7FFFF &&
		ptrA <= 0x7FFFF &&
		ptrB <= 0x7FFFF
}
