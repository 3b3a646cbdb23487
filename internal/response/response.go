// Package response implements the DebuggerResponse: byte-exact
// construction of the 75-byte host reply from a 416-byte debugger frame
// and the tracked memory-snapshot shadows.
package response

import "sync"

const (
	// FrameSize is the required input frame length; shorter frames are
	// skipped entirely (no response is produced).
	FrameSize = 416

	// Size is the fixed output reply length.
	Size = 75

	cogBlockOffset = 40
	cogBlockSize   = 128
	hubBlockOffset = cogBlockOffset + cogBlockSize // 168
	hubBlockSize   = 248

	// KeepRunning is the Command value meaning "keep running" rather than
	// requesting a break/stall.
	KeepRunning uint32 = 0x80000000
)

// HubRequests are the five consumer-settable hub-read request slots; each
// is 0 unless a consumer has requested that data.
type HubRequests struct {
	Disassembly uint32
	PointerA    uint32
	PointerB    uint32
	PointerC    uint32
	HubWindow   uint32
}

// Generator tracks the cog/hub memory snapshots and their shadows across
// successive 416-byte frames, producing the diffed 75-byte reply.
type Generator struct {
	mu sync.Mutex

	cog       [cogBlockSize]byte
	hub       [hubBlockSize]byte
	cogShadow [cogBlockSize]byte
	hubShadow [hubBlockSize]byte

	Requests  HubRequests
	CoreBreak uint32
	Command   uint32
}

// New constructs a Generator with Command defaulted to KeepRunning.
func New() *Generator {
	return &Generator{Command: KeepRunning}
}

// Generate derives cog_block/hub_block from frame, diffs them against the
// tracked shadows, and returns the 75-byte reply. ok is false (no bytes
// returned) if frame is shorter than FrameSize. On success the new blocks
// become the shadows for the next call.
func (g *Generator) Generate(frame []byte) (reply []byte, ok bool) {
	if len(frame) < FrameSize {
		return nil, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	copy(g.cog[:], frame[cogBlockOffset:cogBlockOffset+cogBlockSize])
	copy(g.hub[:], frame[hubBlockOffset:hubBlockOffset+hubBlockSize])

	out := make([]byte, Size)
	diffMask(out[0:16], g.cog[:], g.cogShadow[:])
	diffMask(out[16:47], g.hub[:], g.hubShadow[:])

	putU32(out[47:51], g.Requests.Disassembly)
	putU32(out[51:55], g.Requests.PointerA)
	putU32(out[55:59], g.Requests.PointerB)
	putU32(out[59:63], g.Requests.PointerC)
	putU32(out[63:67], g.Requests.HubWindow)
	putU32(out[67:71], g.CoreBreak)
	putU32(out[71:75], g.Command)

	g.cogShadow = g.cog
	g.hubShadow = g.hub

	return out, true
}

// diffMask sets bit i of dst when cur[i] != shadow[i].
func diffMask(dst, cur, shadow []byte) {
	for i := range cur {
		if cur[i] != shadow[i] {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
