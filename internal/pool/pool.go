// Package pool implements the MessagePool: a shared-memory, size-classed,
// reference-counted slot allocator that hands zero-copy message views from
// the Worker to the Router and on to destinations.
package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/parallax-p2/p2term-core/internal/tag"
)

// Slot geometry, byte-exact per the Pool Slot data model: an 8-byte header
// ([refcount:u32][tag:u8][length:u16][reserved:u8]) followed by payload.
// The refcount bytes are left zeroed in slot memory — the atomic refcount
// array is the sole source of truth, so nothing ever races on those bytes.
// The reserved byte carries the 0xDB protocol subtype for DB_PACKET
// messages (meaningless for every other tag), so the Worker can stamp it
// once and the Router can read it back without a second channel.
const (
	HeaderSize = 8

	SmallSlots      = 10_000
	SmallSlotSize   = 128
	SmallPayloadCap = SmallSlotSize - HeaderSize

	LargeSlots      = 500
	LargeSlotSize   = 8_192
	LargePayloadCap = LargeSlotSize - HeaderSize
)

// class identifies which arena a poolId belongs to.
type class uint8

const (
	classSmall class = 0
	classLarge class = 1
)

// classBit is encoded in the top bit of a poolId so IDs from the two
// arenas never collide.
const classBit = uint32(1) << 31

// ErrNoFreeSlot is returned by Acquire when a size class is exhausted.
var ErrNoFreeSlot = fmt.Errorf("pool: no free slot in size class")

// ErrTooLarge is returned by Acquire when size exceeds even the large
// class's payload capacity; the Framer must never produce such a message.
var ErrTooLarge = fmt.Errorf("pool: message exceeds large-class payload capacity")

// ErrDoubleRelease is returned when Release observes a refcount transition
// below zero — a programming error in a caller.
var ErrDoubleRelease = fmt.Errorf("pool: double release (refcount underflow)")

type arena struct {
	buf       []byte
	slotSize  int
	count     int
	refcounts []atomic.Uint32
	hint      atomic.Uint32
	overflow  atomic.Uint64
}

func newArena(count, slotSize int) *arena {
	return &arena{
		buf:       make([]byte, count*slotSize),
		slotSize:  slotSize,
		count:     count,
		refcounts: make([]atomic.Uint32, count),
	}
}

func (a *arena) slotBytes(idx int) []byte {
	off := idx * a.slotSize
	return a.buf[off : off+a.slotSize]
}

// acquire scans for a free slot starting at a rotating hint for cache
// locality, claiming the first slot whose refcount CASes 0 -> 1.
func (a *arena) acquire() (int, bool) {
	start := int(a.hint.Add(1)) % a.count
	for i := 0; i < a.count; i++ {
		idx := (start + i) % a.count
		if a.refcounts[idx].CompareAndSwap(0, 1) {
			return idx, true
		}
	}
	a.overflow.Add(1)
	return 0, false
}

func (a *arena) release(idx int) (after uint32, double bool) {
	after = a.refcounts[idx].Add(^uint32(0)) // fetch-sub 1
	if int32(after) < 0 {
		return after, true
	}
	return after, false
}

func (a *arena) increment(idx int, n uint32) uint32 {
	return a.refcounts[idx].Add(n)
}

// Pool is the MessagePool: two fixed arenas (small and large) plus their
// atomic refcount arrays.
type Pool struct {
	small *arena
	large *arena
}

// New constructs a Pool with the fixed capacities the data model mandates.
func New() *Pool {
	return &Pool{
		small: newArena(SmallSlots, SmallSlotSize),
		large: newArena(LargeSlots, LargeSlotSize),
	}
}

// SmallOverflows returns the cumulative count of failed small-class acquires.
func (p *Pool) SmallOverflows() uint64 { return p.small.overflow.Load() }

// LargeOverflows returns the cumulative count of failed large-class acquires.
func (p *Pool) LargeOverflows() uint64 { return p.large.overflow.Load() }

func classFor(size int) (class, *arena, error) {
	switch {
	case size <= SmallPayloadCap:
		return classSmall, nil, nil
	case size <= LargePayloadCap:
		return classLarge, nil, nil
	default:
		return 0, nil, ErrTooLarge
	}
}

func (p *Pool) arenaFor(c class) *arena {
	if c == classSmall {
		return p.small
	}
	return p.large
}

func encode(c class, idx int) uint32 {
	id := uint32(idx)
	if c == classLarge {
		id |= classBit
	}
	return id
}

func decode(id uint32) (class, int) {
	if id&classBit != 0 {
		return classLarge, int(id &^ classBit)
	}
	return classSmall, int(id)
}

// Acquire claims a free slot in the size class whose usable payload fits
// size, sets its initial refcount to 1, and returns the poolId. Returns
// ErrNoFreeSlot if that class is exhausted, ErrTooLarge if size exceeds
// even the large class's payload capacity.
func (p *Pool) Acquire(size int) (uint32, error) {
	c, _, err := classFor(size)
	if err != nil {
		return 0, err
	}
	a := p.arenaFor(c)
	idx, ok := a.acquire()
	if !ok {
		return 0, ErrNoFreeSlot
	}
	hdr := a.slotBytes(idx)
	hdr[4] = byte(tag.Invalid)
	hdr[5], hdr[6], hdr[7] = 0, 0, 0
	return encode(c, idx), nil
}

// Get returns a Handle for an already-acquired poolId. The caller must
// already hold a reference.
func (p *Pool) Get(id uint32) Handle {
	c, idx := decode(id)
	return Handle{pool: p, class: c, idx: idx}
}

// Release atomically decrements the refcount. Returns true if this was the
// slot's final reference (now free for reuse). A double release (refcount
// transitioning below zero) returns ErrDoubleRelease; the slot is left
// poisoned (its refcount wraps past the sentinel, forever failing the
// 0->1 CAS in acquire) and excluded from future Acquire calls.
func (p *Pool) Release(id uint32) (freed bool, err error) {
	c, idx := decode(id)
	after, double := p.arenaFor(c).release(idx)
	if double {
		return false, ErrDoubleRelease
	}
	return after == 0, nil
}

// Increment adds n references, used when the router hands a message to
// multiple destinations. n must be >= 1.
func (p *Pool) Increment(id uint32, n int) uint32 {
	if n < 1 {
		panic("pool: Increment n must be >= 1")
	}
	c, idx := decode(id)
	return p.arenaFor(c).increment(idx, uint32(n))
}

// MessageType reads just the tag byte — the fast path for routing
// decisions that never touches payload bytes.
func (p *Pool) MessageType(id uint32) tag.Tag {
	c, idx := decode(id)
	hdr := p.arenaFor(c).slotBytes(idx)
	return tag.Tag(hdr[4])
}

// Refcount returns the current refcount for diagnostics.
func (p *Pool) Refcount(id uint32) uint32 {
	c, idx := decode(id)
	return p.arenaFor(c).refcounts[idx].Load()
}

// Handle is a borrowed view onto an acquired slot. It must not outlive the
// caller's reference.
type Handle struct {
	pool  *Pool
	class class
	idx   int
}

func (h Handle) arena() *arena { return h.pool.arenaFor(h.class) }

func (h Handle) header() []byte { return h.arena().slotBytes(h.idx) }

// WriteTag stamps the message tag. Valid only between Acquire and
// publication to the router.
func (h Handle) WriteTag(t tag.Tag) {
	h.header()[4] = byte(t)
}

// WriteLength stamps the payload length.
func (h Handle) WriteLength(n int) {
	hdr := h.header()
	hdr[5] = byte(n)
	hdr[6] = byte(n >> 8)
}

// WriteSubtype stamps the reserved byte, meaningful only for tag.DBPacket.
func (h Handle) WriteSubtype(b byte) {
	h.header()[7] = b
}

// ReadSubtype returns the stamped reserved byte.
func (h Handle) ReadSubtype() byte {
	return h.header()[7]
}

// PayloadCap returns the maximum payload bytes this slot's class can hold.
func (h Handle) PayloadCap() int {
	return h.arena().slotSize - HeaderSize
}

// WritePayload copies p into the slot's payload region, bounded by the
// slot's capacity. Returns the number of bytes actually copied.
func (h Handle) WritePayload(p []byte) int {
	a := h.arena()
	off := h.idx*a.slotSize + HeaderSize
	return copy(a.buf[off:off+h.PayloadCap()], p)
}

// SetRefcount overwrites the refcount directly; used only between Acquire
// and publication (e.g. to seed a non-default initial count).
func (h Handle) SetRefcount(n uint32) {
	h.arena().refcounts[h.idx].Store(n)
}

// ReadTag returns the stamped message tag.
func (h Handle) ReadTag() tag.Tag {
	return tag.Tag(h.header()[4])
}

// ReadLength returns the stamped payload length.
func (h Handle) ReadLength() int {
	hdr := h.header()
	return int(hdr[5]) | int(hdr[6])<<8
}

// ReadPayload returns a borrowed view of the payload bounded by the
// stamped length. The view must not outlive the caller's reference.
func (h Handle) ReadPayload() []byte {
	a := h.arena()
	n := h.ReadLength()
	off := h.idx*a.slotSize + HeaderSize
	return a.buf[off : off+n]
}

// Refcount returns the slot's current refcount.
func (h Handle) Refcount() uint32 {
	return h.arena().refcounts[h.idx].Load()
}
