// Package ring provides the fixed-capacity, single-producer single-consumer
// byte ring that sits between the USB callback and the framing Worker.
//
// Safety contract
//
//   - Exactly one goroutine calls Write (the USB callback path).
//   - Exactly one goroutine calls Peek/Consume (the Worker).
//   - head and tail are monotonic cursors; indices into buf are taken
//     modulo a power-of-two capacity via a bitmask, following the same
//     shape as a classic SPSC ring.
//
// The cell at the logical tail position is always left unwritten so that
// a full ring and an empty ring remain distinguishable: usable capacity is
// one byte less than the backing allocation, matching the "used + free =
// N - 1" invariant.
package ring

import "sync/atomic"

// DefaultCapacity is the default fixed backing allocation (1 MiB).
const DefaultCapacity = 1 << 20

// Buffer is a fixed-capacity SPSC byte ring.
type Buffer struct {
	buf    []byte
	mask   uint64
	usable uint64

	head atomic.Uint64 // consumer cursor, monotonic; advanced only by Consume
	tail atomic.Uint64 // producer cursor, monotonic; advanced only by Write

	overflows atomic.Uint64 // count of Write calls that dropped bytes
	underflow atomic.Uint64 // count of Consume calls that saturated
}

// New creates a Buffer with the given total backing capacity, which must
// be a power of two. Usable capacity is capacity-1.
func New(capacity int) *Buffer {
	if capacity <= 1 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two greater than 1")
	}
	return &Buffer{
		buf:    make([]byte, capacity),
		mask:   uint64(capacity - 1),
		usable: uint64(capacity - 1),
	}
}

// Cap returns the usable capacity in bytes (total allocation minus one).
func (b *Buffer) Cap() int { return int(b.usable) }

// Used returns the number of unconsumed bytes currently buffered.
func (b *Buffer) Used() int {
	return int(b.tail.Load() - b.head.Load())
}

// Free returns the number of bytes that can be written before the ring is
// full (i.e. before Write must start dropping the oldest bytes).
func (b *Buffer) Free() int {
	return int(b.usable - (b.tail.Load() - b.head.Load()))
}

// Overflows returns the cumulative count of Write calls that had to drop
// bytes to make room.
func (b *Buffer) Overflows() uint64 { return b.overflows.Load() }

// Write copies src into the ring, wrapping as needed. If src does not fit
// in the current free space, the oldest buffered bytes (and, if src itself
// exceeds the ring's usable capacity, the oldest bytes of src) are dropped
// to make room — losing history is preferable to blocking the USB driver.
// Returns the number of bytes actually retained and the number dropped.
func (b *Buffer) Write(src []byte) (written, dropped int) {
	n := uint64(len(src))
	if n == 0 {
		return 0, 0
	}

	if n > b.usable {
		d := n - b.usable
		src = src[d:]
		dropped += int(d)
		n = b.usable
	}

	head := b.head.Load()
	tail := b.tail.Load()
	used := tail - head
	free := b.usable - used

	if n > free {
		need := n - free
		head += need
		b.head.Store(head)
		dropped += int(need)
	}

	tailIdx := tail & b.mask
	first := b.usable + 1 - tailIdx
	if first > n {
		first = n
	}
	copy(b.buf[tailIdx:tailIdx+first], src[:first])
	if first < n {
		copy(b.buf[:n-first], src[first:])
	}

	b.tail.Store(tail + n)

	if dropped > 0 {
		b.overflows.Add(1)
	}
	return int(n), dropped
}

// View is a read-only, possibly-copied contiguous window into the ring
// returned by Peek. It must not be retained past the next Consume call on
// the same region.
type View []byte

// Peek returns a contiguous read-only view of n bytes starting at logical
// offset from the current head. Returns ok=false if offset+n exceeds the
// number of bytes currently buffered. When the requested window straddles
// the physical wrap point, Peek returns a copied temporary; otherwise it
// returns a direct subslice.
func (b *Buffer) Peek(offset, n int) (View, bool) {
	if n <= 0 {
		return nil, n == 0
	}
	used := b.Used()
	if offset < 0 || offset+n > used {
		return nil, false
	}

	head := b.head.Load()
	start := (head + uint64(offset)) & b.mask
	end := start + uint64(n)

	if end <= b.usable+1 {
		return View(b.buf[start:end]), true
	}

	tmp := make([]byte, n)
	first := int(b.usable + 1 - start)
	copy(tmp, b.buf[start:])
	copy(tmp[first:], b.buf[:uint64(n)-uint64(first)])
	return View(tmp), true
}

// Consume advances head by n, releasing those bytes back to the free
// pool. If n exceeds the number of buffered bytes, Consume saturates at
// Used() and reports the underflow via the ok return.
func (b *Buffer) Consume(n int) (consumed int, ok bool) {
	if n <= 0 {
		return 0, true
	}
	used := b.Used()
	if n > used {
		b.underflow.Add(1)
		b.head.Add(uint64(used))
		return used, false
	}
	b.head.Add(uint64(n))
	return n, true
}
