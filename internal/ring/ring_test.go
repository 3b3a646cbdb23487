package ring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(16)
	written, dropped := b.Write([]byte("hello"))
	require.Equal(t, 5, written)
	require.Equal(t, 0, dropped)

	view, ok := b.Peek(0, 5)
	require.True(t, ok)
	assert.Equal(t, "hello", string(view))

	consumed, ok := b.Consume(5)
	assert.True(t, ok)
	assert.Equal(t, 5, consumed)
	assert.Equal(t, 0, b.Used())
}

func TestCapacityInvariant(t *testing.T) {
	b := New(16)
	for w := 0; w < 40; w++ {
		b.Write([]byte{byte(w)})
		assert.Equal(t, b.Cap(), b.Used()+b.Free(), "used + free must equal usable capacity")
	}
}

func TestWrapAround(t *testing.T) {
	b := New(8) // usable 7
	b.Write([]byte{1, 2, 3, 4, 5})
	b.Consume(5)
	written, _ := b.Write([]byte{6, 7, 8, 9})
	require.Equal(t, 4, written)
	view, ok := b.Peek(0, 4)
	require.True(t, ok)
	assert.Equal(t, []byte{6, 7, 8, 9}, []byte(view))
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New(8) // usable 7
	b.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	assert.Equal(t, 0, b.Free())

	written, dropped := b.Write([]byte{8, 9})
	assert.Equal(t, 2, written)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, uint64(1), b.Overflows())

	view, ok := b.Peek(0, 7)
	require.True(t, ok)
	assert.Equal(t, []byte{3, 4, 5, 6, 7, 8, 9}, []byte(view))
}

func TestOverflowLargerThanCapacity(t *testing.T) {
	b := New(8) // usable 7
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	written, dropped := b.Write(src)
	assert.Equal(t, 7, written)
	assert.Equal(t, 3, dropped)
	view, _ := b.Peek(0, 7)
	assert.Equal(t, []byte{4, 5, 6, 7, 8, 9, 10}, []byte(view))
}

func TestPeekOutOfRange(t *testing.T) {
	b := New(16)
	b.Write([]byte("abc"))
	_, ok := b.Peek(0, 10)
	assert.False(t, ok)
	_, ok = b.Peek(1, 3)
	assert.False(t, ok)
}

func TestConsumeUnderflowSaturates(t *testing.T) {
	b := New(16)
	b.Write([]byte("ab"))
	consumed, ok := b.Consume(10)
	assert.False(t, ok)
	assert.Equal(t, 2, consumed)
	assert.Equal(t, 0, b.Used())
}

// TestRandomizedWriteConsume checks the used+free invariant and
// round-trip content for arbitrary chunking that never overflows.
func TestRandomizedWriteConsume(t *testing.T) {
	b := New(1024)
	rng := rand.New(rand.NewSource(1))
	var produced, consumed []byte

	for i := 0; i < 200; i++ {
		if b.Free() > 0 && (i%2 == 0 || b.Used() == 0) {
			n := 1 + rng.Intn(min(20, b.Free()))
			chunk := make([]byte, n)
			for j := range chunk {
				chunk[j] = byte(rng.Intn(256))
			}
			w, d := b.Write(chunk)
			require.Equal(t, 0, d)
			require.Equal(t, n, w)
			produced = append(produced, chunk...)
		} else if b.Used() > 0 {
			n := 1 + rng.Intn(b.Used())
			view, ok := b.Peek(0, n)
			require.True(t, ok)
			consumed = append(consumed, []byte(view)...)
			c, ok := b.Consume(n)
			require.True(t, ok)
			require.Equal(t, n, c)
		}
		assert.Equal(t, b.Cap(), b.Used()+b.Free())
	}

	assert.Equal(t, produced[:len(consumed)], consumed)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
