package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-p2/p2term-core/internal/framer"
	"github.com/parallax-p2/p2term-core/internal/pool"
	"github.com/parallax-p2/p2term-core/internal/ring"
	"github.com/parallax-p2/p2term-core/internal/tag"
)

func TestWorkerPublishesClassifiedMessages(t *testing.T) {
	r := ring.New(4096)
	p := pool.New()
	f := framer.New(r, nil)
	signal := make(chan uint32, 16)

	w := New(Config{Pool: p, Framer: f, Signal: signal, PollFor: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	r.Write([]byte("Cog2 ready\n"))

	var id uint32
	select {
	case id = <-signal:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker to publish a slot id")
	}

	h := p.Get(id)
	assert.Equal(t, tag.CogMessage2, h.ReadTag())
	assert.Equal(t, "Cog2 ready\n", string(h.ReadPayload()))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not shut down after cancellation")
	}
}

func TestWorkerDropsOnFullSignalAndReleasesSlot(t *testing.T) {
	r := ring.New(4096)
	p := pool.New()
	f := framer.New(r, nil)
	signal := make(chan uint32) // unbuffered: any send without a receiver blocks

	var reported []string
	w := New(Config{
		Pool: p, Framer: f, Signal: signal, PollFor: time.Millisecond,
		ReportRoutingError: func(kind string) { reported = append(reported, kind) },
	})

	r.Write([]byte("hello\n"))
	w.drainOnce()

	assert.Equal(t, uint64(1), w.Dropped())
	assert.Equal(t, uint64(0), p.SmallOverflows()+p.LargeOverflows())
	assert.Equal(t, []string{"router_signal_full"}, reported)

	// The dropped message's slot was released: every small slot can be
	// acquired again.
	for i := 0; i < pool.SmallSlots; i++ {
		_, err := p.Acquire(4)
		require.NoError(t, err)
	}
}

func TestWorkerReportsPoolExhaustion(t *testing.T) {
	r := ring.New(4096)
	p := pool.New()
	f := framer.New(r, nil)
	signal := make(chan uint32, 16)

	var reported []string
	w := New(Config{
		Pool: p, Framer: f, Signal: signal, PollFor: time.Millisecond,
		ReportRoutingError: func(kind string) { reported = append(reported, kind) },
	})

	for i := 0; i < pool.SmallSlots; i++ {
		_, err := p.Acquire(4)
		require.NoError(t, err)
	}

	r.Write([]byte("hi\n"))
	w.drainOnce()

	require.Equal(t, []string{"pool_exhausted"}, reported)
}

func TestWorkerDrainsRingOnShutdown(t *testing.T) {
	r := ring.New(4096)
	p := pool.New()
	f := framer.New(r, nil)
	signal := make(chan uint32, 16)

	w := New(Config{Pool: p, Framer: f, Signal: signal, PollFor: 10 * time.Millisecond})

	r.Write([]byte("final message\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately; Run must still drain once before returning

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	select {
	case id := <-signal:
		h := p.Get(id)
		assert.Equal(t, "final message\n", string(h.ReadPayload()))
	default:
		t.Fatal("expected the final drain to publish the buffered message")
	}
}
