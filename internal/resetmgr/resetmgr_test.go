package resetmgr

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrain struct {
	count atomic.Int64
}

func (f *fakeDrain) InFlight() int64 { return f.count.Load() }

// TestResetOrdering checks that after OnDTRReset completes, Synchronized()
// is true with source DTR, and the rotate-log callback fired.
func TestResetOrdering(t *testing.T) {
	var rotated, detected int
	m := New(Config{
		DrainTimeout:    50 * time.Millisecond,
		DrainGrace:      time.Millisecond,
		OnResetDetected: func(Event) { detected++ },
		OnRotateLog:     func(Event) { rotated++ },
	})

	ev := m.OnDTRReset(context.Background())

	assert.True(t, m.Synchronized())
	assert.Equal(t, "DTR", m.SyncSource())
	assert.Equal(t, 1, detected)
	assert.Equal(t, 1, rotated)
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestDrainWaitsForInFlightToReachZero(t *testing.T) {
	drain := &fakeDrain{}
	drain.count.Store(1)

	var rotated int32
	m := New(Config{
		Drain:        drain,
		DrainTimeout: time.Second,
		DrainGrace:   time.Millisecond,
		OnRotateLog:  func(Event) { atomic.AddInt32(&rotated, 1) },
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		drain.count.Store(0)
	}()

	start := time.Now()
	m.OnRTSReset(context.Background())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rotated))
}

func TestDrainTimeoutIsNonFatal(t *testing.T) {
	drain := &fakeDrain{}
	drain.count.Store(1) // never reaches zero

	var timedOut, rotated int
	m := New(Config{
		Drain:          drain,
		DrainTimeout:   10 * time.Millisecond,
		DrainGrace:     time.Millisecond,
		OnDrainTimeout: func(Event) { timedOut++ },
		OnRotateLog:    func(Event) { rotated++ },
	})

	m.OnDTRReset(context.Background())

	assert.Equal(t, 1, timedOut)
	assert.Equal(t, 1, rotated, "rotateLog must still fire after a non-fatal drain timeout")
}

func TestHistoryBoundedAndPrunedFIFO(t *testing.T) {
	m := New(Config{HistoryDepth: 3, DrainGrace: 0, DrainTimeout: time.Millisecond})
	for i := 0; i < 5; i++ {
		m.OnDTRReset(context.Background())
	}
	history := m.History()
	require.Len(t, history, 3)
	assert.Equal(t, uint64(3), history[0].Seq)
	assert.Equal(t, uint64(5), history[2].Seq)
}

func TestContextCancellationAbortsDrainWait(t *testing.T) {
	drain := &fakeDrain{}
	drain.count.Store(1)

	m := New(Config{Drain: drain, DrainTimeout: time.Minute, DrainGrace: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.OnDTRReset(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancellation did not abort the drain wait")
	}
}
