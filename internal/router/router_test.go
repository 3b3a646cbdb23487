package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/pool"
	"github.com/parallax-p2/p2term-core/internal/tag"
)

type recordingSink struct {
	name string

	mu        sync.Mutex
	delivered []interfaces.Message
}

func newRecordingSink(name string) *recordingSink { return &recordingSink{name: name} }

func (s *recordingSink) Deliver(msg interfaces.Message, release func()) {
	s.mu.Lock()
	s.delivered = append(s.delivered, msg)
	s.mu.Unlock()
	release()
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func publish(t *testing.T, p *pool.Pool, tg tag.Tag, payload string) uint32 {
	t.Helper()
	id, err := p.Acquire(len(payload))
	require.NoError(t, err)
	h := p.Get(id)
	h.WriteTag(tg)
	h.WriteLength(len(payload))
	h.WritePayload([]byte(payload))
	return id
}

func TestRouterDropsUnregisteredTag(t *testing.T) {
	p := pool.New()
	signal := make(chan uint32, 4)
	r := New(Config{Pool: p, Signal: signal})

	id := publish(t, p, tag.TerminalOutput, "hi\n")
	signal <- id

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	assert.Equal(t, uint64(1), r.Dropped())
	assert.Equal(t, uint32(0), p.Refcount(id))
}

// TestFanOutDeliversToEveryDestination checks that k destinations
// registered for a tag causes exactly k delivers and k releases.
func TestFanOutDeliversToEveryDestination(t *testing.T) {
	p := pool.New()
	signal := make(chan uint32, 4)
	r := New(Config{Pool: p, Signal: signal})

	sinks := []*recordingSink{newRecordingSink("a"), newRecordingSink("b"), newRecordingSink("c")}
	for _, s := range sinks {
		r.Register(tag.BacktickTerm, s)
	}

	id := publish(t, p, tag.BacktickTerm, "`TERM clear\n")
	signal <- id

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		for _, s := range sinks {
			if s.count() != 1 {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	cancel()

	for _, s := range sinks {
		assert.Equal(t, 1, s.count())
		assert.Equal(t, "`TERM clear\n", string(s.delivered[0].Payload))
	}
	assert.Eventually(t, func() bool { return p.Refcount(id) == 0 }, time.Second, time.Millisecond)
}

func TestObserverReceivesDebuggerAndRebootEvents(t *testing.T) {
	p := pool.New()
	signal := make(chan uint32, 4)
	obs := &recordingObserver{}
	r := New(Config{Pool: p, Signal: signal, Observer: obs})

	sink := newRecordingSink("dbg")
	r.Register(tag.Debugger4163, sink)
	r.Register(tag.P2SystemInit, sink)

	id1 := publish(t, p, tag.Debugger4163, "snapshot")
	id2 := publish(t, p, tag.P2SystemInit, "boot")
	signal <- id1
	signal <- id2

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	assert.Contains(t, obs.debuggerCores, 3)
	assert.Equal(t, 1, obs.reboots)
}

type recordingObserver struct {
	mu            sync.Mutex
	routed        []tag.Tag
	debuggerCores []int
	reboots       int
	routingErrors []string
}

func (o *recordingObserver) ObserveMessageRouted(t tag.Tag) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routed = append(o.routed, t)
}

func (o *recordingObserver) ObserveDebuggerPacketReceived(core int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.debuggerCores = append(o.debuggerCores, core)
}

func (o *recordingObserver) ObserveP2SystemReboot() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reboots++
}

func (o *recordingObserver) ObserveRoutingError(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routingErrors = append(o.routingErrors, kind)
}

func TestReportRoutingErrorIncrementsCounterAndNotifiesObserver(t *testing.T) {
	p := pool.New()
	signal := make(chan uint32, 4)
	obs := &recordingObserver{}
	r := New(Config{Pool: p, Signal: signal, Observer: obs})

	r.ReportRoutingError("pool_exhausted")

	assert.Equal(t, uint64(1), r.RoutingErrors())
	assert.Equal(t, []string{"pool_exhausted"}, obs.routingErrors)
}

func TestDestinationReleaseFailureReportsRoutingError(t *testing.T) {
	p := pool.New()
	signal := make(chan uint32, 4)
	obs := &recordingObserver{}
	r := New(Config{Pool: p, Signal: signal, Observer: obs})

	sink := newDoubleReleaseSink()
	r.Register(tag.TerminalOutput, sink)

	id := publish(t, p, tag.TerminalOutput, "hi\n")
	signal <- id

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	assert.Equal(t, uint64(1), r.RoutingErrors())
	assert.Contains(t, obs.routingErrors, "destination_failure")
}

type doubleReleaseSink struct{}

func newDoubleReleaseSink() *doubleReleaseSink { return &doubleReleaseSink{} }

func (s *doubleReleaseSink) Name() string { return "double-release" }

// Deliver releases twice, forcing Pool.Release's double-release error path
// so the routing-error reporting around it can be exercised directly.
func (s *doubleReleaseSink) Deliver(msg interfaces.Message, release func()) {
	release()
	release()
}
