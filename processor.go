// Package p2core wires the receive pipeline, message pool, framer, router,
// reset manager, debugger response generator, and USB traffic logger into
// the single Processor the host process drives: one owned struct with
// thread-safe accessors holding all per-core state, not a package-level
// singleton.
package p2core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parallax-p2/p2term-core/internal/constants"
	"github.com/parallax-p2/p2term-core/internal/framer"
	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/logging"
	"github.com/parallax-p2/p2term-core/internal/pool"
	"github.com/parallax-p2/p2term-core/internal/resetmgr"
	"github.com/parallax-p2/p2term-core/internal/response"
	"github.com/parallax-p2/p2term-core/internal/ring"
	"github.com/parallax-p2/p2term-core/internal/router"
	"github.com/parallax-p2/p2term-core/internal/tag"
	"github.com/parallax-p2/p2term-core/internal/usblog"
	"github.com/parallax-p2/p2term-core/internal/worker"
)

// SubtypeDebuggerFrame is the 0xDB protocol subtype Processor treats as a
// full 416-byte debugger frame (4-byte wire header + 412-byte payload).
// The numeric value is an internal convention (see DESIGN.md) rather than
// anything the wire protocol itself names.
const SubtypeDebuggerFrame byte = 0x01

// Config wires a Processor's collaborators and tunables. Unset durations
// and sizes fall back to internal/constants defaults.
type Config struct {
	RingCapacity int // must be a power of two; 0 uses constants.RingCapacity

	// ResponseWriter receives the 75-byte DebuggerResponse reply after each
	// full 416-byte debugger frame. Typically the same io.Writer used to
	// write outbound USB bytes (internal/serial.Port).
	ResponseWriter io.Writer

	// TrafficLog, if non-nil, receives the USBTrafficLogger hex/ASCII dump.
	TrafficLog io.Writer

	Logger  interfaces.Logger
	Metrics *Metrics // may be nil

	HistoryDepth int
	DrainTimeout time.Duration
	DrainGrace   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RingCapacity <= 0 {
		c.RingCapacity = constants.RingCapacity
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = constants.ResetHistoryDepth
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = constants.ResetDrainTimeout
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = constants.ResetDrainGrace
	}
	return c
}

// Stats is returned by Processor.Stats().
type Stats struct {
	Pool        PoolStats
	Router      RouterStats
	Reset       ResetStats
	Uptime      time.Duration
	Performance PerformanceStats
}

// PoolStats summarizes MessagePool overflow counters.
type PoolStats struct {
	SmallOverflows uint64
	LargeOverflows uint64
}

// RouterStats summarizes Router drain/error counters.
type RouterStats struct {
	InFlight      int64
	Dropped       uint64
	RoutingErrors uint64
}

// ResetStats summarizes ResetManager state.
type ResetStats struct {
	Synchronized bool
	SyncSource   string
	History      []resetmgr.Event
}

// Processor is the public entry point: it owns the ring, pool, framer,
// worker, router, reset manager, debugger response generator, and traffic
// logger, and exposes the receive/reset/routing/stats surface a host
// process drives.
type Processor struct {
	cfg Config

	ring     *ring.Buffer
	pool     *pool.Pool
	framer   *framer.Framer
	worker   *worker.Worker
	router   *router.Router
	resetMgr *resetmgr.Manager
	respGen  *response.Generator
	usbLog   *usblog.Logger

	signal chan uint32
	wake   chan struct{}

	startedAt time.Time

	mu     sync.Mutex
	eg     *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{}

	// Event sinks. Any may be left nil.
	OnBufferOverflow         func()
	OnResetDetected          func(resetmgr.Event)
	OnRotateLog              func(resetmgr.Event)
	OnDebuggerPacketReceived func([]byte)
	OnP2SystemReboot         func()
	OnRoutingError           func(kind string)
	OnSyncStatusChanged      func(source string)
}

// New constructs a Processor from cfg. It does not start any goroutines;
// call Start for that.
func New(cfg Config) *Processor {
	cfg = cfg.withDefaults()

	p := &Processor{
		cfg:    cfg,
		ring:   ring.New(cfg.RingCapacity),
		pool:   pool.New(),
		signal: make(chan uint32, constants.RouterSignalCapacity),
		wake:   make(chan struct{}, 1),
	}

	p.framer = framer.New(p.ring, p.onFramerSync)
	p.respGen = response.New()

	if cfg.TrafficLog != nil {
		p.usbLog = usblog.New(cfg.TrafficLog, 1024)
	}

	p.router = router.New(router.Config{
		Pool:     p.pool,
		Signal:   p.signal,
		Logger:   cfg.Logger,
		Observer: p,
	})

	p.worker = worker.New(worker.Config{
		Pool:               p.pool,
		Framer:             p.framer,
		Signal:             p.signal,
		Wake:               p.wake,
		Logger:             cfg.Logger,
		ReportRoutingError: p.router.ReportRoutingError,
	})

	p.resetMgr = resetmgr.New(resetmgr.Config{
		Drain:           p.router,
		Logger:          cfg.Logger,
		HistoryDepth:    cfg.HistoryDepth,
		DrainTimeout:    cfg.DrainTimeout,
		DrainGrace:      cfg.DrainGrace,
		OnResetDetected: p.onResetDetected,
		OnRotateLog:     p.onRotateLog,
		OnDrainTimeout:  p.onDrainTimeout,
	})

	p.router.Register(tag.DBPacket, &debuggerResponder{proc: p})

	return p
}

// Start launches the Worker and Router goroutines under one errgroup, so
// that any goroutine's unexpected error cancels the shared context. It
// returns an error if the Processor is already started; call Stop to shut
// down.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return fmt.Errorf("p2core: processor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg, runCtx := errgroup.WithContext(runCtx)
	p.cancel = cancel
	p.eg = eg
	p.done = make(chan struct{})
	p.startedAt = time.Now()
	p.mu.Unlock()

	eg.Go(func() error { return p.worker.Run(runCtx) })
	eg.Go(func() error { return p.router.Run(runCtx) })

	go func() {
		_ = eg.Wait()
		close(p.done)
	}()

	return nil
}

// Stop cancels the run context, waits on the errgroup to drain with a
// bounded timeout (non-fatal on expiry), and closes the traffic logger.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	drainCtx, drainCancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer drainCancel()

	select {
	case <-done:
	case <-drainCtx.Done():
		p.cfg.Logger.Warnw("processor stop: drain timeout", "timeout", p.cfg.DrainTimeout)
	}

	if p.usbLog != nil {
		p.usbLog.Close()
	}
	return nil
}

// ReceiveData is the entry point for USB reads: it copies data into the
// ring, taps a copy to the traffic logger, and wakes the Worker.
func (p *Processor) ReceiveData(data []byte) {
	_, dropped := p.ring.Write(data)
	if dropped > 0 {
		p.framerResyncOnOverflow()
		if p.OnBufferOverflow != nil {
			p.OnBufferOverflow()
		}
	}
	if p.usbLog != nil {
		p.usbLog.Log(usblog.Recv, data)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// framerResyncOnOverflow clears the Framer's synchronized belief after a
// ring overflow without touching any buffered bytes: classification
// continues to run unsynchronized until the next successful match.
func (p *Processor) framerResyncOnOverflow() {
	p.framer.ClearSync()
}

// WriteOut writes data to the configured ResponseWriter, tapping a copy to
// the traffic logger as an outbound record.
func (p *Processor) WriteOut(data []byte) (int, error) {
	if p.usbLog != nil {
		p.usbLog.Log(usblog.Send, data)
	}
	if p.cfg.ResponseWriter == nil {
		return 0, fmt.Errorf("p2core: no response writer configured")
	}
	return p.cfg.ResponseWriter.Write(data)
}

// OnDTRReset handles a DTR control-line transition: a reset boundary that
// resynchronizes the Framer and drains in-flight router work.
func (p *Processor) OnDTRReset(ctx context.Context) resetmgr.Event {
	p.framer.NoteReset("DTR")
	return p.resetMgr.OnDTRReset(ctx)
}

// OnRTSReset handles an RTS control-line transition the same way OnDTRReset
// handles DTR.
func (p *Processor) OnRTSReset(ctx context.Context) resetmgr.Event {
	p.framer.NoteReset("RTS")
	return p.resetMgr.OnRTSReset(ctx)
}

// NoteReconnect treats a successful serial reopen as a reset boundary.
func (p *Processor) NoteReconnect(ctx context.Context) resetmgr.Event {
	p.framer.NoteReset("RECONNECT")
	return p.resetMgr.NoteReconnect(ctx)
}

// RegisterDestination adds dest as a destination for t.
func (p *Processor) RegisterDestination(t tag.Tag, dest interfaces.Destination) {
	p.router.Register(t, dest)
}

// StandardRouting wires the default destination table: terminal text and
// INVALID_COG lines to a terminal sink, per-core COG_MESSAGE text to
// CogRouter, backtick commands to windowCreator, debugger snapshots to
// debuggerSink, and everything (when logger is non-nil) also to a
// LoggerSink for diagnostics. COG_MESSAGE text is not sent to the terminal
// sink.
type StandardRouting struct {
	Terminal      interfaces.Destination
	WindowCreator func(t tag.Tag) interfaces.Destination // for BACKTICK_*
	DebuggerSink  func(core int) interfaces.Destination  // for DEBUGGER_416{core}
	CogRouter     func(core int) interfaces.Destination  // for COG_MESSAGE{core}
	Logger        interfaces.Logger                      // if set, also registers a LoggerSink on every tag
}

// ApplyStandardRouting registers the standard destination table described
// by routing.
func (p *Processor) ApplyStandardRouting(routing StandardRouting) {
	all := []tag.Tag{
		tag.TerminalOutput, tag.InvalidCog,
		tag.CogMessage0, tag.CogMessage1, tag.CogMessage2, tag.CogMessage3,
		tag.CogMessage4, tag.CogMessage5, tag.CogMessage6, tag.CogMessage7,
		tag.Debugger4160, tag.Debugger4161, tag.Debugger4162, tag.Debugger4163,
		tag.Debugger4164, tag.Debugger4165, tag.Debugger4166, tag.Debugger4167,
		tag.BacktickLogic, tag.BacktickScope, tag.BacktickScopeXY, tag.BacktickFFT,
		tag.BacktickSpectro, tag.BacktickPlot, tag.BacktickTerm, tag.BacktickBitmap,
		tag.BacktickMIDI, tag.BacktickUpdate,
		tag.DBPacket, tag.P2SystemInit,
	}

	if routing.Terminal != nil {
		p.router.Register(tag.TerminalOutput, routing.Terminal)
		p.router.Register(tag.InvalidCog, routing.Terminal)
	}
	if routing.CogRouter != nil {
		for core, t := range []tag.Tag{
			tag.CogMessage0, tag.CogMessage1, tag.CogMessage2, tag.CogMessage3,
			tag.CogMessage4, tag.CogMessage5, tag.CogMessage6, tag.CogMessage7,
		} {
			p.router.Register(t, routing.CogRouter(core))
		}
	}
	if routing.DebuggerSink != nil {
		for core, t := range []tag.Tag{
			tag.Debugger4160, tag.Debugger4161, tag.Debugger4162, tag.Debugger4163,
			tag.Debugger4164, tag.Debugger4165, tag.Debugger4166, tag.Debugger4167,
		} {
			p.router.Register(t, routing.DebuggerSink(core))
		}
	}
	if routing.WindowCreator != nil {
		for _, t := range []tag.Tag{
			tag.BacktickLogic, tag.BacktickScope, tag.BacktickScopeXY, tag.BacktickFFT,
			tag.BacktickSpectro, tag.BacktickPlot, tag.BacktickTerm, tag.BacktickBitmap,
			tag.BacktickMIDI, tag.BacktickUpdate,
		} {
			p.router.Register(t, routing.WindowCreator(t))
		}
	}
	if routing.Logger != nil {
		for _, t := range all {
			p.router.Register(t, &LoggerSink{SinkName: "diagnostic-log", Logger: routing.Logger})
		}
	}
}

// Stats returns a point-in-time snapshot of pool, router, reset, uptime,
// and performance counters.
func (p *Processor) Stats() Stats {
	s := Stats{
		Pool: PoolStats{
			SmallOverflows: p.pool.SmallOverflows(),
			LargeOverflows: p.pool.LargeOverflows(),
		},
		Router: RouterStats{
			InFlight:      p.router.InFlight(),
			Dropped:       p.router.Dropped(),
			RoutingErrors: p.router.RoutingErrors(),
		},
		Reset: ResetStats{
			Synchronized: p.resetMgr.Synchronized(),
			SyncSource:   p.resetMgr.SyncSource(),
			History:      p.resetMgr.History(),
		},
	}
	if !p.startedAt.IsZero() {
		s.Uptime = time.Since(p.startedAt)
	}
	if p.cfg.Metrics != nil {
		s.Performance = p.cfg.Metrics.Snapshot()
	}
	return s
}

func (p *Processor) onFramerSync(source string) {
	if p.OnSyncStatusChanged != nil {
		p.OnSyncStatusChanged(source)
	}
}

func (p *Processor) onResetDetected(ev resetmgr.Event) {
	if p.OnResetDetected != nil {
		p.OnResetDetected(ev)
	}
	if p.OnSyncStatusChanged != nil {
		p.OnSyncStatusChanged(string(ev.Kind))
	}
}

func (p *Processor) onRotateLog(ev resetmgr.Event) {
	if p.OnRotateLog != nil {
		p.OnRotateLog(ev)
	}
}

func (p *Processor) onDrainTimeout(ev resetmgr.Event) {
	p.cfg.Logger.Warnw("reset drain timeout", "seq", ev.Seq, "kind", string(ev.Kind))
}

// ObserveMessageRouted implements interfaces.Observer.
func (p *Processor) ObserveMessageRouted(t tag.Tag) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveMessageRouted(t)
	}
}

// ObserveDebuggerPacketReceived implements interfaces.Observer. The event
// sink with the actual payload (OnDebuggerPacketReceived) is fired from
// debuggerResponder, which is the destination that actually holds the
// frame bytes; this hook only forwards the core index to Metrics.
func (p *Processor) ObserveDebuggerPacketReceived(core int) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveDebuggerPacketReceived(core)
	}
}

// ObserveP2SystemReboot implements interfaces.Observer.
func (p *Processor) ObserveP2SystemReboot() {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveP2SystemReboot()
	}
	if p.OnP2SystemReboot != nil {
		p.OnP2SystemReboot()
	}
}

// ObserveRoutingError implements interfaces.Observer.
func (p *Processor) ObserveRoutingError(kind string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveRoutingError(kind)
	}
	if p.OnRoutingError != nil {
		p.OnRoutingError(kind)
	}
}

// debuggerResponder is the internal destination that drives DebuggerResponse
// whenever a 0xDB packet carrying a full 416-byte debugger frame is routed.
// It is registered on tag.DBPacket for every Processor.
type debuggerResponder struct {
	proc *Processor
}

func (d *debuggerResponder) Name() string { return "debugger-response" }

func (d *debuggerResponder) Deliver(msg interfaces.Message, release func()) {
	defer release()

	if msg.Subtype != SubtypeDebuggerFrame {
		return
	}

	frame := make([]byte, 4+len(msg.Payload))
	frame[0] = 0xDB
	frame[1] = msg.Subtype
	frame[2] = byte(len(msg.Payload))
	frame[3] = byte(len(msg.Payload) >> 8)
	copy(frame[4:], msg.Payload)

	reply, ok := d.proc.respGen.Generate(frame)
	if !ok {
		d.proc.cfg.Logger.Warnw("short debugger frame, skipping response", "len", len(frame))
		return
	}

	if _, err := d.proc.WriteOut(reply); err != nil {
		d.proc.cfg.Logger.Errorw("failed writing debugger response", "err", err)
		d.proc.router.ReportRoutingError(string(KindDestinationFailure))
		return
	}

	if d.proc.OnDebuggerPacketReceived != nil {
		d.proc.OnDebuggerPacketReceived(frame)
	}
}

var _ interfaces.Destination = (*debuggerResponder)(nil)
var _ interfaces.Observer = (*Processor)(nil)
