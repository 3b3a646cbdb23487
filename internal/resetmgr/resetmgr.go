// Package resetmgr implements the ResetManager: observes DTR/RTS control
// line transitions (or a reconnect), marks a logical boundary, and drains
// in-flight router work before signaling a log rotation.
package resetmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parallax-p2/p2term-core/internal/constants"
	"github.com/parallax-p2/p2term-core/internal/interfaces"
)

// Kind identifies what triggered a reset boundary.
type Kind string

const (
	KindDTR       Kind = "DTR"
	KindRTS       Kind = "RTS"
	KindReconnect Kind = "RECONNECT"
)

// Event is a Reset Event: a monotonically sequenced boundary marker.
type Event struct {
	Kind Kind
	At   time.Time
	Seq  uint64
}

// InFlightCounter is the narrow view of the Router the drain barrier
// polls.
type InFlightCounter interface {
	InFlight() int64
}

// Config wires a Manager's collaborators and tunables.
type Config struct {
	Drain           InFlightCounter
	Logger          interfaces.Logger
	HistoryDepth    int
	DrainTimeout    time.Duration
	DrainGrace      time.Duration
	OnResetDetected func(Event)
	OnRotateLog     func(Event)
	OnDrainTimeout  func(Event)
}

// Manager is the ResetManager.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	seq     uint64
	history []Event

	synchronized atomic.Bool
	syncSource   atomic.Value
}

// New constructs a Manager, defaulting tunables from internal/constants.
func New(cfg Config) *Manager {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = constants.ResetHistoryDepth
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = constants.ResetDrainTimeout
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = constants.ResetDrainGrace
	}
	m := &Manager{cfg: cfg}
	m.syncSource.Store("")
	return m
}

// Synchronized reports whether a reset (or any other boundary) has put
// the Manager's belief about target state into a known-good condition.
func (m *Manager) Synchronized() bool { return m.synchronized.Load() }

// SyncSource returns what last set Synchronized, or "" if never set.
func (m *Manager) SyncSource() string {
	s, _ := m.syncSource.Load().(string)
	return s
}

// History returns a copy of the retained reset markers, oldest first.
func (m *Manager) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// OnDTRReset handles a DTR transition.
func (m *Manager) OnDTRReset(ctx context.Context) Event { return m.handleReset(ctx, KindDTR) }

// OnRTSReset handles an RTS transition.
func (m *Manager) OnRTSReset(ctx context.Context) Event { return m.handleReset(ctx, KindRTS) }

// NoteReconnect treats a successful serial reopen as a reset boundary:
// the target is assumed to have restarted.
func (m *Manager) NoteReconnect(ctx context.Context) Event {
	return m.handleReset(ctx, KindReconnect)
}

func (m *Manager) handleReset(ctx context.Context, kind Kind) Event {
	m.mu.Lock()
	m.seq++
	ev := Event{Kind: kind, At: time.Now(), Seq: m.seq}
	m.history = append(m.history, ev)
	if len(m.history) > m.cfg.HistoryDepth {
		m.history = m.history[len(m.history)-m.cfg.HistoryDepth:]
	}
	m.mu.Unlock()

	m.synchronized.Store(true)
	m.syncSource.Store(string(kind))

	if m.cfg.OnResetDetected != nil {
		m.cfg.OnResetDetected(ev)
	}

	m.drain(ctx, ev)
	return ev
}

func (m *Manager) drain(ctx context.Context, ev Event) {
	if m.cfg.Drain != nil {
		deadline := time.Now().Add(m.cfg.DrainTimeout)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()

	drainLoop:
		for m.cfg.Drain.InFlight() > 0 {
			if time.Now().After(deadline) {
				if m.cfg.Logger != nil {
					m.cfg.Logger.Warnw("drain timeout", "seq", ev.Seq, "kind", string(ev.Kind))
				}
				if m.cfg.OnDrainTimeout != nil {
					m.cfg.OnDrainTimeout(ev)
				}
				break drainLoop
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.DrainGrace):
	}

	if m.cfg.OnRotateLog != nil {
		m.cfg.OnRotateLog(ev)
	}
}
