// Package router implements the Router: single-threaded fan-out from
// pool slot ids to registered destinations by message tag.
package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/pool"
	"github.com/parallax-p2/p2term-core/internal/tag"
)

// Config wires a Router's collaborators.
type Config struct {
	Pool     *pool.Pool
	Signal   <-chan uint32
	Logger   interfaces.Logger
	Observer interfaces.Observer // may be nil
}

// Router holds the destination table and processes poolIds off Signal.
type Router struct {
	cfg Config

	mu    sync.RWMutex
	table map[tag.Tag][]interfaces.Destination

	inFlight   atomic.Int64
	dropped    atomic.Uint64
	routingErr atomic.Uint64
}

// New constructs a Router from cfg.
func New(cfg Config) *Router {
	return &Router{cfg: cfg, table: make(map[tag.Tag][]interfaces.Destination)}
}

// Register adds dest as a destination for t. Order of registration is
// the order destinations are delivered to.
func (r *Router) Register(t tag.Tag, dest interfaces.Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[t] = append(r.table[t], dest)
}

// Unregister removes dest (by Name) from t's destination list.
func (r *Router) Unregister(t tag.Tag, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.table[t]
	out := list[:0]
	for _, d := range list {
		if d.Name() != name {
			out = append(out, d)
		}
	}
	r.table[t] = out
}

// InFlight returns the number of messages currently published but not
// yet fully released by every destination — the count ResetManager polls
// during drain.
func (r *Router) InFlight() int64 { return r.inFlight.Load() }

// Dropped returns the count of messages released immediately because no
// destination was registered for their tag.
func (r *Router) Dropped() uint64 { return r.dropped.Load() }

// RoutingErrors returns the count of routing errors reported through
// ReportRoutingError: destination release failures Router detects itself,
// plus drops and write failures reported by collaborators.
func (r *Router) RoutingErrors() uint64 { return r.routingErr.Load() }

// ReportRoutingError increments the routing-error counter and forwards
// kind to the Observer, if any. Exposed so collaborators upstream of the
// destination table — the Worker dropping a message before it ever
// reaches Router, for instance — account against the same counter and
// Observer callback as failures Router detects itself.
func (r *Router) ReportRoutingError(kind string) {
	r.routingErr.Add(1)
	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveRoutingError(kind)
	}
}

// Run blocks consuming poolIds from Signal until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-r.cfg.Signal:
			if !ok {
				return nil
			}
			r.process(id)
		}
	}
}

func (r *Router) process(id uint32) {
	t := r.cfg.Pool.MessageType(id)

	r.mu.RLock()
	dests := r.table[t]
	r.mu.RUnlock()

	if len(dests) == 0 {
		r.cfg.Pool.Release(id)
		r.dropped.Add(1)
		return
	}

	if len(dests) > 1 {
		r.cfg.Pool.Increment(id, len(dests)-1)
	}

	h := r.cfg.Pool.Get(id)
	msg := interfaces.Message{
		Tag:       t,
		Payload:   h.ReadPayload(),
		Timestamp: time.Now(),
		Subtype:   h.ReadSubtype(),
	}

	r.inFlight.Add(1)
	for _, d := range dests {
		d.Deliver(msg, func() {
			freed, err := r.cfg.Pool.Release(id)
			if err != nil {
				if r.cfg.Logger != nil {
					r.cfg.Logger.Errorw("destination release failed", "dest", d.Name(), "err", err)
				}
				r.ReportRoutingError("destination_failure")
			}
			if freed {
				r.inFlight.Add(-1)
			}
		})
	}

	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveMessageRouted(t)
		if core, ok := tag.IsDebugger416(t); ok {
			r.cfg.Observer.ObserveDebuggerPacketReceived(core)
		}
		if t == tag.P2SystemInit {
			r.cfg.Observer.ObserveP2SystemReboot()
		}
	}
}
