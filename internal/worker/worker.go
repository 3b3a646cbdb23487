// Package worker implements the Worker: the goroutine that drives the
// Framer off the ring, stamps MessagePool slots, and hands slot ids to
// the Router over a bounded signal channel.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/parallax-p2/p2term-core/internal/constants"
	"github.com/parallax-p2/p2term-core/internal/framer"
	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/pool"
)

// Config wires a Worker's collaborators. Signal is the bounded MPSC
// channel of poolIds consumed by the Router; the Worker is its only
// producer. Framer already owns the ring it reads from.
type Config struct {
	Pool    *pool.Pool
	Framer  *framer.Framer
	Signal  chan<- uint32
	Wake    <-chan struct{}
	Logger  interfaces.Logger
	PollFor time.Duration // overrides constants.WorkerPollTimeout in tests

	// ReportRoutingError, if non-nil, is called whenever the Worker drops a
	// message before it ever reaches Router — pool exhaustion or a full
	// Router signal channel — so those drops count against the same
	// routing-error accounting a destination delivery failure does.
	ReportRoutingError func(kind string)
}

// Worker runs the Framer against the ring on a dedicated goroutine.
type Worker struct {
	cfg     Config
	dropped atomic.Uint64
}

// New constructs a Worker from cfg.
func New(cfg Config) *Worker {
	if cfg.PollFor == 0 {
		cfg.PollFor = constants.WorkerPollTimeout
	}
	return &Worker{cfg: cfg}
}

// Dropped returns the cumulative count of messages dropped because the
// Router signal was full even after the brief spin.
func (w *Worker) Dropped() uint64 { return w.dropped.Load() }

// Run blocks until ctx is cancelled, repeatedly draining the Framer. On
// cancellation it drains the ring one last time before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drainOnce()
			return ctx.Err()
		case <-w.cfg.Wake:
		case <-time.After(w.cfg.PollFor):
		}
		w.drainOnce()
	}
}

func (w *Worker) drainOnce() {
	for {
		msg, ok := w.cfg.Framer.Next()
		if !ok {
			return
		}
		w.publish(msg)
	}
}

func (w *Worker) publish(msg *framer.Message) {
	id, err := w.cfg.Pool.Acquire(len(msg.Payload))
	if err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Warnw("pool exhausted, dropping message", "tag", msg.Tag.String(), "err", err)
		}
		if w.cfg.ReportRoutingError != nil {
			w.cfg.ReportRoutingError("pool_exhausted")
		}
		return
	}

	h := w.cfg.Pool.Get(id)
	h.WriteTag(msg.Tag)
	h.WriteLength(len(msg.Payload))
	h.WritePayload(msg.Payload)
	h.WriteSubtype(msg.Subtype)

	if w.trySend(id) {
		return
	}

	deadline := time.Now().Add(constants.RouterSignalFullSpin)
	for time.Now().Before(deadline) {
		if w.trySend(id) {
			return
		}
	}

	w.cfg.Pool.Release(id)
	w.dropped.Add(1)
	if w.cfg.Logger != nil {
		w.cfg.Logger.Warnw("router signal full, dropping message", "tag", msg.Tag.String())
	}
	if w.cfg.ReportRoutingError != nil {
		w.cfg.ReportRoutingError("router_signal_full")
	}
}

func (w *Worker) trySend(id uint32) bool {
	select {
	case w.cfg.Signal <- id:
		return true
	default:
		return false
	}
}
