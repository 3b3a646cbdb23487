// Package interfaces provides internal interface definitions shared by
// router and the root p2core package. Kept separate to avoid an import
// cycle between the root package (which wires everything together) and
// internal/router (which only needs to call destinations).
package interfaces

import (
	"time"

	"github.com/parallax-p2/p2term-core/internal/tag"
)

// Message is the logical read-only view a destination receives: the
// payload view must not be mutated and must not be retained past Release.
type Message struct {
	Tag       tag.Tag
	Payload   []byte
	Timestamp time.Time
	Subtype   byte
}

// Destination is a capability object the Router hands messages to. It
// must call Release exactly once when it is done consuming Payload.
type Destination interface {
	Deliver(msg Message, release func())
	Name() string
}

// Logger is the leveled, structured logging surface every component
// depends on, satisfied by internal/logging.Logger.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Observer receives routing telemetry; implementations must be
// thread-safe. The Router calls them from its dispatch goroutine, but
// ObserveRoutingError is also reached from the Worker goroutine through
// Router.ReportRoutingError, and the Processor may read aggregated stats
// concurrently.
type Observer interface {
	ObserveMessageRouted(t tag.Tag)
	ObserveDebuggerPacketReceived(core int)
	ObserveP2SystemReboot()
	ObserveRoutingError(kind string)
}
