// Package reconnect wraps serial port reopen attempts in an exponential
// backoff loop, following the retry shape used against flaky streams
// elsewhere in the pack (see bird-adapter's reconnectStream).
package reconnect

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/parallax-p2/p2term-core/internal/constants"
	"github.com/parallax-p2/p2term-core/internal/interfaces"
)

// OpenFunc opens (or reopens) the serial port, returning the new handle.
type OpenFunc[T any] func() (T, error)

// Config tunes the backoff schedule. Zero values take the constants
// package defaults.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          interfaces.Logger
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = constants.ReconnectInitialBackoff
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = constants.ReconnectMaxBackoff
	}
	return c
}

// Open retries openFn with exponential backoff (doubling, capped at
// cfg.MaxInterval) until it succeeds or ctx is cancelled. onReconnect, if
// non-nil, is invoked after a successful (re)open that followed at least
// one failure — the caller uses this to treat the reopen as a reset
// boundary via ResetManager.NoteReconnect.
func Open[T any](ctx context.Context, cfg Config, openFn OpenFunc[T], onReconnect func()) (T, error) {
	cfg = cfg.withDefaults()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          2,
		MaxInterval:         cfg.MaxInterval,
	}
	b.Reset()

	var failed bool
	for {
		port, err := openFn()
		if err == nil {
			if failed && onReconnect != nil {
				onReconnect()
			}
			return port, nil
		}

		failed = true
		if cfg.Logger != nil {
			cfg.Logger.Warnw("serial reopen failed, retrying", "err", err)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			var zero T
			return zero, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
}
