// Command p2term-host is the minimal host process entrypoint: it opens a
// P2 USB-serial connection, wires a Processor with the standard terminal/
// log routing, and runs until interrupted. Rich CLI UX (subcommands,
// config files) is out of scope; this is the thin ambient wiring a real
// GUI host would embed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	p2core "github.com/parallax-p2/p2term-core"
	"github.com/parallax-p2/p2term-core/internal/constants"
	"github.com/parallax-p2/p2term-core/internal/interfaces"
	"github.com/parallax-p2/p2term-core/internal/logging"
	"github.com/parallax-p2/p2term-core/internal/reconnect"
	"github.com/parallax-p2/p2term-core/internal/resetmgr"
	"github.com/parallax-p2/p2term-core/internal/serial"
)

func main() {
	var (
		device  = flag.String("device", "/dev/ttyUSB0", "USB-serial device path")
		baud    = flag.Int("baud", 2_000_000, "Serial baud rate")
		verbose = flag.Bool("v", false, "Verbose (debug-level) logging")
		jsonLog = flag.Bool("json", false, "JSON log output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logConfig.JSON = *jsonLog
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// proc is assigned below, after the first successful open. onReconnect
	// fires inside this Open call when the open succeeds after at least one
	// failed attempt; proc is still nil then, so the guard makes it a no-op.
	// This entrypoint does not reopen the port after it is lost.
	var proc *p2core.Processor
	port, err := reconnect.Open(ctx, reconnect.Config{Logger: logger}, func() (*serial.Port, error) {
		return serial.Open(*device, *baud)
	}, func() {
		if proc != nil {
			proc.NoteReconnect(ctx)
		}
	})
	if err != nil {
		logger.Errorw("failed to open serial port", "device", *device, "err", err)
		os.Exit(1)
	}
	defer port.Close()

	metrics := p2core.NewMetrics()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Warnw("metrics registration failed", "err", err)
	}

	proc = p2core.New(p2core.Config{
		ResponseWriter: port,
		Logger:         logger,
		Metrics:        metrics,
	})

	proc.OnBufferOverflow = func() {
		logger.Warnw("ring buffer overflow, dropping oldest bytes")
	}
	proc.OnResetDetected = func(ev resetmgr.Event) {
		logger.Infow("reset detected", "kind", string(ev.Kind), "seq", ev.Seq)
	}
	proc.OnRotateLog = func(ev resetmgr.Event) {
		logger.Infow("rotating traffic log", "seq", ev.Seq)
	}
	proc.OnSyncStatusChanged = func(source string) {
		logger.Infow("framer synchronized", "source", source)
	}
	proc.OnP2SystemReboot = func() {
		logger.Infow("P2 system reboot observed")
	}
	proc.OnRoutingError = func(kind string) {
		logger.Warnw("routing error", "kind", kind)
	}
	proc.OnDebuggerPacketReceived = func(frame []byte) {
		logger.Debugw("debugger response sent", "frame_len", len(frame))
	}

	proc.ApplyStandardRouting(p2core.StandardRouting{
		Terminal: &p2core.TerminalSink{
			SinkName: "stdout",
			Deliver_: func(msg interfaces.Message, release func()) {
				defer release()
				os.Stdout.Write(msg.Payload)
			},
		},
		Logger: logger,
	})

	if err := proc.Start(ctx); err != nil {
		logger.Errorw("failed to start processor", "err", err)
		os.Exit(1)
	}

	go watchControlLines(ctx, port, proc, logger)
	go pumpSerialInput(ctx, port, proc, logger)

	<-ctx.Done()
	logger.Infow("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), constants.ResetDrainTimeout+time.Second)
	defer cancel()
	if err := proc.Stop(stopCtx); err != nil {
		logger.Errorw("processor stop error", "err", err)
	}
}

func pumpSerialInput(ctx context.Context, port *serial.Port, proc *p2core.Processor, logger *logging.Logger) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := port.Read(buf)
		if n > 0 {
			proc.ReceiveData(buf[:n])
		}
		if err != nil {
			logger.Warnw("serial read error", "err", err)
			return
		}
	}
}

func watchControlLines(ctx context.Context, port *serial.Port, proc *p2core.Processor, logger *logging.Logger) {
	events := port.WatchControlLines(ctx, constants.ControlLinePollInterval)
	for ev := range events {
		switch ev.Kind {
		case serial.KindDTR:
			proc.OnDTRReset(ctx)
		case serial.KindRTS:
			proc.OnRTSReset(ctx)
		}
		logger.Infow("control line transition", "kind", fmt.Sprint(ev.Kind), "at", ev.At)
	}
}
