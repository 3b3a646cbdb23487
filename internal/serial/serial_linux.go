//go:build linux

// Package serial implements SerialPort: a thin termios/ioctl wrapper
// around a USB-serial tty, grounded in the goserial reference package's
// raw-mode configuration and modem-line handling.
package serial

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Kind identifies which modem control line transitioned.
type Kind string

const (
	KindDTR Kind = "DTR"
	KindRTS Kind = "RTS"
)

// ControlEvent reports a DTR/RTS transition observed by WatchControlLines.
type ControlEvent struct {
	Kind Kind
	At   time.Time
}

// ModemLines is the subset of TIOCMGET bits Processor cares about.
type ModemLines struct {
	DTR bool
	RTS bool
	CTS bool
	DSR bool
}

// Port is an open USB-serial tty configured for raw 8N1 use.
type Port struct {
	f *os.File
}

// Open configures path for raw-mode, 8N1, no-echo operation at baud and
// returns a Port ready for Read/Write.
func Open(path string, baud int) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	speed, err := baudToSpeed(baud)
	if err != nil {
		f.Close()
		return nil, err
	}

	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	makeRaw(t)
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	// Clear O_NONBLOCK now that the tty is configured; Read/Write block
	// normally from here on, matching the io.ReadWriter contract.
	flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFL, 0)
	if err == nil {
		unix.FcntlInt(f.Fd(), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}

	return &Port{f: f}, nil
}

// makeRaw clears the termios flags that would enable canonical mode,
// echoing, signal generation, or output post-processing, following the
// goserial reference's MakeRaw.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
}

func baudToSpeed(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	case 2000000:
		return unix.B2000000, nil
	default:
		return 0, fmt.Errorf("serial: unsupported baud rate %d", baud)
	}
}

// Read satisfies io.Reader.
func (p *Port) Read(buf []byte) (int, error) {
	return p.f.Read(buf)
}

// Write satisfies io.Writer.
func (p *Port) Write(buf []byte) (int, error) {
	return p.f.Write(buf)
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error {
	return p.f.Close()
}

// ModemLines reads the current DTR/RTS/CTS/DSR state via TIOCMGET.
func (p *Port) ModemLines() (ModemLines, error) {
	bits, err := unix.IoctlGetInt(int(p.f.Fd()), unix.TIOCMGET)
	if err != nil {
		return ModemLines{}, fmt.Errorf("serial: get modem lines: %w", err)
	}
	return ModemLines{
		DTR: bits&unix.TIOCM_DTR != 0,
		RTS: bits&unix.TIOCM_RTS != 0,
		CTS: bits&unix.TIOCM_CTS != 0,
		DSR: bits&unix.TIOCM_DSR != 0,
	}, nil
}

// WatchControlLines polls TIOCMGET at interval and emits a ControlEvent
// on every observed DTR or RTS transition. USB-serial adapters rarely
// deliver a kernel signal for these edges, so polling is the only
// portable option. The returned channel is closed when ctx is done.
func (p *Port) WatchControlLines(ctx context.Context, interval time.Duration) <-chan ControlEvent {
	out := make(chan ControlEvent, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev, err := p.ModemLines()
		if err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := p.ModemLines()
				if err != nil {
					continue
				}
				if cur.DTR != prev.DTR {
					out <- ControlEvent{Kind: KindDTR, At: time.Now()}
				}
				if cur.RTS != prev.RTS {
					out <- ControlEvent{Kind: KindRTS, At: time.Now()}
				}
				prev = cur
			}
		}
	}()
	return out
}
