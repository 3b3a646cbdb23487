// Package recording implements the .p2rec session recording header. The
// streaming body format that follows it is out of scope; only the header
// is read and written here. SessionID uses rs/xid for a
// lexically-sortable, timestamp-embedding identifier so recording and
// traffic-dump files can be named consistently without a central counter.
package recording

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/rs/xid"
)

// Magic identifies a .p2rec file.
var Magic = [4]byte{'P', '2', 'R', 'C'}

// Version is the header format version this package writes and expects.
const Version uint16 = 1

// Header is the fixed-size .p2rec session header. The streaming body
// format that follows it is out of scope.
type Header struct {
	Magic     [4]byte
	Version   uint16
	SessionID string
	StartedAt time.Time
	CoreCount uint8
}

// NewHeader constructs a Header for a new recording session with a fresh
// xid-generated SessionID and StartedAt set to now.
func NewHeader(coreCount uint8) Header {
	return Header{
		Magic:     Magic,
		Version:   Version,
		SessionID: xid.New().String(),
		StartedAt: time.Now(),
		CoreCount: coreCount,
	}
}

// WriteHeader serializes h to w: magic, version, core count, the start
// time as Unix nanoseconds, and a little-endian length-prefixed session
// ID — all fixed-width or length-prefixed fields so ReadHeader never
// guesses.
func WriteHeader(w io.Writer, h Header) error {
	if _, err := w.Write(h.Magic[:]); err != nil {
		return fmt.Errorf("recording: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.Version); err != nil {
		return fmt.Errorf("recording: write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.CoreCount); err != nil {
		return fmt.Errorf("recording: write core count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int64(h.StartedAt.UnixNano())); err != nil {
		return fmt.Errorf("recording: write start time: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(h.SessionID))); err != nil {
		return fmt.Errorf("recording: write session id length: %w", err)
	}
	if _, err := io.WriteString(w, h.SessionID); err != nil {
		return fmt.Errorf("recording: write session id: %w", err)
	}
	return nil
}

// ReadHeader deserializes a Header from r and validates the magic and
// version fields.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		return Header{}, fmt.Errorf("recording: read magic: %w", err)
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("recording: bad magic %q", h.Magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return Header{}, fmt.Errorf("recording: read version: %w", err)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("recording: unsupported version %d", h.Version)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.CoreCount); err != nil {
		return Header{}, fmt.Errorf("recording: read core count: %w", err)
	}
	var startNano int64
	if err := binary.Read(r, binary.LittleEndian, &startNano); err != nil {
		return Header{}, fmt.Errorf("recording: read start time: %w", err)
	}
	h.StartedAt = time.Unix(0, startNano).UTC()

	var idLen uint16
	if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
		return Header{}, fmt.Errorf("recording: read session id length: %w", err)
	}
	idBuf := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBuf); err != nil {
		return Header{}, fmt.Errorf("recording: read session id: %w", err)
	}
	h.SessionID = string(idBuf)

	return h, nil
}
