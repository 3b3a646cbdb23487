package usblog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFormatsHeaderAndHexDump(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 8)

	l.Log(Recv, []byte("Hello\n"))
	l.Close()

	output := buf.String()
	assert.Contains(t, output, "[USB RECV ")
	assert.Contains(t, output, "6 bytes")
	assert.Contains(t, output, "48 65 6C 6C 6F 0A")
	assert.Contains(t, output, "Hello.")
	assert.Contains(t, output, "[USB session closed ")
}

func TestSixteenBytesPerLineWithDoubleSpaceAfterByteEight(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 8)

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	l.Log(Send, data)
	l.Close()

	lines := strings.Split(buf.String(), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected a header line plus two dump lines, got %d lines", len(lines))
	}

	first := lines[1]
	// byte index 7 (the 8th byte, "07") should be followed by a double
	// space before byte index 8 ("08").
	assert.Contains(t, first, "07  08")
}

func TestLogNeverBlocksWhenChannelIsFull(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.Log(Recv, []byte{byte(i)})
		}
		close(done)
	}()

	<-done // the goroutine must complete promptly; Log never blocks on a full channel
	l.Close()
}
